package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBaseURL = "https://api.openweathermap.org/data/2.5"
	maxRetries     = 2
	retryBackoff   = 500 * time.Millisecond
	forecastDays   = 5
)

// OpenWeather implements Gateway against the OpenWeatherMap API.
// All requests share one circuit breaker; transient failures are retried
// with a short backoff before being surfaced as ErrTransient.
type OpenWeather struct {
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewOpenWeather builds a client. Requests are bounded by the given timeout.
func NewOpenWeather(apiKey string, timeout time.Duration) *OpenWeather {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
		circuit: cb,
	}
}

// currentPayload mirrors the fields we read from /weather.
type currentPayload struct {
	Cod  any    `json:"cod"` // the API returns a number here, /forecast a string
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []weatherItem `json:"weather"`
}

type weatherItem struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type forecastPayload struct {
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
	List []forecastItem `json:"list"`
}

type forecastItem struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []weatherItem `json:"weather"`
	Rain    struct {
		ThreeH float64 `json:"3h"`
	} `json:"rain"`
	Snow struct {
		ThreeH float64 `json:"3h"`
	} `json:"snow"`
}

// CurrentAndForecast queries current conditions and the 5-day forecast.
func (g *OpenWeather) CurrentAndForecast(ctx context.Context, city string) (*Summary, error) {
	var cur currentPayload
	if err := g.get(ctx, "/weather", cityQuery(city, 0), &cur); err != nil {
		return nil, err
	}
	sum := summaryFromCurrent(cur)

	var fc forecastPayload
	if err := g.get(ctx, "/forecast", cityQuery(city, 40), &fc); err != nil {
		return nil, err
	}
	sum.Days = groupByDay(fc.List)
	return sum, nil
}

// CurrentByCoords queries current conditions for a shared device location.
func (g *OpenWeather) CurrentByCoords(ctx context.Context, lat, lon float64) (*Summary, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	var cur currentPayload
	if err := g.get(ctx, "/weather", q, &cur); err != nil {
		return nil, err
	}
	return summaryFromCurrent(cur), nil
}

func summaryFromCurrent(cur currentPayload) *Summary {
	sum := &Summary{
		City:        cur.Name,
		Country:     cur.Sys.Country,
		TempC:       cur.Main.Temp,
		HumidityPct: cur.Main.Humidity,
		WindSpeedMS: cur.Wind.Speed,
	}
	if len(cur.Weather) > 0 {
		sum.Description = cur.Weather[0].Description
		sum.Condition = mapCondition(cur.Weather[0].Main)
	} else {
		sum.Condition = ConditionUnknown
	}
	return sum
}

// NearTerm returns the forecast intervals covering the next `hours` hours.
// The provider publishes 3-hour steps.
func (g *OpenWeather) NearTerm(ctx context.Context, city string, hours int) ([]HourlyCondition, error) {
	if hours <= 0 {
		hours = 3
	}
	n := (hours + 2) / 3
	var fc forecastPayload
	if err := g.get(ctx, "/forecast", cityQuery(city, n), &fc); err != nil {
		return nil, err
	}
	if len(fc.List) > n {
		fc.List = fc.List[:n]
	}

	out := make([]HourlyCondition, 0, len(fc.List))
	for _, it := range fc.List {
		h := HourlyCondition{
			At:       time.Unix(it.Dt, 0).UTC(),
			TempC:    it.Main.Temp,
			PrecipMm: it.Rain.ThreeH + it.Snow.ThreeH,
		}
		if len(it.Weather) > 0 {
			h.Description = it.Weather[0].Description
			h.Condition = mapCondition(it.Weather[0].Main)
		} else {
			h.Condition = ConditionUnknown
		}
		out = append(out, h)
	}
	return out, nil
}

func cityQuery(city string, cnt int) url.Values {
	q := url.Values{}
	q.Set("q", city)
	if cnt > 0 {
		q.Set("cnt", strconv.Itoa(cnt))
	}
	return q
}

// get performs one API call with retries and the shared circuit breaker,
// decoding the body into dst. Credentials and units are added here.
func (g *OpenWeather) get(ctx context.Context, path string, values url.Values, dst any) error {
	values.Set("appid", g.apiKey)
	values.Set("units", "metric")
	reqURL := g.baseURL + path + "?" + values.Encode()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}

		err := g.once(ctx, reqURL, dst)
		if err == nil {
			return nil
		}
		lastErr = err

		// Only transient failures are worth another attempt.
		if !isTransient(err) || attempt >= maxRetries {
			return lastErr
		}

		timer := time.NewTimer(retryBackoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-timer.C:
		}
	}
}

func (g *OpenWeather) once(ctx context.Context, reqURL string, dst any) error {
	_, err := g.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrCityNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformed, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrTransient)
	}
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func mapCondition(main string) Condition {
	switch main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm":
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}

// groupByDay folds 3h forecast intervals into per-day min/max summaries,
// capped at forecastDays. The dominant description of the day wins.
func groupByDay(items []forecastItem) []DaySummary {
	type dayAgg struct {
		min, max float64
		descs    map[string]int
	}
	byDay := map[time.Time]*dayAgg{}
	var order []time.Time

	for _, it := range items {
		ts := time.Unix(it.Dt, 0).UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		agg, ok := byDay[day]
		if !ok {
			agg = &dayAgg{min: it.Main.Temp, max: it.Main.Temp, descs: map[string]int{}}
			byDay[day] = agg
			order = append(order, day)
		}
		if it.Main.Temp < agg.min {
			agg.min = it.Main.Temp
		}
		if it.Main.Temp > agg.max {
			agg.max = it.Main.Temp
		}
		if len(it.Weather) > 0 {
			agg.descs[it.Weather[0].Description]++
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	if len(order) > forecastDays {
		order = order[:forecastDays]
	}

	out := make([]DaySummary, 0, len(order))
	for _, day := range order {
		agg := byDay[day]
		best, bestN := "", -1
		for d, n := range agg.descs {
			if n > bestN || (n == bestN && d < best) {
				best, bestN = d, n
			}
		}
		out = append(out, DaySummary{Date: day, MinC: agg.min, MaxC: agg.max, Description: best})
	}
	return out
}
