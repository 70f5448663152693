package weather

import (
	"context"
	"errors"
	"time"
)

// Condition is a coarse weather classification shared by all summaries.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
)

// Wet reports whether the condition implies precipitation.
func (c Condition) Wet() bool {
	return c == ConditionRain || c == ConditionSnow || c == ConditionStorm
}

// Typed provider failures. Callers branch with errors.Is: not-found is a
// content error shown to the user and never retried; transient failures are
// retried or skipped depending on the caller.
var (
	ErrCityNotFound = errors.New("city not found")
	ErrTransient    = errors.New("transient provider error")
	ErrMalformed    = errors.New("malformed provider response")
)

// Summary holds current conditions plus a daily forecast for a city.
type Summary struct {
	City        string
	Country     string
	TempC       float64
	Description string
	HumidityPct float64
	WindSpeedMS float64
	Condition   Condition
	Days        []DaySummary
}

// DaySummary is one forecast day aggregated from the provider's 3h intervals.
type DaySummary struct {
	Date        time.Time // midnight UTC of the forecast day
	MinC        float64
	MaxC        float64
	Description string
}

// HourlyCondition is a single near-term forecast interval.
type HourlyCondition struct {
	At          time.Time
	TempC       float64
	Description string
	Condition   Condition
	PrecipMm    float64
}

// Gateway issues weather queries against an external provider.
type Gateway interface {
	// CurrentAndForecast returns current conditions and the multi-day
	// forecast for a free-text city name.
	CurrentAndForecast(ctx context.Context, city string) (*Summary, error)
	// CurrentByCoords returns current conditions for a lat/lon pair, as
	// shared from a device location. No forecast days are included.
	CurrentByCoords(ctx context.Context, lat, lon float64) (*Summary, error)
	// NearTerm returns forecast intervals covering roughly the next
	// `hours` hours.
	NearTerm(ctx context.Context, city string, hours int) ([]HourlyCondition, error)
}
