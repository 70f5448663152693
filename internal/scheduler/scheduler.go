package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/domain"
	"github.com/ivchenkov/meteobot/internal/store"
	"github.com/ivchenkov/meteobot/internal/weather"
)

// Sender is the minimal interface the scheduler needs to deliver a text
// message. telegram.Router implements it.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Scheduler owns every live recurring job. Timers are keyed strictly by
// subscription id: an owner may hold several subscriptions to the same city,
// and re-subscribing must replace exactly one timer.
type Scheduler struct {
	cron         *cron.Cron
	repo         store.Repo
	gateway      weather.Gateway
	sender       Sender
	rain         *RainWatch
	log          *zap.Logger
	rainInterval time.Duration
	fireTimeout  time.Duration

	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
}

// entry pairs a cron handle with the generation it was armed under. A fire
// re-checks its generation first, so a cancelled or replaced timer can never
// deliver after Cancel/Reconcile has returned.
type entry struct {
	id  cron.EntryID
	gen uint64
}

// New builds a stopped scheduler. loc is the canonical timezone every daily
// fire time is interpreted in; rainInterval is the fixed rain-watch period;
// fireTimeout bounds one fire end to end.
func New(repo store.Repo, gateway weather.Gateway, sender Sender, log *zap.Logger, loc *time.Location, rainInterval, suppression, fireTimeout time.Duration) *Scheduler {
	if fireTimeout <= 0 {
		fireTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:         cron.New(cron.WithLocation(loc)),
		repo:         repo,
		gateway:      gateway,
		sender:       sender,
		rain:         NewRainWatch(gateway, sender, log, suppression),
		log:          log,
		rainInterval: rainInterval,
		fireTimeout:  fireTimeout,
		entries:      make(map[string]entry),
	}
}

// Start begins dispatching fires. Call after Rehydrate has completed.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatch and waits for in-flight fires to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Rehydrate reads every active subscription and reconciles it. It must run
// exactly once at process start, before any conversation input is accepted;
// a store failure here aborts startup rather than running with a partial
// job set.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	subs, err := s.repo.ListAllActive(ctx)
	if err != nil {
		return fmt.Errorf("list active subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := s.Reconcile(sub); err != nil {
			// A single bad record must not block the rest of the job set.
			s.log.Error("rehydrate: reconcile failed",
				zap.String("subscription", sub.ID), zap.Error(err))
		}
	}
	s.log.Info("rehydrated scheduled jobs", zap.Int("count", s.Jobs()))
	return nil
}

// Reconcile makes the live timer state for a subscription match its
// definition: any existing timer for the id is removed first, then a fresh
// one is armed if the subscription is active. Idempotent. The whole
// replace-then-arm sequence holds the scheduler lock, so a fire cannot slip
// between removal and re-arm.
func (s *Scheduler) Reconcile(sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[sub.ID]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, sub.ID)
	}
	if !sub.Active {
		s.rain.Forget(sub.ID)
		return nil
	}

	s.gen++
	gen := s.gen

	var spec string
	var run func(context.Context)
	switch sub.Kind {
	case domain.KindDailyForecast:
		spec = dailySpec(sub)
		run = func(ctx context.Context) { s.sendDailyForecast(ctx, sub) }
	case domain.KindRainWatch:
		spec = "@every " + s.rainInterval.String()
		run = func(ctx context.Context) { s.rain.Evaluate(ctx, sub) }
	default:
		return fmt.Errorf("unknown subscription kind: %q", sub.Kind)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if !s.live(sub.ID, gen) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
		defer cancel()
		run(ctx)
	})
	if err != nil {
		return fmt.Errorf("arm timer for %s: %w", sub.ID, err)
	}
	s.entries[sub.ID] = entry{id: id, gen: gen}
	return nil
}

// Cancel removes the timer keyed by the subscription id. Unknown ids are a
// no-op; idempotence takes priority over strictness here.
func (s *Scheduler) Cancel(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[subscriptionID]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, subscriptionID)
	}
	s.rain.Forget(subscriptionID)
}

// Jobs reports the number of live timers.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Has reports whether a timer exists for the subscription id.
func (s *Scheduler) Has(subscriptionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[subscriptionID]
	return ok
}

// live reports whether the given generation is still the armed one for the
// id. Cron dispatches each job in its own goroutine, so a fire already in
// flight when Cancel ran gets rejected here.
func (s *Scheduler) live(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.gen == gen
}

// dailySpec renders a daily-forecast subscription as a cron expression in
// the scheduler's canonical timezone, e.g. "30 7 * * 1,3,5". The cron engine
// recomputes the next fire after every run, so DST rule changes take effect
// without restart.
func dailySpec(sub domain.Subscription) string {
	days := make([]string, len(sub.Weekdays))
	for i, d := range sub.Weekdays {
		days[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%d %d * * %s", sub.At.Minute, sub.At.Hour, strings.Join(days, ","))
}

// sendDailyForecast is one daily fire: query the provider, deliver the text.
// Transient failures skip this cycle and leave the timer intact.
func (s *Scheduler) sendDailyForecast(ctx context.Context, sub domain.Subscription) {
	sum, err := s.gateway.CurrentAndForecast(ctx, sub.City)
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		// Content error: tell the owner, keep the timer.
		if serr := s.sender.SendMessage(sub.Owner, fmt.Sprintf(
			"Your daily forecast for %q failed: the weather provider does not recognize this city.", sub.City)); serr != nil {
			s.log.Error("send failed", zap.Error(serr), zap.Int64("chatID", sub.Owner))
		}
		return
	case err != nil:
		s.log.Warn("daily forecast fetch failed, skipping this fire",
			zap.String("subscription", sub.ID), zap.String("city", sub.City), zap.Error(err))
		return
	}

	if err := s.sender.SendMessage(sub.Owner, dailyForecastText(sum)); err != nil {
		s.log.Error("send failed", zap.Error(err), zap.Int64("chatID", sub.Owner))
	}
}

func dailyForecastText(sum *weather.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your daily forecast for %s, %s:\n", sum.City, sum.Country)
	fmt.Fprintf(&b, "Now: %.1f°C, %s, humidity %.0f%%, wind %.1f m/s\n",
		sum.TempC, sum.Description, sum.HumidityPct, sum.WindSpeedMS)
	for _, d := range sum.Days {
		fmt.Fprintf(&b, "%s: %.1f…%.1f°C, %s\n",
			d.Date.Format("Mon 02 Jan"), d.MinC, d.MaxC, d.Description)
	}
	return b.String()
}
