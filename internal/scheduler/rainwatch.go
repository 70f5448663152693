package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/domain"
	"github.com/ivchenkov/meteobot/internal/weather"
)

const rainLookaheadHours = 3

// RainWatch decides whether a rain-watch fire should notify its owner.
// After a positive detection, further positives for the same subscription
// are suppressed until the window expires; expiry re-arms automatically.
type RainWatch struct {
	gateway weather.Gateway
	sender  Sender
	log     *zap.Logger
	window  time.Duration
	now     func() time.Time

	mu            sync.Mutex
	suppressUntil map[string]time.Time
}

// NewRainWatch builds an evaluator with the given suppression window.
func NewRainWatch(gateway weather.Gateway, sender Sender, log *zap.Logger, window time.Duration) *RainWatch {
	if window <= 0 {
		window = time.Hour
	}
	return &RainWatch{
		gateway:       gateway,
		sender:        sender,
		log:           log,
		window:        window,
		now:           time.Now,
		suppressUntil: make(map[string]time.Time),
	}
}

// Evaluate is one rain-watch tick. Provider errors are logged and swallowed:
// a transient failure must never crash the scheduler or cancel the
// subscription.
func (w *RainWatch) Evaluate(ctx context.Context, sub domain.Subscription) {
	hours, err := w.gateway.NearTerm(ctx, sub.City, rainLookaheadHours)
	if err != nil {
		if errors.Is(err, weather.ErrCityNotFound) {
			w.log.Warn("rain watch: city not recognized",
				zap.String("subscription", sub.ID), zap.String("city", sub.City))
		} else {
			w.log.Warn("rain watch: provider query failed",
				zap.String("subscription", sub.ID), zap.Error(err))
		}
		return
	}

	wet := false
	for _, h := range hours {
		if h.PrecipMm > 0 || h.Condition.Wet() {
			wet = true
			break
		}
	}
	if !wet {
		return
	}

	now := w.now()
	claim := now.Add(w.window)
	w.mu.Lock()
	if until, ok := w.suppressUntil[sub.ID]; ok && now.Before(until) {
		w.mu.Unlock()
		return
	}
	// Claim the window before sending so a concurrent tick cannot double-send.
	w.suppressUntil[sub.ID] = claim
	w.mu.Unlock()

	text := fmt.Sprintf("☔ Rain expected in %s within the next few hours. Take an umbrella!", sub.City)
	if err := w.sender.SendMessage(sub.Owner, text); err != nil {
		w.log.Error("rain alert send failed", zap.Error(err), zap.Int64("chatID", sub.Owner))
		// Release the claim so a failed delivery does not eat the window;
		// only our own claim is removed, a newer one stays.
		w.mu.Lock()
		if until, ok := w.suppressUntil[sub.ID]; ok && until.Equal(claim) {
			delete(w.suppressUntil, sub.ID)
		}
		w.mu.Unlock()
	}
}

// Forget drops the suppression state for a subscription; called when its
// timer is cancelled or replaced.
func (w *RainWatch) Forget(subscriptionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.suppressUntil, subscriptionID)
}
