package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/domain"
	"github.com/ivchenkov/meteobot/internal/weather"
)

// fakeRepo serves a fixed subscription set for rehydration.
type fakeRepo struct {
	subs []domain.Subscription
	err  error
}

func (f *fakeRepo) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	return nil
}
func (f *fakeRepo) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, nil
}
func (f *fakeRepo) ListActive(ctx context.Context, owner int64) ([]domain.Subscription, error) {
	return nil, nil
}
func (f *fakeRepo) ListAllActive(ctx context.Context) ([]domain.Subscription, error) {
	return f.subs, f.err
}
func (f *fakeRepo) DeactivateSubscription(ctx context.Context, id string) error { return nil }
func (f *fakeRepo) SetDefaultCity(ctx context.Context, owner int64, city string) error {
	return nil
}
func (f *fakeRepo) GetDefaultCity(ctx context.Context, owner int64) (string, error) {
	return "", nil
}
func (f *fakeRepo) AddFavorite(ctx context.Context, owner int64, city string) (bool, error) {
	return false, nil
}
func (f *fakeRepo) ListFavorites(ctx context.Context, owner int64) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) Close() error { return nil }

// fakeGateway returns canned results or errors.
type fakeGateway struct {
	summary *weather.Summary
	hours   []weather.HourlyCondition
	err     error
}

func (f *fakeGateway) CurrentAndForecast(ctx context.Context, city string) (*weather.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}
func (f *fakeGateway) CurrentByCoords(ctx context.Context, lat, lon float64) (*weather.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}
func (f *fakeGateway) NearTerm(ctx context.Context, city string, hours int) ([]weather.HourlyCondition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hours, nil
}

// fakeSender records delivered messages.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []int64
}

func (f *fakeSender) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, chatID)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestScheduler(repo *fakeRepo, gw weather.Gateway, snd Sender) *Scheduler {
	return New(repo, gw, snd, zap.NewNop(), time.UTC, 10*time.Minute, time.Hour, 30*time.Second)
}

func TestNewFireTimeout(t *testing.T) {
	s := New(&fakeRepo{}, &fakeGateway{}, &fakeSender{}, zap.NewNop(), time.UTC,
		10*time.Minute, time.Hour, 45*time.Second)
	assert.Equal(t, 45*time.Second, s.fireTimeout)

	// unset falls back to a sane bound
	s = New(&fakeRepo{}, &fakeGateway{}, &fakeSender{}, zap.NewNop(), time.UTC,
		10*time.Minute, time.Hour, 0)
	assert.Equal(t, 30*time.Second, s.fireTimeout)
}

func daily(id string, owner int64, city string, days ...int) domain.Subscription {
	return domain.Subscription{
		ID: id, Owner: owner, City: city,
		Kind:     domain.KindDailyForecast,
		At:       &domain.Clock{Hour: 7, Minute: 30},
		Weekdays: days,
		Active:   true,
	}
}

func rainSub(id string, owner int64, city string) domain.Subscription {
	return domain.Subscription{
		ID: id, Owner: owner, City: city,
		Kind: domain.KindRainWatch, Active: true,
	}
}

func TestReconcileIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeRepo{}, &fakeGateway{}, &fakeSender{})
	sub := daily("sub-1", 1, "Berlin", 1, 3, 5)

	require.NoError(t, s.Reconcile(sub))
	require.NoError(t, s.Reconcile(sub))

	assert.Equal(t, 1, s.Jobs(), "two reconciles must leave exactly one timer")
	assert.True(t, s.Has("sub-1"))
}

func TestReconcileInactiveRemovesTimer(t *testing.T) {
	s := newTestScheduler(&fakeRepo{}, &fakeGateway{}, &fakeSender{})
	sub := rainSub("sub-2", 1, "Lagos")

	require.NoError(t, s.Reconcile(sub))
	require.True(t, s.Has("sub-2"))

	sub.Active = false
	require.NoError(t, s.Reconcile(sub))
	assert.False(t, s.Has("sub-2"))
	assert.Equal(t, 0, s.Jobs())
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(&fakeRepo{}, &fakeGateway{}, &fakeSender{})
	require.NoError(t, s.Reconcile(daily("sub-3", 1, "Berlin", 2)))

	s.Cancel("sub-3")
	assert.False(t, s.Has("sub-3"))

	// unknown or repeated cancel is a no-op
	s.Cancel("sub-3")
	s.Cancel("never-existed")
	assert.Equal(t, 0, s.Jobs())
}

func TestCancelledGenerationNeverFires(t *testing.T) {
	s := newTestScheduler(&fakeRepo{}, &fakeGateway{}, &fakeSender{})
	require.NoError(t, s.Reconcile(daily("sub-4", 1, "Berlin", 2)))

	s.mu.Lock()
	armedGen := s.entries["sub-4"].gen
	s.mu.Unlock()
	require.True(t, s.live("sub-4", armedGen))

	// Cancel: an in-flight fire holding the old generation must be rejected.
	s.Cancel("sub-4")
	assert.False(t, s.live("sub-4", armedGen))

	// Replace: the old generation is stale, only the new one is live.
	require.NoError(t, s.Reconcile(daily("sub-4", 1, "Berlin", 2)))
	assert.False(t, s.live("sub-4", armedGen))
	s.mu.Lock()
	newGen := s.entries["sub-4"].gen
	s.mu.Unlock()
	assert.True(t, s.live("sub-4", newGen))
}

func TestRehydrate(t *testing.T) {
	repo := &fakeRepo{subs: []domain.Subscription{
		daily("a", 1, "Berlin", 1, 3, 5),
		rainSub("b", 1, "Berlin"), // same owner+city, different kind
		daily("c", 2, "Oslo", 0, 6),
	}}
	s := newTestScheduler(repo, &fakeGateway{}, &fakeSender{})

	require.NoError(t, s.Rehydrate(context.Background()))
	assert.Equal(t, 3, s.Jobs())
	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, s.Has(id), "missing timer for %s", id)
	}
}

func TestRehydrateStoreFailureIsFatal(t *testing.T) {
	repo := &fakeRepo{err: fmt.Errorf("disk gone")}
	s := newTestScheduler(repo, &fakeGateway{}, &fakeSender{})
	assert.Error(t, s.Rehydrate(context.Background()))
}

func TestDailySpec(t *testing.T) {
	sub := daily("x", 1, "Berlin", 1, 3, 5)
	spec := dailySpec(sub)
	assert.Equal(t, "30 7 * * 1,3,5", spec)

	// the rendered spec must be a valid standard cron expression
	sched, err := cron.ParseStandard(spec)
	require.NoError(t, err)

	// next fire from a Tuesday is Wednesday 07:30
	from := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC) // Tue
	next := sched.Next(from)
	assert.Equal(t, time.Wednesday, next.Weekday())
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestSendDailyForecast(t *testing.T) {
	sum := &weather.Summary{
		City: "Berlin", Country: "DE", TempC: 18.3,
		Description: "scattered clouds", HumidityPct: 62, WindSpeedMS: 4.1,
		Days: []weather.DaySummary{
			{Date: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), MinC: 9, MaxC: 17, Description: "light rain"},
		},
	}
	snd := &fakeSender{}
	s := newTestScheduler(&fakeRepo{}, &fakeGateway{summary: sum}, snd)

	s.sendDailyForecast(context.Background(), daily("sub", 42, "Berlin", 2))
	require.Equal(t, 1, snd.count())
	assert.Equal(t, int64(42), snd.to[0])
	assert.Contains(t, snd.sent[0], "Berlin, DE")
	assert.Contains(t, snd.sent[0], "light rain")
}

func TestSendDailyForecast_TransientSkipsSilently(t *testing.T) {
	snd := &fakeSender{}
	gw := &fakeGateway{err: fmt.Errorf("%w: status 502", weather.ErrTransient)}
	s := newTestScheduler(&fakeRepo{}, gw, snd)

	s.sendDailyForecast(context.Background(), daily("sub", 42, "Berlin", 2))
	assert.Equal(t, 0, snd.count(), "transient failure must not message the owner")
}

func TestSendDailyForecast_NotFoundSurfacesContentError(t *testing.T) {
	snd := &fakeSender{}
	gw := &fakeGateway{err: weather.ErrCityNotFound}
	s := newTestScheduler(&fakeRepo{}, gw, snd)

	s.sendDailyForecast(context.Background(), daily("sub", 42, "Zzyx", 2))
	require.Equal(t, 1, snd.count())
	assert.Contains(t, snd.sent[0], "does not recognize")
}
