package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/domain"
)

// memRepo persists subscriptions in memory; satisfies store.Repo.
type memRepo struct {
	created []domain.Subscription
	fail    bool
}

func (m *memRepo) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	if m.fail {
		return fmt.Errorf("store down")
	}
	s.Active = true
	if err := s.Validate(); err != nil {
		return err
	}
	s.ID = fmt.Sprintf("sub-%d", len(m.created)+1)
	m.created = append(m.created, *s)
	return nil
}
func (m *memRepo) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, nil
}
func (m *memRepo) ListActive(ctx context.Context, owner int64) ([]domain.Subscription, error) {
	return nil, nil
}
func (m *memRepo) ListAllActive(ctx context.Context) ([]domain.Subscription, error) {
	return m.created, nil
}
func (m *memRepo) DeactivateSubscription(ctx context.Context, id string) error { return nil }
func (m *memRepo) SetDefaultCity(ctx context.Context, owner int64, city string) error {
	return nil
}
func (m *memRepo) GetDefaultCity(ctx context.Context, owner int64) (string, error) {
	return "", nil
}
func (m *memRepo) AddFavorite(ctx context.Context, owner int64, city string) (bool, error) {
	return false, nil
}
func (m *memRepo) ListFavorites(ctx context.Context, owner int64) ([]string, error) {
	return nil, nil
}
func (m *memRepo) Close() error { return nil }

type recReconciler struct {
	calls []domain.Subscription
	fail  bool
}

func (r *recReconciler) Reconcile(sub domain.Subscription) error {
	if r.fail {
		return fmt.Errorf("scheduler down")
	}
	r.calls = append(r.calls, sub)
	return nil
}

func newEngine(repo *memRepo, rec *recReconciler) *Engine {
	return New(repo, rec, zap.NewNop())
}

func TestDailyFlowCommits(t *testing.T) {
	repo := &memRepo{}
	rec := &recReconciler{}
	e := newEngine(repo, rec)
	ctx := context.Background()
	const owner int64 = 42

	eff := e.Start(owner)
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Equal(t, StageAwaitingKind, eff.Stage)

	eff = e.Advance(ctx, owner, InputKindDaily)
	assert.Equal(t, StageAwaitingCity, eff.Stage)

	eff = e.Advance(ctx, owner, "Berlin")
	assert.Equal(t, StageAwaitingTime, eff.Stage)

	eff = e.Advance(ctx, owner, "07:30")
	assert.Equal(t, StageAwaitingWeekdays, eff.Stage)

	for _, d := range []string{"1", "3", "5"} {
		eff = e.Advance(ctx, owner, d)
		assert.Equal(t, EffectPrompt, eff.Kind)
	}
	eff = e.Advance(ctx, owner, InputDone)

	require.Equal(t, EffectCommit, eff.Kind)
	require.NotNil(t, eff.Subscription)
	sub := eff.Subscription
	assert.Equal(t, owner, sub.Owner)
	assert.Equal(t, "Berlin", sub.City)
	assert.Equal(t, domain.KindDailyForecast, sub.Kind)
	require.NotNil(t, sub.At)
	assert.Equal(t, domain.Clock{Hour: 7, Minute: 30}, *sub.At)
	assert.Equal(t, []int{1, 3, 5}, sub.Weekdays)
	assert.NoError(t, sub.Validate(), "committed subscription must satisfy the data model invariants")

	require.Len(t, repo.created, 1)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, repo.created[0].ID, rec.calls[0].ID, "timer is armed for the persisted record")
	assert.False(t, e.InProgress(owner), "state is discarded after commit")
}

func TestRainWatchFlowCommitsAfterCity(t *testing.T) {
	repo := &memRepo{}
	rec := &recReconciler{}
	e := newEngine(repo, rec)
	ctx := context.Background()
	const owner int64 = 7

	e.Start(owner)
	e.Advance(ctx, owner, InputKindRain)
	eff := e.Advance(ctx, owner, "Lagos")

	require.Equal(t, EffectCommit, eff.Kind, "rain watch commits right after the city, no time/weekday stages")
	sub := eff.Subscription
	assert.Equal(t, domain.KindRainWatch, sub.Kind)
	assert.Nil(t, sub.At)
	assert.Empty(t, sub.Weekdays)
	assert.NoError(t, sub.Validate())
	require.Len(t, rec.calls, 1)
}

func TestInvalidKindRepeatsPrompt(t *testing.T) {
	e := newEngine(&memRepo{}, &recReconciler{})
	e.Start(1)

	eff := e.Advance(context.Background(), 1, "hourly")
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Equal(t, StageAwaitingKind, eff.Stage, "invalid kind must not advance")
}

func TestEmptyCityRepeatsPrompt(t *testing.T) {
	e := newEngine(&memRepo{}, &recReconciler{})
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindDaily)

	eff := e.Advance(ctx, 1, "   ")
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Equal(t, StageAwaitingCity, eff.Stage)
}

func TestMalformedTimeKeepsStageAndDraft(t *testing.T) {
	e := newEngine(&memRepo{}, &recReconciler{})
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindDaily)
	e.Advance(ctx, 1, "Berlin")

	eff := e.Advance(ctx, 1, "25:61")
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Equal(t, StageAwaitingTime, eff.Stage, "stage remains AwaitingTime")
	assert.Nil(t, eff.Draft.At, "draft unchanged")
	assert.Equal(t, "Berlin", eff.Draft.City)

	// a valid time afterwards still advances
	eff = e.Advance(ctx, 1, "09:00")
	assert.Equal(t, StageAwaitingWeekdays, eff.Stage)
}

func TestDoneWithEmptyWeekdaySetRejected(t *testing.T) {
	repo := &memRepo{}
	e := newEngine(repo, &recReconciler{})
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindDaily)
	e.Advance(ctx, 1, "Berlin")
	e.Advance(ctx, 1, "07:30")

	eff := e.Advance(ctx, 1, InputDone)
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Equal(t, StageAwaitingWeekdays, eff.Stage)
	assert.Empty(t, repo.created)

	// toggling a day on and off again leaves the set empty
	e.Advance(ctx, 1, "2")
	e.Advance(ctx, 1, "2")
	eff = e.Advance(ctx, 1, InputDone)
	assert.Equal(t, EffectPrompt, eff.Kind)
	assert.Empty(t, repo.created)
}

func TestCancelDiscardsDraft(t *testing.T) {
	repo := &memRepo{}
	rec := &recReconciler{}
	e := newEngine(repo, rec)
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindDaily)
	e.Advance(ctx, 1, "Berlin")

	eff := e.Advance(ctx, 1, InputCancel)
	assert.Equal(t, EffectCancelled, eff.Kind)
	assert.False(t, e.InProgress(1))
	assert.Empty(t, repo.created, "no partial subscription is ever persisted")
	assert.Empty(t, rec.calls)

	// the flow is really gone
	eff = e.Advance(ctx, 1, "more input")
	assert.Equal(t, EffectNone, eff.Kind)
}

func TestStoreFailureFailsCommitWithoutScheduling(t *testing.T) {
	repo := &memRepo{fail: true}
	rec := &recReconciler{}
	e := newEngine(repo, rec)
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindRain)

	eff := e.Advance(ctx, 1, "Lagos")
	assert.Equal(t, EffectFailed, eff.Kind)
	assert.Empty(t, rec.calls, "persist failed, nothing may be scheduled")
	assert.False(t, e.InProgress(1), "conversation returns to idle")
}

func TestSchedulingFailureIsNonFatal(t *testing.T) {
	repo := &memRepo{}
	rec := &recReconciler{fail: true}
	e := newEngine(repo, rec)
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindRain)

	eff := e.Advance(ctx, 1, "Lagos")
	require.Equal(t, EffectCommit, eff.Kind, "subscription exists; timer repair happens at next rehydrate")
	require.Len(t, repo.created, 1)
}

func TestAdvanceWithoutFlow(t *testing.T) {
	e := newEngine(&memRepo{}, &recReconciler{})
	eff := e.Advance(context.Background(), 99, "hello")
	assert.Equal(t, EffectNone, eff.Kind)
}

func TestStartRestartsFlow(t *testing.T) {
	e := newEngine(&memRepo{}, &recReconciler{})
	ctx := context.Background()
	e.Start(1)
	e.Advance(ctx, 1, InputKindDaily)

	// starting over drops the old draft
	eff := e.Start(1)
	assert.Equal(t, StageAwaitingKind, eff.Stage)
	eff = e.Advance(ctx, 1, InputKindRain)
	assert.Equal(t, StageAwaitingCity, eff.Stage)
}
