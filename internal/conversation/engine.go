package conversation

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/domain"
	"github.com/ivchenkov/meteobot/internal/store"
)

// Stage is the position of an owner inside the subscription-definition flow.
type Stage int

const (
	StageIdle Stage = iota
	StageAwaitingKind
	StageAwaitingCity
	StageAwaitingTime
	StageAwaitingWeekdays
)

// EffectKind classifies what the caller should do with an Effect.
type EffectKind int

const (
	// EffectNone: no conversation in progress for this owner.
	EffectNone EffectKind = iota
	// EffectPrompt: show Text to the owner and wait for more input.
	EffectPrompt
	// EffectCommit: the subscription was created and its timer armed.
	EffectCommit
	// EffectCancelled: the draft was discarded on the owner's request.
	EffectCancelled
	// EffectFailed: the commit failed; nothing was persisted or scheduled.
	EffectFailed
)

// Effect is the outcome of one conversation step.
type Effect struct {
	Kind         EffectKind
	Stage        Stage // stage after the step; lets the caller pick a keyboard
	Text         string
	Draft        domain.Subscription // current accumulation, for prompt rendering
	Subscription *domain.Subscription
}

// Reconciler installs or replaces the timer for a committed subscription.
// scheduler.Scheduler implements it.
type Reconciler interface {
	Reconcile(sub domain.Subscription) error
}

// state is one owner's in-flight draft. It never outlives a single
// subscription-creation attempt.
type state struct {
	mu    sync.Mutex
	stage Stage
	draft domain.Subscription
}

// Engine walks each owner through defining a subscription and commits the
// completed draft. State is in-memory only; an abandoned draft simply dies
// with the process.
type Engine struct {
	repo  store.Repo
	sched Reconciler
	log   *zap.Logger

	mu     sync.Mutex
	states map[int64]*state
}

// New creates a conversation engine.
func New(repo store.Repo, sched Reconciler, log *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		sched:  sched,
		log:    log,
		states: make(map[int64]*state),
	}
}

// Canonical inputs the flow understands besides free text. The transport
// maps button taps onto these.
const (
	InputKindDaily = string(domain.KindDailyForecast)
	InputKindRain  = string(domain.KindRainWatch)
	InputDone      = "done"
	InputCancel    = "cancel"
)

// Start opens (or restarts) the subscription flow for an owner. Any previous
// unfinished draft is discarded.
func (e *Engine) Start(owner int64) Effect {
	st := &state{stage: StageAwaitingKind}
	e.mu.Lock()
	e.states[owner] = st
	e.mu.Unlock()

	return Effect{
		Kind:  EffectPrompt,
		Stage: StageAwaitingKind,
		Text:  "What kind of subscription? Daily forecast at a fixed time, or a rain watch that pings you when rain is coming.",
	}
}

// InProgress reports whether the owner has an open subscription flow.
func (e *Engine) InProgress(owner int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.states[owner]
	return ok
}

// Advance applies one input to the owner's flow. Concurrent inputs from the
// same owner serialize on the state lock, so a draft can never interleave.
func (e *Engine) Advance(ctx context.Context, owner int64, input string) Effect {
	e.mu.Lock()
	st, ok := e.states[owner]
	e.mu.Unlock()
	if !ok {
		return Effect{Kind: EffectNone, Stage: StageIdle}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	input = strings.TrimSpace(input)
	if strings.EqualFold(input, InputCancel) {
		e.drop(owner)
		return Effect{Kind: EffectCancelled, Stage: StageIdle, Text: "Subscription cancelled. Nothing was saved."}
	}

	switch st.stage {
	case StageAwaitingKind:
		return e.stepKind(st, input)
	case StageAwaitingCity:
		return e.stepCity(ctx, st, owner, input)
	case StageAwaitingTime:
		return e.stepTime(st, input)
	case StageAwaitingWeekdays:
		return e.stepWeekdays(ctx, st, owner, input)
	default:
		e.drop(owner)
		return Effect{Kind: EffectNone, Stage: StageIdle}
	}
}

func (e *Engine) stepKind(st *state, input string) Effect {
	kind, err := domain.ParseKind(strings.ToLower(input))
	if err != nil {
		// invalid input repeats the prompt, same stage
		return Effect{
			Kind:  EffectPrompt,
			Stage: StageAwaitingKind,
			Text:  "I didn't catch that. Pick one: daily forecast or rain watch.",
			Draft: st.draft,
		}
	}
	st.draft.Kind = kind
	st.stage = StageAwaitingCity
	return Effect{
		Kind:  EffectPrompt,
		Stage: StageAwaitingCity,
		Text:  "Which city?",
		Draft: st.draft,
	}
}

func (e *Engine) stepCity(ctx context.Context, st *state, owner int64, input string) Effect {
	city := domain.NormalizeCity(input)
	if city == "" {
		return Effect{
			Kind:  EffectPrompt,
			Stage: StageAwaitingCity,
			Text:  "The city must not be empty. Which city?",
			Draft: st.draft,
		}
	}
	st.draft.City = city

	if st.draft.Kind == domain.KindRainWatch {
		// rain watch needs no time or weekdays
		return e.commit(ctx, st, owner)
	}
	st.stage = StageAwaitingTime
	return Effect{
		Kind:  EffectPrompt,
		Stage: StageAwaitingTime,
		Text:  "At what time should the daily forecast arrive? Use HH:MM, e.g. 07:30.",
		Draft: st.draft,
	}
}

func (e *Engine) stepTime(st *state, input string) Effect {
	at, err := domain.ParseClock(input)
	if err != nil {
		// draft untouched, stage unchanged
		return Effect{
			Kind:  EffectPrompt,
			Stage: StageAwaitingTime,
			Text:  "That doesn't look like a time. Use HH:MM with hour 00–23 and minute 00–59, e.g. 07:30.",
			Draft: st.draft,
		}
	}
	st.draft.At = &at
	st.stage = StageAwaitingWeekdays
	return Effect{
		Kind:  EffectPrompt,
		Stage: StageAwaitingWeekdays,
		Text:  "On which weekdays? Toggle days, then send \"done\".",
		Draft: st.draft,
	}
}

func (e *Engine) stepWeekdays(ctx context.Context, st *state, owner int64, input string) Effect {
	if strings.EqualFold(input, InputDone) {
		if len(st.draft.Weekdays) == 0 {
			return Effect{
				Kind:  EffectPrompt,
				Stage: StageAwaitingWeekdays,
				Text:  "Pick at least one weekday before finishing.",
				Draft: st.draft,
			}
		}
		return e.commit(ctx, st, owner)
	}

	d, err := domain.ParseWeekday(input)
	if err != nil {
		return Effect{
			Kind:  EffectPrompt,
			Stage: StageAwaitingWeekdays,
			Text:  "Use a day button or 0–6 (0 = Sunday), or send \"done\".",
			Draft: st.draft,
		}
	}
	st.draft.Weekdays = domain.ToggleWeekday(st.draft.Weekdays, d)

	selected := "none yet"
	if len(st.draft.Weekdays) > 0 {
		selected = domain.FormatWeekdays(st.draft.Weekdays)
	}
	return Effect{
		Kind:  EffectPrompt,
		Stage: StageAwaitingWeekdays,
		Text:  "Selected: " + selected + ". Toggle more days or send \"done\".",
		Draft: st.draft,
	}
}

// commit persists the completed draft, then arms its timer. Persist and
// schedule are strictly ordered: a store failure leaves nothing scheduled; a
// scheduling failure leaves the subscription persisted and is repaired by
// the next rehydrate, so it is logged rather than surfaced.
func (e *Engine) commit(ctx context.Context, st *state, owner int64) Effect {
	sub := st.draft
	sub.Owner = owner
	sub.Active = true

	if err := e.repo.CreateSubscription(ctx, &sub); err != nil {
		e.log.Error("subscription create failed", zap.Int64("owner", owner), zap.Error(err))
		e.drop(owner)
		return Effect{
			Kind:  EffectFailed,
			Stage: StageIdle,
			Text:  "Could not save the subscription. Please try again later.",
		}
	}

	if err := e.sched.Reconcile(sub); err != nil {
		e.log.Error("timer arming failed, will be repaired on restart",
			zap.String("subscription", sub.ID), zap.Error(err))
	}

	e.drop(owner)
	return Effect{
		Kind:         EffectCommit,
		Stage:        StageIdle,
		Text:         confirmationText(sub),
		Subscription: &sub,
	}
}

// drop destroys the owner's conversation state.
func (e *Engine) drop(owner int64) {
	e.mu.Lock()
	delete(e.states, owner)
	e.mu.Unlock()
}

func confirmationText(sub domain.Subscription) string {
	if sub.Kind == domain.KindRainWatch {
		return "Subscribed: rain watch for " + sub.City + ". I'll warn you when rain is on the way."
	}
	return "Subscribed: daily forecast for " + sub.City + " at " + sub.At.String() +
		" on " + domain.FormatWeekdays(sub.Weekdays) + "."
}
