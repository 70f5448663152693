package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind tags a subscription as either a scheduled daily forecast or a
// periodic rain watch.
type Kind string

const (
	KindDailyForecast Kind = "daily"
	KindRainWatch     Kind = "rainwatch"
)

// ParseKind maps user/menu input to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDailyForecast, KindRainWatch:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown subscription kind: %q", s)
}

// Clock is a wall-clock time of day. It is interpreted in the service's
// canonical timezone, never in the user's locale.
type Clock struct {
	Hour   int // 0..23
	Minute int // 0..59
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Subscription describes one recurring notification a user has requested.
// At and Weekdays are present iff Kind is KindDailyForecast; a rain watch
// carries neither. Active=false means soft-deleted: excluded from scheduling
// and listings but kept for audit.
type Subscription struct {
	ID        string
	Owner     int64
	City      string
	Kind      Kind
	At        *Clock
	Weekdays  []int // 0=Sunday .. 6=Saturday; sorted, non-empty when present
	Active    bool
	CreatedAt time.Time
}

var (
	ErrEmptyCity   = errors.New("city must not be empty")
	ErrNoWeekdays  = errors.New("at least one weekday required")
	ErrKindPayload = errors.New("time/weekdays inconsistent with kind")
)

// Validate checks the kind/payload invariants before a subscription is
// persisted or scheduled.
func (s *Subscription) Validate() error {
	if s.City == "" {
		return ErrEmptyCity
	}
	switch s.Kind {
	case KindDailyForecast:
		if s.At == nil || len(s.Weekdays) == 0 {
			return ErrKindPayload
		}
		if s.At.Hour < 0 || s.At.Hour > 23 || s.At.Minute < 0 || s.At.Minute > 59 {
			return ErrKindPayload
		}
		for _, d := range s.Weekdays {
			if d < 0 || d > 6 {
				return fmt.Errorf("weekday out of range: %d", d)
			}
		}
	case KindRainWatch:
		if s.At != nil || len(s.Weekdays) != 0 {
			return ErrKindPayload
		}
	default:
		return fmt.Errorf("unknown subscription kind: %q", s.Kind)
	}
	return nil
}

// ToggleWeekday adds d to the set if absent, removes it if present.
// The result is sorted and deduplicated.
func ToggleWeekday(days []int, d int) []int {
	out := make([]int, 0, len(days)+1)
	found := false
	for _, x := range days {
		if x == d {
			found = true
			continue
		}
		out = append(out, x)
	}
	if !found {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

var weekdayShort = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// WeekdayName returns the short English name for a 0..6 weekday.
func WeekdayName(d int) string {
	if d < 0 || d > 6 {
		return "?"
	}
	return weekdayShort[d]
}

// FormatWeekdays renders a weekday set as "Mon, Wed, Fri".
func FormatWeekdays(days []int) string {
	out := ""
	for i, d := range days {
		if i > 0 {
			out += ", "
		}
		out += WeekdayName(d)
	}
	return out
}
