package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyClock   = errors.New("empty time")
	ErrInvalidClock = errors.New("invalid time, expected HH:MM")
)

// ParseClock parses "HH:MM" into a Clock. Hour must be 0..23, minute 0..59.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Clock{}, ErrEmptyClock
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: %s", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("%w: bad hour in %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidClock, s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// ParseWeekday accepts a single digit 0..6 (0=Sunday) or a short English
// weekday name, case-insensitive.
func ParseWeekday(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return int(s[0] - '0'), nil
	}
	for i, name := range weekdayShort {
		if strings.ToLower(name) == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday: %q", s)
}

// NormalizeCity trims the city input; the value is used verbatim in weather
// queries, so no further canonicalization happens here.
func NormalizeCity(s string) string {
	return strings.TrimSpace(s)
}
