package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ivchenkov/meteobot/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		id        string
		owner     int64
		city      string
		kind      string
		hour      sql.NullInt64
		minute    sql.NullInt64
		weekdays  sql.NullString
		activeInt int
		createdAt int64
	)
	if err := row.Scan(&id, &owner, &city, &kind, &hour, &minute, &weekdays, &activeInt, &createdAt); err != nil {
		return nil, err
	}

	s := &domain.Subscription{
		ID:        id,
		Owner:     owner,
		City:      city,
		Kind:      domain.Kind(kind),
		Active:    activeInt != 0,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}
	if hour.Valid && minute.Valid {
		s.At = &domain.Clock{Hour: int(hour.Int64), Minute: int(minute.Int64)}
	}
	if weekdays.Valid && weekdays.String != "" {
		days, err := parseWeekdaysColumn(weekdays.String)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", id, err)
		}
		s.Weekdays = days
	}
	return s, nil
}

func clockColumns(c *domain.Clock) (sql.NullInt64, sql.NullInt64) {
	if c == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(c.Hour), Valid: true},
		sql.NullInt64{Int64: int64(c.Minute), Valid: true}
}

// weekdaysColumn encodes a weekday set as a comma-separated string, e.g. "1,3,5".
func weekdaysColumn(days []int) sql.NullString {
	if len(days) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func parseWeekdaysColumn(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad weekdays column %q: %w", s, err)
		}
		days = append(days, d)
	}
	sort.Ints(days)
	return days, nil
}
