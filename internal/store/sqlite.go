package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ivchenkov/meteobot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single connection: SQLite is a single-writer engine, and this also
	// serializes rapid double-submissions from the same owner.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// CreateSubscription validates the draft, assigns a fresh id and persists it.
func (r *SQLiteRepo) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	if s == nil {
		return errors.New("nil subscription")
	}
	s.Active = true
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	hour, minute := clockColumns(s.At)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, owner, city, kind, fire_hour, fire_minute, weekdays, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		s.ID, s.Owner, s.City, string(s.Kind),
		hour, minute, weekdaysColumn(s.Weekdays),
		s.CreatedAt.Unix(),
	)
	return err
}

// GetSubscription returns a subscription by id, or ErrNotFound.
func (r *SQLiteRepo) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, city, kind, fire_hour, fire_minute, weekdays, active, created_at
		FROM subscriptions
		WHERE id = ?`,
		id,
	)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListActive returns the owner's active subscriptions, oldest first.
func (r *SQLiteRepo) ListActive(ctx context.Context, owner int64) ([]domain.Subscription, error) {
	return r.querySubscriptions(ctx, `
		SELECT id, owner, city, kind, fire_hour, fire_minute, weekdays, active, created_at
		FROM subscriptions
		WHERE owner = ? AND active = 1
		ORDER BY created_at ASC`,
		owner,
	)
}

// ListAllActive returns every active subscription across all owners.
func (r *SQLiteRepo) ListAllActive(ctx context.Context) ([]domain.Subscription, error) {
	return r.querySubscriptions(ctx, `
		SELECT id, owner, city, kind, fire_hour, fire_minute, weekdays, active, created_at
		FROM subscriptions
		WHERE active = 1
		ORDER BY created_at ASC`,
	)
}

// DeactivateSubscription sets active=0 for the given id. The row is kept for
// audit. Idempotent: repeated or unknown ids are a no-op.
func (r *SQLiteRepo) DeactivateSubscription(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET active = 0
		WHERE id = ?`,
		id,
	)
	return err
}

// SetDefaultCity stores the owner's default city for on-demand queries.
func (r *SQLiteRepo) SetDefaultCity(ctx context.Context, owner int64, city string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_prefs (owner, default_city) VALUES (?, ?)
		ON CONFLICT(owner) DO UPDATE SET default_city = excluded.default_city`,
		owner, city,
	)
	return err
}

// GetDefaultCity returns the owner's default city, or "" when unset.
func (r *SQLiteRepo) GetDefaultCity(ctx context.Context, owner int64) (string, error) {
	var city sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT default_city FROM user_prefs WHERE owner = ?`,
		owner,
	).Scan(&city)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return city.String, nil
}

// AddFavorite inserts a favorite city; returns false when already present.
func (r *SQLiteRepo) AddFavorite(ctx context.Context, owner int64, city string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO favorite_cities (owner, city) VALUES (?, ?)`,
		owner, city,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListFavorites returns the owner's favorite cities in alphabetical order.
func (r *SQLiteRepo) ListFavorites(ctx context.Context, owner int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT city FROM favorite_cities WHERE owner = ? ORDER BY city ASC`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, err
		}
		res = append(res, city)
	}
	return res, rows.Err()
}

func (r *SQLiteRepo) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}
