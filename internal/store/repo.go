package store

import (
	"context"
	"errors"

	"github.com/ivchenkov/meteobot/internal/domain"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// Repo defines storage operations for subscriptions and per-user preferences.
type Repo interface {
	// CreateSubscription validates the draft, assigns an id and persists the
	// record. The passed subscription is updated in place (ID, CreatedAt).
	CreateSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	// ListActive returns the owner's active subscriptions, oldest first.
	ListActive(ctx context.Context, owner int64) ([]domain.Subscription, error)
	// ListAllActive returns every active subscription; used by scheduler
	// rehydration at process start.
	ListAllActive(ctx context.Context) ([]domain.Subscription, error)
	// DeactivateSubscription soft-deletes by id. Idempotent; unknown ids are
	// a no-op.
	DeactivateSubscription(ctx context.Context, id string) error

	SetDefaultCity(ctx context.Context, owner int64, city string) error
	// GetDefaultCity returns "" when the owner has no default city.
	GetDefaultCity(ctx context.Context, owner int64) (string, error)
	// AddFavorite returns false when the city is already in the owner's list.
	AddFavorite(ctx context.Context, owner int64, city string) (bool, error)
	ListFavorites(ctx context.Context, owner int64) ([]string, error)

	Close() error
}
