package repositories

import (
	"context"
	"time"

	domain "github.com/kidsdream/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StoryRepository persists stories under each user's library.
type StoryRepository interface {
	Insert(ctx context.Context, story domain.Story) (domain.Story, error)
	Get(ctx context.Context, userID, storyID string) (domain.Story, error)
	// List orders by creation time, newest first.
	List(ctx context.Context, filter domain.StoryListFilter) (domain.CursorPage[domain.Story], error)
	SetFavorite(ctx context.Context, userID, storyID string, favorite bool, at time.Time) (domain.Story, error)
	Delete(ctx context.Context, userID, storyID string) error
}

// SubscriptionRepository persists billing tier and monthly usage per user.
type SubscriptionRepository interface {
	// Get returns a not-found RepositoryError when the user never had a record.
	Get(ctx context.Context, userID string) (domain.Subscription, error)
	// Consume atomically spends one story. Missing records start from initial.
	// Free subscriptions with nothing left fail with ErrQuotaExhausted.
	Consume(ctx context.Context, userID string, initial domain.Subscription, now time.Time) (domain.UsageResult, error)
	// Apply merges a billing change, creating the record from initial when absent.
	Apply(ctx context.Context, change domain.SubscriptionChange, initial domain.Subscription, now time.Time) (domain.Subscription, error)
	SetCustomerID(ctx context.Context, userID, customerID string, initial domain.Subscription, now time.Time) error
	FindByCustomerID(ctx context.Context, customerID string) (domain.Subscription, error)
	// ResetDue restores quota on free subscriptions whose period ended at or before now.
	ResetDue(ctx context.Context, now time.Time, quota int, nextReset time.Time) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
