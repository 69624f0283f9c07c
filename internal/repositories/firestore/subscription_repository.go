package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kidsdream/api/internal/domain"
	pfirestore "github.com/kidsdream/api/internal/platform/firestore"
	"github.com/kidsdream/api/internal/repositories"
)

const subscriptionsCollection = "subscriptions"

// SubscriptionRepository stores one billing document per user at subscriptions/{uid}.
type SubscriptionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[subscriptionDocument]
}

// NewSubscriptionRepository constructs a Firestore-backed subscription repository.
func NewSubscriptionRepository(provider *pfirestore.Provider) (*SubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("subscription repository requires firestore provider")
	}
	return &SubscriptionRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[subscriptionDocument](provider, subscriptionsCollection, nil, nil),
	}, nil
}

// Get loads the subscription for userID.
func (r *SubscriptionRepository) Get(ctx context.Context, userID string) (domain.Subscription, error) {
	uid, err := requireUserID(userID)
	if err != nil {
		return domain.Subscription{}, err
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Subscription{}, err
	}
	return decodeSubscription(doc), nil
}

// Consume spends one story inside a transaction. Premium subscriptions only
// count usage. Free subscriptions decrement and never go below zero.
func (r *SubscriptionRepository) Consume(ctx context.Context, userID string, initial domain.Subscription, now time.Time) (domain.UsageResult, error) {
	var result domain.UsageResult
	err := r.mutate(ctx, userID, initial, now, func(sub *domain.Subscription) error {
		if !sub.IsPremium() {
			if sub.StoriesRemaining <= 0 {
				sub.StoriesRemaining = 0
				return repositories.ErrQuotaExhausted
			}
			sub.StoriesRemaining--
		}
		sub.StoriesGenerated++
		result = domain.UsageResult{
			Tier:             sub.Tier,
			StoriesRemaining: sub.Remaining(),
			StoriesGenerated: sub.StoriesGenerated,
		}
		return nil
	})
	if err != nil {
		return domain.UsageResult{}, err
	}
	return result, nil
}

// Apply merges a billing change into the subscription. Empty Stripe ids keep
// the stored values.
func (r *SubscriptionRepository) Apply(ctx context.Context, change domain.SubscriptionChange, initial domain.Subscription, now time.Time) (domain.Subscription, error) {
	var updated domain.Subscription
	err := r.mutate(ctx, change.UserID, initial, now, func(sub *domain.Subscription) error {
		sub.Tier = change.Tier
		sub.StoriesRemaining = change.StoriesRemaining
		if v := strings.TrimSpace(change.StripeCustomerID); v != "" {
			sub.StripeCustomerID = v
		}
		if v := strings.TrimSpace(change.StripeSubscriptionID); v != "" {
			sub.StripeSubscriptionID = v
		}
		if v := strings.TrimSpace(change.SubscriptionStatus); v != "" {
			sub.SubscriptionStatus = v
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return updated, nil
}

// SetCustomerID records the Stripe customer for userID.
func (r *SubscriptionRepository) SetCustomerID(ctx context.Context, userID, customerID string, initial domain.Subscription, now time.Time) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("subscription repository: customer id is required")
	}
	return r.mutate(ctx, userID, initial, now, func(sub *domain.Subscription) error {
		sub.StripeCustomerID = customerID
		return nil
	})
}

// FindByCustomerID resolves the subscription owning a Stripe customer.
func (r *SubscriptionRepository) FindByCustomerID(ctx context.Context, customerID string) (domain.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Subscription{}, errors.New("subscription repository: customer id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("stripe_customer_id", "==", customerID).Limit(1)
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if len(docs) == 0 {
		return domain.Subscription{}, pfirestore.NotFoundError("subscriptions.find_by_customer", "customer "+customerID)
	}
	return decodeSubscription(docs[0]), nil
}

// ResetDue restores the monthly allowance of every free subscription whose
// period ended at or before now and returns how many were reset.
func (r *SubscriptionRepository) ResetDue(ctx context.Context, now time.Time, quota int, nextReset time.Time) (int, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tier", "==", string(domain.TierFree)).Where("period_reset_at", "<=", now.UTC())
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer, err := r.provider.BulkWriter(ctx)
	if err != nil {
		return 0, err
	}
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		ref, err := r.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			writer.End()
			return 0, err
		}
		job, err := writer.Update(ref, []firestore.Update{
			{Path: "stories_remaining", Value: quota},
			{Path: "period_reset_at", Value: nextReset.UTC()},
			{Path: "updated_at", Value: now.UTC()},
		})
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("subscriptions.reset", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	reset := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = pfirestore.WrapError("subscriptions.reset", err)
			}
			continue
		}
		reset++
	}
	return reset, firstErr
}

func (r *SubscriptionRepository) mutate(ctx context.Context, userID string, initial domain.Subscription, now time.Time, apply func(*domain.Subscription) error) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	initial.UserID = uid
	initial.CreatedAt = now.UTC()

	_, err = r.base.Mutate(ctx, uid, pfirestore.UsagePolicy, encodeSubscription(initial), func(doc *subscriptionDocument, _ bool) error {
		sub := decodeSubscription(pfirestore.Document[subscriptionDocument]{ID: uid, Data: *doc})
		if err := apply(&sub); err != nil {
			return err
		}
		sub.UpdatedAt = now.UTC()
		*doc = encodeSubscription(sub)
		return nil
	})
	if err != nil && !errors.Is(err, repositories.ErrQuotaExhausted) {
		return pfirestore.WrapError("subscriptions.mutate", err)
	}
	return err
}

func requireUserID(userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", errors.New("subscription repository: user id is required")
	}
	return uid, nil
}

type subscriptionDocument struct {
	Tier                 string    `firestore:"tier"`
	StoriesRemaining     int       `firestore:"stories_remaining"`
	StoriesGenerated     int       `firestore:"stories_generated"`
	StripeCustomerID     string    `firestore:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `firestore:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string    `firestore:"subscription_status,omitempty"`
	PeriodResetAt        time.Time `firestore:"period_reset_at"`
	CreatedAt            time.Time `firestore:"created_at"`
	UpdatedAt            time.Time `firestore:"updated_at"`
}

func encodeSubscription(sub domain.Subscription) subscriptionDocument {
	return subscriptionDocument{
		Tier:                 string(sub.Tier),
		StoriesRemaining:     sub.StoriesRemaining,
		StoriesGenerated:     sub.StoriesGenerated,
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		SubscriptionStatus:   sub.SubscriptionStatus,
		PeriodResetAt:        sub.PeriodResetAt.UTC(),
		CreatedAt:            sub.CreatedAt.UTC(),
		UpdatedAt:            sub.UpdatedAt.UTC(),
	}
}

func decodeSubscription(doc pfirestore.Document[subscriptionDocument]) domain.Subscription {
	data := doc.Data
	tier := domain.Tier(data.Tier)
	if tier != domain.TierPremium {
		tier = domain.TierFree
	}
	return domain.Subscription{
		UserID:               doc.ID,
		Tier:                 tier,
		StoriesRemaining:     data.StoriesRemaining,
		StoriesGenerated:     data.StoriesGenerated,
		StripeCustomerID:     data.StripeCustomerID,
		StripeSubscriptionID: data.StripeSubscriptionID,
		SubscriptionStatus:   data.SubscriptionStatus,
		PeriodResetAt:        data.PeriodResetAt,
		CreatedAt:            data.CreatedAt,
		UpdatedAt:            data.UpdatedAt,
	}
}

var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)
