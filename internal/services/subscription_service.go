package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/payments"
	"github.com/kidsdream/api/internal/platform/requestctx"
	"github.com/kidsdream/api/internal/repositories"
)

// DefaultFreeMonthlyQuota is the number of stories a free account may generate per calendar month.
const DefaultFreeMonthlyQuota = 5

const (
	premiumPlanID    = "premium"
	premiumPlanPrice = 9.99
	planCurrency     = "usd"
)

// SubscriptionServiceDeps bundles collaborators required to construct a SubscriptionService.
type SubscriptionServiceDeps struct {
	Subscriptions  repositories.SubscriptionRepository
	Billing        payments.Provider
	Events         EventPublisher
	Claims         TierClaimWriter
	Logger         *zap.Logger
	Clock          func() time.Time
	FreeQuota      int
	PremiumPriceID string
	AppURL         string
}

type subscriptionService struct {
	subscriptions repositories.SubscriptionRepository
	billing       payments.Provider
	events        EventPublisher
	claims        TierClaimWriter
	logger        *zap.Logger
	clock         func() time.Time
	freeQuota     int
	priceID       string
	appURL        string
}

var _ SubscriptionService = (*subscriptionService)(nil)

// NewSubscriptionService wires dependencies into a concrete SubscriptionService.
// Billing may be nil, in which case checkout reports ErrCheckoutUnavailable.
func NewSubscriptionService(deps SubscriptionServiceDeps) (SubscriptionService, error) {
	if deps.Subscriptions == nil {
		return nil, errors.New("subscription service: subscription repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	quota := deps.FreeQuota
	if quota <= 0 {
		quota = DefaultFreeMonthlyQuota
	}
	return &subscriptionService{
		subscriptions: deps.Subscriptions,
		billing:       deps.Billing,
		events:        deps.Events,
		claims:        deps.Claims,
		logger:        logger.Named("subscriptions"),
		clock: func() time.Time {
			return clock().UTC()
		},
		freeQuota: quota,
		priceID:   strings.TrimSpace(deps.PremiumPriceID),
		appURL:    strings.TrimRight(strings.TrimSpace(deps.AppURL), "/"),
	}, nil
}

func (s *subscriptionService) Status(ctx context.Context, userID string) (SubscriptionStatus, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SubscriptionStatus{}, fmt.Errorf("%w: user id is required", ErrSubscriptionInvalidInput)
	}
	now := s.clock()
	sub, err := loadSubscription(ctx, s.subscriptions, userID, s.freeQuota, now)
	if err != nil {
		return SubscriptionStatus{}, err
	}

	resetsAt := sub.PeriodResetAt.UTC()
	if resetsAt.IsZero() || !resetsAt.After(now) {
		resetsAt = nextPeriodStart(now)
	}
	return SubscriptionStatus{
		Tier:               sub.Tier,
		StoriesRemaining:   sub.Remaining(),
		StoriesGenerated:   sub.StoriesGenerated,
		MonthlyQuota:       s.freeQuota,
		SubscriptionStatus: sub.SubscriptionStatus,
		ResetsAt:           resetsAt,
		DaysUntilReset:     daysUntil(now, resetsAt),
		ResetsIn:           strings.TrimSpace(humanize.RelTime(now, resetsAt, "", "")),
	}, nil
}

func (s *subscriptionService) Plans(context.Context) []Plan {
	return []Plan{
		{
			ID:          "free",
			Name:        "Free Plan",
			Description: fmt.Sprintf("%d stories every month", s.freeQuota),
			Price:       0,
			Currency:    planCurrency,
			Features: []string{
				fmt.Sprintf("%d stories per month", s.freeQuota),
				"All story themes",
				"Save favorite stories",
				"Download stories as text",
			},
		},
		{
			ID:          premiumPlanID,
			Name:        "Premium Plan",
			Description: "Unlimited premium stories",
			PriceID:     s.priceID,
			Price:       premiumPlanPrice,
			Currency:    planCurrency,
			Mode:        "subscription",
			IsPremium:   true,
			Features: []string{
				"Unlimited stories",
				"Advanced story customization",
				"Longer stories with richer structure",
				"Download stories as Markdown or HTML",
				"Ad-free experience",
			},
		},
	}
}

func (s *subscriptionService) CreateCheckoutSession(ctx context.Context, cmd CheckoutCommand) (CheckoutSessionResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: user id is required", ErrSubscriptionInvalidInput)
	}
	if s.billing == nil || s.priceID == "" || s.appURL == "" {
		return CheckoutSessionResult{}, ErrCheckoutUnavailable
	}

	now := s.clock()
	sub, err := loadSubscription(ctx, s.subscriptions, userID, s.freeQuota, now)
	if err != nil {
		return CheckoutSessionResult{}, err
	}
	if sub.IsPremium() && payments.IsActiveStatus(sub.SubscriptionStatus) {
		return CheckoutSessionResult{}, ErrAlreadyPremium
	}

	customerID := strings.TrimSpace(sub.StripeCustomerID)
	if customerID == "" {
		customerID, err = s.billing.CreateCustomer(ctx, payments.CustomerRequest{
			UserID:         userID,
			Email:          strings.TrimSpace(cmd.Email),
			IdempotencyKey: "customer-" + userID,
		})
		if err != nil {
			s.log(ctx).Error("billing customer creation failed", zap.Error(err))
			return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
		}
		if err := s.subscriptions.SetCustomerID(ctx, userID, customerID, newFreeSubscription(userID, s.freeQuota, now), now); err != nil {
			return CheckoutSessionResult{}, fmt.Errorf("%w: store customer: %v", ErrSubscriptionUnavailable, err)
		}
	}

	session, err := s.billing.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		CustomerID:     customerID,
		PriceID:        s.priceID,
		UserID:         userID,
		SuccessURL:     s.appURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.appURL + "/pricing",
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	})
	if err != nil {
		s.log(ctx).Error("checkout session creation failed", zap.Error(err))
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	return CheckoutSessionResult{
		SessionID: session.ID,
		URL:       session.URL,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *subscriptionService) HandleStripeEvent(ctx context.Context, event BillingEvent) error {
	var change domain.SubscriptionChange
	switch event.Type {
	case payments.EventCheckoutCompleted:
		change = domain.SubscriptionChange{
			Tier:                 domain.TierPremium,
			StoriesRemaining:     domain.UnlimitedStories,
			StripeSubscriptionID: event.SubscriptionID,
			SubscriptionStatus:   "active",
		}
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		change = domain.SubscriptionChange{
			Tier:                 domain.TierFree,
			StoriesRemaining:     s.freeQuota,
			StripeSubscriptionID: event.SubscriptionID,
			SubscriptionStatus:   event.Status,
		}
		if payments.IsActiveStatus(event.Status) {
			change.Tier = domain.TierPremium
			change.StoriesRemaining = domain.UnlimitedStories
		}
	case payments.EventSubscriptionDeleted:
		change = domain.SubscriptionChange{
			Tier:                 domain.TierFree,
			StoriesRemaining:     s.freeQuota,
			StripeSubscriptionID: event.SubscriptionID,
			SubscriptionStatus:   firstNonEmpty(event.Status, "canceled"),
		}
	default:
		s.log(ctx).Debug("ignoring billing event", zap.String("type", event.Type), zap.String("eventId", event.ID))
		return nil
	}
	change.StripeCustomerID = event.CustomerID

	userID, err := s.resolveEventUser(ctx, event)
	if err != nil {
		return err
	}
	if userID == "" {
		s.log(ctx).Warn("billing event has no matching user",
			zap.String("type", event.Type),
			zap.String("eventId", event.ID),
			zap.String("customerId", event.CustomerID))
		return nil
	}
	change.UserID = userID

	now := s.clock()
	updated, err := s.subscriptions.Apply(ctx, change, newFreeSubscription(userID, s.freeQuota, now), now)
	if err != nil {
		return fmt.Errorf("%w: apply %s: %v", ErrSubscriptionUnavailable, event.Type, err)
	}
	s.log(ctx).Info("subscription updated from billing event",
		zap.String("type", event.Type),
		zap.String("eventId", event.ID),
		zap.String("tier", string(updated.Tier)))

	if s.claims != nil {
		if err := s.claims.SetTierClaim(context.WithoutCancel(ctx), userID, string(updated.Tier)); err != nil {
			s.log(ctx).Warn("tier claim update failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	if s.events != nil {
		if _, err := s.events.Publish(context.WithoutCancel(ctx), StoryEvent{
			Type:       domain.EventSubscriptionChanged,
			UserID:     userID,
			Tier:       updated.Tier,
			OccurredAt: now,
		}); err != nil {
			s.log(ctx).Warn("subscription event publish failed", zap.Error(err))
		}
	}
	return nil
}

func (s *subscriptionService) resolveEventUser(ctx context.Context, event BillingEvent) (string, error) {
	if userID := strings.TrimSpace(event.UserID); userID != "" {
		return userID, nil
	}
	customerID := strings.TrimSpace(event.CustomerID)
	if customerID == "" {
		return "", nil
	}
	sub, err := s.subscriptions.FindByCustomerID(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: lookup customer: %v", ErrSubscriptionUnavailable, err)
	}
	return sub.UserID, nil
}

func (s *subscriptionService) ResetMonthlyQuotas(ctx context.Context) (int, error) {
	now := s.clock()
	count, err := s.subscriptions.ResetDue(ctx, now, s.freeQuota, nextPeriodStart(now))
	if err != nil {
		return count, fmt.Errorf("%w: reset quotas: %v", ErrSubscriptionUnavailable, err)
	}
	s.log(ctx).Info("monthly quotas reset", zap.Int("subscriptions", count))
	return count, nil
}

func (s *subscriptionService) log(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return s.logger
}

// loadSubscription returns the stored subscription or a fresh free one when the user has none.
func loadSubscription(ctx context.Context, repo repositories.SubscriptionRepository, userID string, quota int, now time.Time) (Subscription, error) {
	sub, err := repo.Get(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if isNotFound(err) {
		return newFreeSubscription(userID, quota, now), nil
	}
	return Subscription{}, fmt.Errorf("%w: %v", ErrSubscriptionUnavailable, err)
}

func newFreeSubscription(userID string, quota int, now time.Time) Subscription {
	return Subscription{
		UserID:           userID,
		Tier:             domain.TierFree,
		StoriesRemaining: quota,
		PeriodResetAt:    nextPeriodStart(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// nextPeriodStart is midnight UTC on the first day of the month after now.
func nextPeriodStart(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
}

func daysUntil(now, then time.Time) int {
	if !then.After(now) {
		return 0
	}
	return int(math.Ceil(then.Sub(now).Hours() / 24))
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
