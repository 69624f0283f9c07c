package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/payments"
)

func newSubscriptionFixture(t *testing.T, billing payments.Provider) (SubscriptionService, *stubSubscriptionRepository, *recordingPublisher) {
	t.Helper()
	repo := newStubSubscriptionRepository()
	events := &recordingPublisher{}
	svc, err := NewSubscriptionService(SubscriptionServiceDeps{
		Subscriptions:  repo,
		Billing:        billing,
		Events:         events,
		Clock:          fixedClock,
		PremiumPriceID: "price_premium",
		AppURL:         "https://kidsdream.example/",
	})
	if err != nil {
		t.Fatalf("NewSubscriptionService: %v", err)
	}
	return svc, repo, events
}

func TestSubscriptionStatusForNewUser(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(t, nil)

	status, err := svc.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Tier != domain.TierFree || status.StoriesRemaining != DefaultFreeMonthlyQuota {
		t.Fatalf("unexpected status %+v", status)
	}
	wantReset := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !status.ResetsAt.Equal(wantReset) {
		t.Fatalf("expected reset at %s, got %s", wantReset, status.ResetsAt)
	}
	if status.DaysUntilReset != 18 {
		t.Fatalf("expected 18 days until reset, got %d", status.DaysUntilReset)
	}
	if status.ResetsIn != "2 weeks" {
		t.Fatalf("expected humanized reset, got %q", status.ResetsIn)
	}
}

func TestSubscriptionStatusPremiumIsUnlimited(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture(t, nil)
	repo.subs["user-1"] = domain.Subscription{UserID: "user-1", Tier: domain.TierPremium, StoriesGenerated: 42, SubscriptionStatus: "active"}

	status, err := svc.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.StoriesRemaining != domain.UnlimitedStories || status.StoriesGenerated != 42 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestSubscriptionStatusRequiresUser(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(t, nil)
	if _, err := svc.Status(context.Background(), " "); !errors.Is(err, ErrSubscriptionInvalidInput) {
		t.Fatalf("expected ErrSubscriptionInvalidInput, got %v", err)
	}
}

func TestPlansExposePremiumPrice(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(t, nil)
	plans := svc.Plans(context.Background())
	if len(plans) != 2 {
		t.Fatalf("expected free and premium plans, got %d", len(plans))
	}
	premium := plans[1]
	if !premium.IsPremium || premium.PriceID != "price_premium" || premium.Price != 9.99 || premium.Mode != "subscription" {
		t.Fatalf("unexpected premium plan %+v", premium)
	}
	if !slices.Contains(plans[0].Features, "Download stories as text") {
		t.Fatalf("expected free plan to offer text downloads, got %v", plans[0].Features)
	}
}

func TestCreateCheckoutSessionCreatesCustomerOnce(t *testing.T) {
	billing := &stubBilling{
		customerID: "cus_1",
		session:    payments.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"},
	}
	svc, repo, _ := newSubscriptionFixture(t, billing)
	ctx := context.Background()

	result, err := svc.CreateCheckoutSession(ctx, CheckoutCommand{UserID: "user-1", Email: "parent@example.com"})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if result.SessionID != "cs_1" || result.URL == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if repo.customerSets["user-1"] != "cus_1" {
		t.Fatalf("expected customer id to be stored")
	}
	req := billing.sessions[0]
	if req.CustomerID != "cus_1" || req.PriceID != "price_premium" || req.UserID != "user-1" {
		t.Fatalf("unexpected checkout request %+v", req)
	}
	if req.SuccessURL != "https://kidsdream.example/payment-success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %q", req.SuccessURL)
	}
	if req.CancelURL != "https://kidsdream.example/pricing" {
		t.Fatalf("unexpected cancel url %q", req.CancelURL)
	}

	if _, err := svc.CreateCheckoutSession(ctx, CheckoutCommand{UserID: "user-1"}); err != nil {
		t.Fatalf("second CreateCheckoutSession: %v", err)
	}
	if len(billing.customers) != 1 {
		t.Fatalf("expected customer to be reused, created %d", len(billing.customers))
	}
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(t, nil)
	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}

	billing := &stubBilling{customerID: "cus_1", sessionErr: errors.New("stripe down")}
	svc, repo, _ := newSubscriptionFixture(t, billing)
	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutFailed) {
		t.Fatalf("expected ErrCheckoutFailed, got %v", err)
	}

	repo.subs["user-2"] = domain.Subscription{UserID: "user-2", Tier: domain.TierPremium, SubscriptionStatus: "active"}
	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutCommand{UserID: "user-2"}); !errors.Is(err, ErrAlreadyPremium) {
		t.Fatalf("expected ErrAlreadyPremium, got %v", err)
	}
}

func TestHandleStripeEventCheckoutCompleted(t *testing.T) {
	svc, repo, events := newSubscriptionFixture(t, nil)

	err := svc.HandleStripeEvent(context.Background(), BillingEvent{
		ID:             "evt_1",
		Type:           payments.EventCheckoutCompleted,
		UserID:         "user-1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})
	if err != nil {
		t.Fatalf("HandleStripeEvent: %v", err)
	}
	sub := repo.subs["user-1"]
	if sub.Tier != domain.TierPremium || sub.StoriesRemaining != domain.UnlimitedStories {
		t.Fatalf("expected premium subscription, got %+v", sub)
	}
	if sub.StripeCustomerID != "cus_1" || sub.StripeSubscriptionID != "sub_1" {
		t.Fatalf("expected stripe ids to be stored, got %+v", sub)
	}
	if got := events.types(); len(got) != 1 || got[0] != domain.EventSubscriptionChanged {
		t.Fatalf("expected subscription.changed event, got %v", got)
	}
}

func TestHandleStripeEventSubscriptionLifecycle(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture(t, nil)
	repo.subs["user-1"] = domain.Subscription{UserID: "user-1", Tier: domain.TierPremium, StripeCustomerID: "cus_1"}
	ctx := context.Background()

	cases := []struct {
		eventType string
		status    string
		wantTier  domain.Tier
		wantLeft  int
	}{
		{payments.EventSubscriptionUpdated, "past_due", domain.TierFree, DefaultFreeMonthlyQuota},
		{payments.EventSubscriptionUpdated, "trialing", domain.TierPremium, domain.UnlimitedStories},
		{payments.EventSubscriptionCreated, "active", domain.TierPremium, domain.UnlimitedStories},
		{payments.EventSubscriptionDeleted, "canceled", domain.TierFree, DefaultFreeMonthlyQuota},
	}
	for _, tc := range cases {
		err := svc.HandleStripeEvent(ctx, BillingEvent{Type: tc.eventType, CustomerID: "cus_1", SubscriptionID: "sub_1", Status: tc.status})
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.eventType, tc.status, err)
		}
		sub := repo.subs["user-1"]
		if sub.Tier != tc.wantTier || sub.StoriesRemaining != tc.wantLeft {
			t.Fatalf("%s/%s: got tier %s remaining %d", tc.eventType, tc.status, sub.Tier, sub.StoriesRemaining)
		}
	}
}

func TestHandleStripeEventIgnoresUnknownAndUnmatched(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture(t, nil)
	ctx := context.Background()

	if err := svc.HandleStripeEvent(ctx, BillingEvent{Type: "invoice.paid", UserID: "user-1"}); err != nil {
		t.Fatalf("unknown event: %v", err)
	}
	if err := svc.HandleStripeEvent(ctx, BillingEvent{Type: payments.EventSubscriptionDeleted, CustomerID: "cus_unknown"}); err != nil {
		t.Fatalf("unmatched customer: %v", err)
	}
	if len(repo.applied) != 0 {
		t.Fatalf("expected no changes, got %v", repo.applied)
	}
}

type recordingClaims struct {
	tiers map[string]string
	err   error
}

func (c *recordingClaims) SetTierClaim(_ context.Context, uid, tier string) error {
	if c.err != nil {
		return c.err
	}
	if c.tiers == nil {
		c.tiers = map[string]string{}
	}
	c.tiers[uid] = tier
	return nil
}

func TestHandleStripeEventMirrorsTierClaim(t *testing.T) {
	claims := &recordingClaims{}
	repo := newStubSubscriptionRepository()
	svc, err := NewSubscriptionService(SubscriptionServiceDeps{
		Subscriptions: repo,
		Claims:        claims,
		Clock:         fixedClock,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionService: %v", err)
	}
	ctx := context.Background()

	if err := svc.HandleStripeEvent(ctx, BillingEvent{Type: payments.EventCheckoutCompleted, UserID: "user-1", CustomerID: "cus_1"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if claims.tiers["user-1"] != string(domain.TierPremium) {
		t.Fatalf("expected premium claim, got %v", claims.tiers)
	}
	if err := svc.HandleStripeEvent(ctx, BillingEvent{Type: payments.EventSubscriptionDeleted, CustomerID: "cus_1"}); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	if claims.tiers["user-1"] != string(domain.TierFree) {
		t.Fatalf("expected free claim, got %v", claims.tiers)
	}

	claims.err = errors.New("firebase down")
	if err := svc.HandleStripeEvent(ctx, BillingEvent{Type: payments.EventCheckoutCompleted, UserID: "user-1"}); err != nil {
		t.Fatalf("claim failures must not fail the webhook: %v", err)
	}
	if repo.subs["user-1"].Tier != domain.TierPremium {
		t.Fatalf("expected subscription applied despite claim failure, got %+v", repo.subs["user-1"])
	}
}

func TestResetMonthlyQuotas(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture(t, nil)
	repo.resetCount = 3

	count, err := svc.ResetMonthlyQuotas(context.Background())
	if err != nil {
		t.Fatalf("ResetMonthlyQuotas: %v", err)
	}
	if count != 3 || repo.resetQuota != DefaultFreeMonthlyQuota {
		t.Fatalf("unexpected reset result count=%d quota=%d", count, repo.resetQuota)
	}
	if !repo.resetNext.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next reset %s", repo.resetNext)
	}
}

func TestNextPeriodStartRollsOverYear(t *testing.T) {
	got := nextPeriodStart(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC))
	if !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next period %s", got)
	}
}
