package domain

import "time"

// UnlimitedStories is reported as the remaining count for premium subscribers.
const UnlimitedStories = -1

// Subscription tracks a user's billing tier and monthly usage counter.
type Subscription struct {
	UserID               string
	Tier                 Tier
	StoriesRemaining     int
	StoriesGenerated     int
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionStatus   string
	PeriodResetAt        time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsPremium reports whether the subscription unlocks premium generation.
func (s Subscription) IsPremium() bool {
	return s.Tier.IsPremium()
}

// Remaining returns the stories left this period, or UnlimitedStories for premium.
func (s Subscription) Remaining() int {
	if s.IsPremium() {
		return UnlimitedStories
	}
	if s.StoriesRemaining < 0 {
		return 0
	}
	return s.StoriesRemaining
}

// UsageResult reports the outcome of consuming one story from the monthly allowance.
type UsageResult struct {
	Tier             Tier
	StoriesRemaining int
	StoriesGenerated int
}

// SubscriptionChange describes a billing state transition applied from a payment event.
type SubscriptionChange struct {
	UserID               string
	Tier                 Tier
	StoriesRemaining     int
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionStatus   string
}

// Plan describes a purchasable subscription plan.
type Plan struct {
	ID          string
	Name        string
	Description string
	PriceID     string
	Price       float64
	Currency    string
	Mode        string
	Features    []string
	IsPremium   bool
}

// BillingEvent is a verified payment processor notification reduced to the
// fields subscription state depends on.
type BillingEvent struct {
	ID             string
	Type           string
	UserID         string
	Email          string
	CustomerID     string
	SubscriptionID string
	Status         string
	CreatedAt      time.Time
}
