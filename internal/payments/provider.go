package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Stripe event types that change subscription state.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified event cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed event")
)

// CustomerRequest describes the billing customer created for a signed-in user.
type CustomerRequest struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

// CheckoutSessionRequest captures a subscription checkout for one recurring price.
type CheckoutSessionRequest struct {
	CustomerID     string
	PriceID        string
	UserID         string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	AllowPromotion bool
}

// CheckoutSession is the hosted checkout page returned to the client.
type CheckoutSession struct {
	ID         string
	URL        string
	CustomerID string
	ExpiresAt  time.Time
}

// Provider is the billing surface the subscription service depends on.
type Provider interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// IsActiveStatus reports whether a Stripe subscription status grants premium access.
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}

func copyMetadata(src map[string]string, extra map[string]string) map[string]string {
	if len(src) == 0 && len(extra) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src)+len(extra))
	for k, v := range src {
		if k = strings.TrimSpace(k); k != "" {
			dst[k] = v
		}
	}
	for k, v := range extra {
		if strings.TrimSpace(v) != "" {
			dst[k] = v
		}
	}
	return dst
}
