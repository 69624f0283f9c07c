package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/kidsdream/api/internal/domain"
)

// WebhookVerifier authenticates Stripe webhook deliveries and reduces them to
// domain.BillingEvent values.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// WebhookOption customises a WebhookVerifier.
type WebhookOption func(*WebhookVerifier)

// WithTolerance overrides the accepted clock skew for signed timestamps.
func WithTolerance(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// NewWebhookVerifier builds a verifier for the endpoint signing secret.
func NewWebhookVerifier(secret string, opts ...WebhookOption) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	v := &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Parse verifies the Stripe-Signature header and decodes the event payload.
// Event types the service does not act on are returned with only ID and Type set.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (domain.BillingEvent, error) {
	if v == nil {
		return domain.BillingEvent{}, errors.New("payments: webhook verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.BillingEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := domain.BillingEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Created > 0 {
		result.CreatedAt = time.Unix(event.Created, 0).UTC()
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return result, nil
	}

	switch result.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return domain.BillingEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		result.UserID = strings.TrimSpace(session.ClientReferenceID)
		if result.UserID == "" {
			result.UserID = strings.TrimSpace(session.Metadata["user_id"])
		}
		if session.Customer != nil {
			result.CustomerID = session.Customer.ID
		}
		if session.CustomerDetails != nil {
			result.Email = session.CustomerDetails.Email
		}
		if session.Subscription != nil {
			result.SubscriptionID = session.Subscription.ID
		}
		result.Status = string(session.Status)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return domain.BillingEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		result.SubscriptionID = sub.ID
		result.UserID = strings.TrimSpace(sub.Metadata["user_id"])
		if sub.Customer != nil {
			result.CustomerID = sub.Customer.ID
		}
		result.Status = string(sub.Status)
	}
	return result, nil
}
