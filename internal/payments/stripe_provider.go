package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCustomerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeClients struct {
	sessions  stripeSessionAPI
	customers stripeCustomerAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clients  *stripeClients
}

// StripeProvider creates customers and subscription checkout sessions through Stripe.
type StripeProvider struct {
	api    stripeClients
	logger StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions:  sc.CheckoutSessions,
			customers: sc.Customers,
		}
	}
	if clients.sessions == nil || clients.customers == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{api: clients, logger: logger}, nil
}

// CreateCustomer registers a Stripe customer tagged with the user id.
func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if p == nil {
		return "", errors.New("stripe: provider is nil")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return "", errors.New("stripe: user id is required")
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	customer, err := p.api.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	p.logger(ctx, "payments.stripe.customer.created", map[string]any{
		"customerId": customer.ID,
		"userId":     userID,
	})
	return customer.ID, nil
}

// CreateCheckoutSession opens a subscription-mode Checkout session for one price.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.PriceID) == "" {
		return CheckoutSession{}, errors.New("stripe: price id is required")
	}

	metadata := copyMetadata(req.Metadata, map[string]string{"user_id": req.UserID})
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(strings.TrimSpace(req.PriceID)),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if id := strings.TrimSpace(req.UserID); id != "" {
		params.ClientReferenceID = stripe.String(id)
	}
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		params.Customer = stripe.String(id)
	}
	if req.AllowPromotion {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	result := CheckoutSession{
		ID:         session.ID,
		URL:        session.URL,
		CustomerID: strings.TrimSpace(req.CustomerID),
	}
	if session.Customer != nil && session.Customer.ID != "" {
		result.CustomerID = session.Customer.ID
	}
	if session.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":  session.ID,
		"customerId": result.CustomerID,
	})
	return result, nil
}
