package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

type stubCustomers struct {
	params *stripe.CustomerParams
	id     string
	err    error
}

func (s *stubCustomers) New(params *stripe.CustomerParams) (*stripe.Customer, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.Customer{ID: s.id}, nil
}

func newStubProvider(t *testing.T, sessions *stubSessions, customers *stubCustomers) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{sessions: sessions, customers: customers},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestCreateCustomerTagsUser(t *testing.T) {
	customers := &stubCustomers{id: "cus_123"}
	provider := newStubProvider(t, &stubSessions{}, customers)

	id, err := provider.CreateCustomer(context.Background(), CustomerRequest{UserID: "user-1", Email: "parent@example.com"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if id != "cus_123" {
		t.Fatalf("expected cus_123, got %q", id)
	}
	if customers.params.Email == nil || *customers.params.Email != "parent@example.com" {
		t.Fatalf("expected email to be forwarded")
	}
	if customers.params.Metadata["user_id"] != "user-1" {
		t.Fatalf("expected user_id metadata, got %#v", customers.params.Metadata)
	}
}

func TestCreateCustomerRequiresUser(t *testing.T) {
	provider := newStubProvider(t, &stubSessions{}, &stubCustomers{})
	if _, err := provider.CreateCustomer(context.Background(), CustomerRequest{}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestCreateCheckoutSessionUsesSubscriptionMode(t *testing.T) {
	sessions := &stubSessions{session: &stripe.CheckoutSession{
		ID:        "cs_test_1",
		URL:       "https://checkout.stripe.com/c/pay/cs_test_1",
		ExpiresAt: 1735689600,
	}}
	provider := newStubProvider(t, sessions, &stubCustomers{})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		CustomerID: "cus_123",
		PriceID:    "price_premium",
		UserID:     "user-1",
		SuccessURL: "https://kidsdream.example/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://kidsdream.example/pricing",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session %#v", session)
	}
	if session.CustomerID != "cus_123" {
		t.Fatalf("expected customer to carry over, got %q", session.CustomerID)
	}
	if !session.ExpiresAt.Equal(time.Unix(1735689600, 0).UTC()) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}

	params := sessions.params
	if params.Mode == nil || *params.Mode != string(stripe.CheckoutSessionModeSubscription) {
		t.Fatalf("expected subscription mode")
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Price != "price_premium" {
		t.Fatalf("expected a single premium line item")
	}
	if params.ClientReferenceID == nil || *params.ClientReferenceID != "user-1" {
		t.Fatalf("expected client reference id")
	}
	if params.SubscriptionData.Metadata["user_id"] != "user-1" {
		t.Fatalf("expected subscription metadata to carry user id")
	}
}

func TestCreateCheckoutSessionWrapsErrors(t *testing.T) {
	sessions := &stubSessions{err: errors.New("card declined")}
	provider := newStubProvider(t, sessions, &stubCustomers{})
	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{PriceID: "price_premium"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestIsActiveStatus(t *testing.T) {
	cases := map[string]bool{
		"active":     true,
		"trialing":   true,
		" Active ":   true,
		"past_due":   false,
		"canceled":   false,
		"incomplete": false,
		"":           false,
	}
	for status, want := range cases {
		if got := IsActiveStatus(status); got != want {
			t.Errorf("IsActiveStatus(%q) = %v, want %v", status, got, want)
		}
	}
}

const testWebhookSecret = "whsec_test_secret"

func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookParseCheckoutCompleted(t *testing.T) {
	verifier, err := NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1735689600,
"data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"user-1","customer":"cus_1","subscription":"sub_1","status":"complete"}}}`)

	event, err := verifier.Parse(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventCheckoutCompleted || event.ID != "evt_1" {
		t.Fatalf("unexpected event %#v", event)
	}
	if event.UserID != "user-1" || event.CustomerID != "cus_1" || event.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected ids %#v", event)
	}
}

func TestWebhookParseSubscriptionUpdated(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testWebhookSecret)
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.subscription.updated",
"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due","metadata":{"user_id":"user-1"}}}}`)

	event, err := verifier.Parse(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Status != "past_due" || event.UserID != "user-1" || event.CustomerID != "cus_1" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestWebhookParseRejectsBadSignature(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testWebhookSecret)
	payload := []byte(`{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	_, err := verifier.Parse(payload, signPayload(payload, "whsec_other", time.Now()))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	_, err = verifier.Parse(payload, signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected stale timestamp to fail, got %v", err)
	}
}

func TestWebhookParseIgnoresOtherEvents(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testWebhookSecret)
	payload := []byte(`{"id":"evt_4","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

	event, err := verifier.Parse(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != "invoice.paid" || event.UserID != "" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestNewWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewWebhookVerifier("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
