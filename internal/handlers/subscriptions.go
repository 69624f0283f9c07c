package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kidsdream/api/internal/platform/auth"
	"github.com/kidsdream/api/internal/platform/httpx"
	"github.com/kidsdream/api/internal/services"
)

const (
	checkoutAttemptsPerWindow = 5
	checkoutWindow            = 10 * time.Minute
)

var checkoutRetryAfter = strconv.Itoa(int((checkoutWindow / checkoutAttemptsPerWindow).Seconds()))

// SubscriptionHandlers exposes the signed-in user's usage and the premium upgrade flow.
type SubscriptionHandlers struct {
	authn         *auth.Authenticator
	subscriptions services.SubscriptionService
	limiter       services.RateLimiter
}

// NewSubscriptionHandlers constructs /me/subscription handlers guarded by Firebase authentication.
func NewSubscriptionHandlers(authn *auth.Authenticator, subscriptions services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		authn:         authn,
		subscriptions: subscriptions,
		limiter:       services.NewRateLimiter(checkoutAttemptsPerWindow, checkoutWindow, nil),
	}
}

// Routes registers the /me/subscription endpoints on the API router.
func (h *SubscriptionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireFirebaseAuth())
		}
		group.Get("/me/subscription", h.getSubscription)
		group.Post("/me/subscription:checkout", h.createCheckout)
	})
}

type subscriptionResponse struct {
	Tier               string `json:"tier"`
	IsPremium          bool   `json:"is_premium"`
	StoriesRemaining   int    `json:"stories_remaining"`
	StoriesGenerated   int    `json:"stories_generated"`
	MonthlyQuota       int    `json:"monthly_quota"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	ResetsAt           string `json:"resets_at,omitempty"`
	DaysUntilReset     int    `json:"days_until_reset"`
	ResetsIn           string `json:"resets_in,omitempty"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (h *SubscriptionHandlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	status, err := h.subscriptions.Status(ctx, identity.UID)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subscriptionResponse{
		Tier:               string(status.Tier),
		IsPremium:          status.Tier.IsPremium(),
		StoriesRemaining:   status.StoriesRemaining,
		StoriesGenerated:   status.StoriesGenerated,
		MonthlyQuota:       status.MonthlyQuota,
		SubscriptionStatus: status.SubscriptionStatus,
		ResetsAt:           formatTime(status.ResetsAt),
		DaysUntilReset:     status.DaysUntilReset,
		ResetsIn:           status.ResetsIn,
	})
}

func (h *SubscriptionHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		w.Header().Set("Retry-After", checkoutRetryAfter)
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}

	session, err := h.subscriptions.CreateCheckoutSession(ctx, services.CheckoutCommand{
		UserID:         identity.UID,
		Email:          identity.Email,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutResponse{
		SessionID: session.SessionID,
		URL:       session.URL,
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

func writeSubscriptionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSubscriptionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAlreadyPremium):
		httpx.WriteError(ctx, w, httpx.NewError("already_premium", "account already has an active premium subscription", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutFailed):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", "payment provider rejected the checkout request", http.StatusBadGateway))
	case errors.Is(err, services.ErrSubscriptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("subscription_error", err.Error(), http.StatusInternalServerError))
	}
}
