package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/payments"
	"github.com/kidsdream/api/internal/platform/httpx"
	"github.com/kidsdream/api/internal/platform/requestctx"
	"github.com/kidsdream/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// BillingEventParser authenticates a raw webhook delivery.
type BillingEventParser interface {
	Parse(payload []byte, signature string) (domain.BillingEvent, error)
}

// WebhookHandlers receives payment processor notifications.
type WebhookHandlers struct {
	parser        BillingEventParser
	subscriptions services.SubscriptionService
}

// NewWebhookHandlers constructs the Stripe webhook endpoint.
func NewWebhookHandlers(parser BillingEventParser, subscriptions services.SubscriptionService) *WebhookHandlers {
	return &WebhookHandlers{parser: parser, subscriptions: subscriptions}
}

// Routes registers POST /stripe under the webhook group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "billing webhooks are not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	event, err := h.parser.Parse(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrMalformedEvent):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "webhook payload could not be decoded", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
		}
		return
	}

	if err := h.subscriptions.HandleStripeEvent(ctx, event); err != nil {
		requestctx.Logger(ctx).Error("billing event processing failed",
			zap.String("eventId", event.ID),
			zap.String("type", event.Type),
			zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "billing event could not be applied", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}
