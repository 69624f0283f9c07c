package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kidsdream/api/internal/platform/httpx"
	"github.com/kidsdream/api/internal/platform/requestctx"
	"github.com/kidsdream/api/internal/services"
)

// MaintenanceHandlers exposes scheduler-triggered jobs.
type MaintenanceHandlers struct {
	subscriptions services.SubscriptionService
}

// NewMaintenanceHandlers constructs the maintenance endpoints. Callers guard them with OIDC.
func NewMaintenanceHandlers(subscriptions services.SubscriptionService) *MaintenanceHandlers {
	return &MaintenanceHandlers{subscriptions: subscriptions}
}

// Routes registers the maintenance jobs under the internal group.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/reset-quotas", h.resetQuotas)
}

func (h *MaintenanceHandlers) resetQuotas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
		return
	}

	count, err := h.subscriptions.ResetMonthlyQuotas(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("quota reset failed", zap.Int("reset", count), zap.Error(err))
		writeSubscriptionError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reset": count})
}
