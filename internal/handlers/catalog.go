package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/platform/httpx"
	"github.com/kidsdream/api/internal/services"
)

// CatalogHandlers serves the public lists the story form and pricing page are built from.
type CatalogHandlers struct {
	stories       services.StoryService
	subscriptions services.SubscriptionService
}

// NewCatalogHandlers constructs the unauthenticated catalog endpoints.
func NewCatalogHandlers(stories services.StoryService, subscriptions services.SubscriptionService) *CatalogHandlers {
	return &CatalogHandlers{stories: stories, subscriptions: subscriptions}
}

// Routes registers /themes and /plans.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/themes", h.listThemes)
	r.Get("/plans", h.listPlans)
}

type themeResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type themesResponse struct {
	Themes    []themeResponse `json:"themes"`
	AgeGroups []string        `json:"age_groups"`
}

type planResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceID     string   `json:"price_id,omitempty"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Mode        string   `json:"mode,omitempty"`
	Features    []string `json:"features"`
	IsPremium   bool     `json:"is_premium"`
}

func (h *CatalogHandlers) listThemes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}

	themes := h.stories.ListThemes(ctx)
	resp := themesResponse{
		Themes:    make([]themeResponse, 0, len(themes)),
		AgeGroups: make([]string, 0, 3),
	}
	for _, theme := range themes {
		resp.Themes = append(resp.Themes, themeResponse{Key: theme.Key, Label: theme.Label})
	}
	for _, group := range domain.AgeGroups() {
		resp.AgeGroups = append(resp.AgeGroups, string(group))
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
		return
	}

	plans := h.subscriptions.Plans(ctx)
	items := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		items = append(items, planResponse{
			ID:          plan.ID,
			Name:        plan.Name,
			Description: plan.Description,
			PriceID:     plan.PriceID,
			Price:       plan.Price,
			Currency:    plan.Currency,
			Mode:        plan.Mode,
			Features:    append([]string(nil), plan.Features...),
			IsPremium:   plan.IsPremium,
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"plans": items})
}
