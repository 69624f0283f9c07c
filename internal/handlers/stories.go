package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/export"
	"github.com/kidsdream/api/internal/platform/auth"
	"github.com/kidsdream/api/internal/platform/httpx"
	"github.com/kidsdream/api/internal/platform/observability"
	"github.com/kidsdream/api/internal/platform/pagination"
	"github.com/kidsdream/api/internal/services"
)

const (
	maxGenerateRequestBody = 8 * 1024
	maxSaveRequestBody     = 64 * 1024
	maxExportRequestBody   = 1024
)

// StoryHandlers exposes story generation and the per-user story library.
type StoryHandlers struct {
	authn       *auth.Authenticator
	stories     services.StoryService
	idempotency func(http.Handler) http.Handler
}

// StoryOption customises StoryHandlers.
type StoryOption func(*StoryHandlers)

// WithGenerateIdempotency wraps the generate route with the given middleware.
func WithGenerateIdempotency(mw func(http.Handler) http.Handler) StoryOption {
	return func(h *StoryHandlers) {
		h.idempotency = mw
	}
}

// NewStoryHandlers constructs story handlers guarded by Firebase authentication.
func NewStoryHandlers(authn *auth.Authenticator, stories services.StoryService, opts ...StoryOption) *StoryHandlers {
	h := &StoryHandlers{
		authn:   authn,
		stories: stories,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the story endpoints on the API router.
func (h *StoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireFirebaseAuth())
		}
		generate := group
		if h.idempotency != nil {
			generate = group.With(h.idempotency)
		}
		generate.Post("/stories:generate", h.generateStory)
		group.Get("/stories", h.listStories)
		group.Post("/stories", h.saveStory)
		group.Get("/stories/{storyID}", h.getStory)
		group.Delete("/stories/{storyID}", h.deleteStory)
		group.Put("/stories/{storyID}/favorite", h.favoriteStory)
		group.Delete("/stories/{storyID}/favorite", h.unfavoriteStory)
		group.Post("/stories/{storyID}:export", h.exportStory)
	})
}

type generateStoryRequest struct {
	services.StoryPrompt
	Save bool `json:"save"`
}

type saveStoryRequest struct {
	Title   string              `json:"title"`
	Content string              `json:"content"`
	Prompt  services.StoryPrompt `json:"prompt"`
}

type exportStoryRequest struct {
	Format string `json:"format"`
}

type storyResponse struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Content           string `json:"content"`
	Theme             string `json:"theme"`
	AgeGroup          string `json:"age_group"`
	MainCharacter     string `json:"main_character"`
	Setting           string `json:"setting"`
	AdditionalDetails string `json:"additional_details,omitempty"`
	Tier              string `json:"tier"`
	IsFavorite        bool   `json:"is_favorite"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

type generateStoryResponse struct {
	Story            storyResponse `json:"story"`
	Saved            bool          `json:"saved"`
	Fallback         bool          `json:"fallback,omitempty"`
	StoriesRemaining int           `json:"stories_remaining"`
}

type storyListResponse struct {
	Items         []storyResponse `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type storyExportResponse struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	ExpiresAt   string `json:"expires_at"`
	Format      string `json:"format"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

func (h *StoryHandlers) generateStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req generateStoryRequest
	if !decodeJSONBody(w, r, maxGenerateRequestBody, &req, false) {
		return
	}

	result, err := h.stories.GenerateStory(ctx, services.GenerateStoryCommand{
		UserID: identity.UID,
		Prompt: req.StoryPrompt,
		Save:   req.Save,
	})
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}

	observability.AnnotateStory(ctx, observability.StoryAttributes{
		StoryID:  result.Story.ID,
		Tier:     string(result.Story.Tier),
		Theme:    result.Story.Theme,
		AgeGroup: string(result.Story.AgeGroup),
		Fallback: result.Fallback,
		Saved:    result.Saved,
	})

	status := http.StatusOK
	if result.Saved {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, generateStoryResponse{
		Story:            buildStoryResponse(result.Story),
		Saved:            result.Saved,
		Fallback:         result.Fallback,
		StoriesRemaining: result.StoriesRemaining,
	})
}

func (h *StoryHandlers) saveStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req saveStoryRequest
	if !decodeJSONBody(w, r, maxSaveRequestBody, &req, false) {
		return
	}

	story, err := h.stories.SaveStory(ctx, services.SaveStoryCommand{
		UserID:  identity.UID,
		Title:   req.Title,
		Content: req.Content,
		Prompt:  req.Prompt,
	})
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildStoryResponse(story))
}

func (h *StoryHandlers) listStories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}
	favoritesOnly := false
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("favorites"))) {
	case "", "false", "0":
	case "true", "1":
		favoritesOnly = true
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "favorites must be true or false", http.StatusBadRequest))
		return
	}

	page, err := h.stories.ListStories(ctx, services.StoryListFilter{
		UserID:        identity.UID,
		FavoritesOnly: favoritesOnly,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}

	resp := storyListResponse{
		Items:         make([]storyResponse, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, story := range page.Items {
		resp.Items = append(resp.Items, buildStoryResponse(story))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *StoryHandlers) getStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	story, err := h.stories.GetStory(ctx, identity.UID, chi.URLParam(r, "storyID"))
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStoryResponse(story))
}

func (h *StoryHandlers) deleteStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.stories.DeleteStory(ctx, identity.UID, chi.URLParam(r, "storyID")); err != nil {
		writeStoryError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoryHandlers) favoriteStory(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, true)
}

func (h *StoryHandlers) unfavoriteStory(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, false)
}

func (h *StoryHandlers) setFavorite(w http.ResponseWriter, r *http.Request, favorite bool) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	story, err := h.stories.SetFavorite(ctx, services.SetFavoriteCommand{
		UserID:   identity.UID,
		StoryID:  chi.URLParam(r, "storyID"),
		Favorite: favorite,
	})
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStoryResponse(story))
}

func (h *StoryHandlers) exportStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req exportStoryRequest
	if !decodeJSONBody(w, r, maxExportRequestBody, &req, true) {
		return
	}
	format := export.FormatMarkdown
	if strings.TrimSpace(req.Format) != "" {
		parsed, err := export.ParseFormat(req.Format)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_format", err.Error(), http.StatusBadRequest))
			return
		}
		format = parsed
	}

	storyID := chi.URLParam(r, "storyID")
	observability.AnnotateStory(ctx, observability.StoryAttributes{StoryID: storyID, Format: string(format)})
	result, err := h.stories.ExportStory(ctx, services.ExportStoryCommand{
		UserID:  identity.UID,
		StoryID: storyID,
		Format:  format,
	})
	if err != nil {
		writeStoryError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, storyExportResponse{
		URL:         result.URL,
		Method:      result.Method,
		ExpiresAt:   formatTime(result.ExpiresAt),
		Format:      string(result.Format),
		FileName:    result.FileName,
		ContentType: result.ContentType,
	})
}

func buildStoryResponse(story domain.Story) storyResponse {
	return storyResponse{
		ID:                story.ID,
		Title:             story.Title,
		Content:           story.Content,
		Theme:             story.Theme,
		AgeGroup:          string(story.AgeGroup),
		MainCharacter:     story.MainCharacter,
		Setting:           story.Setting,
		AdditionalDetails: story.AdditionalDetails,
		Tier:              string(story.Tier),
		IsFavorite:        story.IsFavorite,
		CreatedAt:         formatTime(story.CreatedAt),
		UpdatedAt:         formatTime(story.UpdatedAt),
	}
}

type fieldErrorResponse struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func writeStoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.ValidationError
	if errors.As(err, &validation) {
		fields := make([]fieldErrorResponse, 0, len(validation.Fields))
		for _, f := range validation.Fields {
			fields = append(fields, fieldErrorResponse{Field: f.Field, Reason: f.Reason})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_prompt", "story prompt is invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fields}))
		return
	}

	switch {
	case errors.Is(err, services.ErrStoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("story_not_found", "story not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStoryQuotaExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("story_quota_exceeded", "monthly story limit reached; upgrade to premium for unlimited stories", http.StatusPaymentRequired).
			WithDetails(map[string]any{"stories_remaining": 0}))
	case errors.Is(err, services.ErrStoryRateLimited):
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many story requests; try again shortly", http.StatusTooManyRequests))
	case errors.Is(err, services.ErrStoryExportRequiresPremium):
		httpx.WriteError(ctx, w, httpx.NewError("premium_required", "story export requires a premium subscription", http.StatusForbidden))
	case errors.Is(err, services.ErrStoryExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "story export is not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrStoryUnavailable), errors.Is(err, services.ErrSubscriptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("story_service_unavailable", "story storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("story_error", err.Error(), http.StatusInternalServerError))
	}
}
