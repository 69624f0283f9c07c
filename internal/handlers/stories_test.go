package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/export"
	"github.com/kidsdream/api/internal/platform/idempotency"
	"github.com/kidsdream/api/internal/platform/observability"
	"github.com/kidsdream/api/internal/services"
)

const generateBody = `{"main_character":"Luna","age_group":"6-8","setting":"an enchanted forest","theme":"friendship","save":true}`

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
}

func TestGenerateStorySavesAndReportsQuota(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "user-1", generateBody))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Story struct {
			ID            string `json:"id"`
			MainCharacter string `json:"main_character"`
			AgeGroup      string `json:"age_group"`
		} `json:"story"`
		Saved            bool `json:"saved"`
		StoriesRemaining int  `json:"stories_remaining"`
	}
	decodeBody(t, rr, &body)
	if !body.Saved || body.StoriesRemaining != 4 || body.Story.MainCharacter != "Luna" || body.Story.AgeGroup != "6-8" {
		t.Fatalf("unexpected response %+v", body)
	}

	cmd := stories.generateCalls[0]
	if cmd.UserID != "user-1" || !cmd.Save || cmd.Prompt.Setting != "an enchanted forest" || cmd.Prompt.AgeGroup != domain.AgeGroupEarly {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestGenerateStoryAnnotatesAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := newTestRouter(testRouterDeps{
		stories: newStubStoryService(),
		middlewares: []func(http.Handler) http.Handler{
			observability.InjectLoggerMiddleware(zap.New(core)),
			observability.RequestLoggerMiddleware(),
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "user-1", generateBody))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["userId"] != "user-1" || fields["story.id"] != "story-1" || fields["story.theme"] != "friendship" || fields["story.saved"] != true {
		t.Fatalf("expected story annotations on access log, got %v", fields)
	}
	if _, ok := fields["story.fallback"]; ok {
		t.Fatalf("expected fallback to be omitted for a generated story")
	}
}

func TestGenerateStoryWithoutSaveReturnsOK(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories})

	body := strings.Replace(generateBody, `"save":true`, `"save":false`, 1)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "user-1", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestGenerateStoryRequiresAuthentication(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "", generateBody))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(stories.generateCalls) != 0 {
		t.Fatalf("service should not be called")
	}
}

func TestGenerateStoryErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "validation",
			err:    &services.ValidationError{Fields: []services.FieldError{{Field: "main_character", Reason: "is required"}}},
			status: http.StatusBadRequest,
			code:   "invalid_prompt",
		},
		{name: "quota", err: fmt.Errorf("%w: none left", services.ErrStoryQuotaExceeded), status: http.StatusPaymentRequired, code: "story_quota_exceeded"},
		{name: "rate limited", err: services.ErrStoryRateLimited, status: http.StatusTooManyRequests, code: "rate_limited"},
		{name: "subscription store", err: services.ErrSubscriptionUnavailable, status: http.StatusServiceUnavailable, code: "story_service_unavailable"},
		{name: "unexpected", err: errStubFailure, status: http.StatusInternalServerError, code: "story_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stories := newStubStoryService()
			stories.generateErr = tc.err
			router := newTestRouter(testRouterDeps{stories: stories})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "user-1", generateBody))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			decodeBody(t, rr, &body)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.name == "validation" {
				fields, _ := body["fields"].([]any)
				if len(fields) != 1 {
					t.Fatalf("expected field details, got %v", body)
				}
			}
			if tc.name == "rate limited" && rr.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}

func TestGenerateStoryRejectsBadBodies(t *testing.T) {
	router := newTestRouter(testRouterDeps{stories: newStubStoryService()})

	cases := map[string]struct {
		body   string
		status int
	}{
		"empty":     {body: "", status: http.StatusBadRequest},
		"malformed": {body: "{", status: http.StatusBadRequest},
		"too large": {body: `{"additional_details":"` + strings.Repeat("a", maxGenerateRequestBody) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", "user-1", tc.body)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestGenerateStoryReplaysIdempotentRequests(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories, idempotency: idempotency.NewMemoryStore()})

	send := func(uid string) *httptest.ResponseRecorder {
		req := newAuthedRequest(http.MethodPost, "/api/v1/stories:generate", uid, generateBody)
		req.Header.Set("Idempotency-Key", "gen-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send("user-1")
	second := send("user-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected replayed body")
	}
	if len(stories.generateCalls) != 1 {
		t.Fatalf("expected one generation, got %d", len(stories.generateCalls))
	}

	if rr := send("user-2"); rr.Code != http.StatusCreated {
		t.Fatalf("expected other user to generate, got %d", rr.Code)
	}
	if len(stories.generateCalls) != 2 {
		t.Fatalf("expected keys to be scoped per user")
	}
}

func TestSaveStory(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories})

	body := `{"title":"My Story","content":"Once upon a time.","prompt":{"main_character":"Luna","age_group":"3-5","setting":"a farm","theme":"animals"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories", "user-1", body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := stories.saved[0]; got.Title != "My Story" || got.Prompt.Theme != "animals" || got.UserID != "user-1" {
		t.Fatalf("unexpected save command %+v", got)
	}
}

func TestListStoriesPassesFilters(t *testing.T) {
	stories := newStubStoryService()
	stories.listPage = domain.CursorPage[domain.Story]{
		Items:         []domain.Story{sampleStory("user-1", "s1")},
		NextPageToken: "next",
	}
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/api/v1/stories?favorites=true&pageSize=5", "user-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !stories.lastFilter.FavoritesOnly || stories.lastFilter.Pagination.PageSize != 5 || stories.lastFilter.UserID != "user-1" {
		t.Fatalf("unexpected filter %+v", stories.lastFilter)
	}
	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		NextPageToken string `json:"next_page_token"`
	}
	decodeBody(t, rr, &body)
	if len(body.Items) != 1 || body.Items[0].ID != "s1" || body.NextPageToken != "next" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestListStoriesRejectsBadQuery(t *testing.T) {
	router := newTestRouter(testRouterDeps{stories: newStubStoryService()})

	for _, target := range []string{"/api/v1/stories?favorites=maybe", "/api/v1/stories?pageSize=-3"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, target, "user-1", ""))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestStoryLibraryRoutes(t *testing.T) {
	stories := newStubStoryService()
	stories.stories["user-1/s1"] = sampleStory("user-1", "s1")
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/api/v1/stories/s1", "user-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/api/v1/stories/s1", "user-2", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get other user: expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPut, "/api/v1/stories/s1/favorite", "user-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("favorite: expected 200, got %d", rr.Code)
	}
	var fav struct {
		IsFavorite bool `json:"is_favorite"`
	}
	decodeBody(t, rr, &fav)
	if !fav.IsFavorite {
		t.Fatalf("expected favorite flag in response")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodDelete, "/api/v1/stories/s1/favorite", "user-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("unfavorite: expected 200, got %d", rr.Code)
	}
	if len(stories.favorites) != 2 || stories.favorites[1].Favorite {
		t.Fatalf("unexpected favorite commands %+v", stories.favorites)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodDelete, "/api/v1/stories/s1", "user-1", ""))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	if len(stories.deleted) != 1 || stories.deleted[0] != "s1" {
		t.Fatalf("expected s1 deleted, got %v", stories.deleted)
	}
}

func TestExportStory(t *testing.T) {
	stories := newStubStoryService()
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories/s1:export", "user-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := stories.exports[0]; got.StoryID != "s1" || got.Format != export.FormatMarkdown {
		t.Fatalf("expected markdown export of s1, got %+v", got)
	}
	var body struct {
		URL       string `json:"url"`
		ExpiresAt string `json:"expires_at"`
	}
	decodeBody(t, rr, &body)
	if body.URL == "" || body.ExpiresAt == "" {
		t.Fatalf("expected signed url, got %+v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories/s1:export", "user-1", `{"format":"html"}`))
	if rr.Code != http.StatusOK || stories.exports[1].Format != export.FormatHTML {
		t.Fatalf("expected html export, got %d %+v", rr.Code, stories.exports)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories/s1:export", "user-1", `{"format":"text"}`))
	if rr.Code != http.StatusOK || stories.exports[2].Format != export.FormatText {
		t.Fatalf("expected text export, got %d %+v", rr.Code, stories.exports)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories/s1:export", "user-1", `{"format":"pdf"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for pdf, got %d", rr.Code)
	}
}

func TestExportStoryRequiresPremium(t *testing.T) {
	stories := newStubStoryService()
	stories.exportErr = services.ErrStoryExportRequiresPremium
	router := newTestRouter(testRouterDeps{stories: stories})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/stories/s1:export", "user-1", `{"format":"markdown"}`))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestStoryRoutesWithoutService(t *testing.T) {
	router := newTestRouter(testRouterDeps{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/api/v1/stories", "user-1", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
