package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/platform/auth"
	"github.com/kidsdream/api/internal/services"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// tokenVerifier accepts "token-<uid>" bearer tokens.
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	uid, ok := strings.CutPrefix(idToken, "token-")
	if !ok || uid == "" {
		return nil, auth.ErrTokenInvalid
	}
	return &firebaseauth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com"}}, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

func newAuthedRequest(method, target, uid, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set("Authorization", "Bearer token-"+uid)
	}
	return req
}

func sampleStory(userID, storyID string) domain.Story {
	return domain.Story{
		ID:            storyID,
		UserID:        userID,
		Title:         "Luna and the Friendship Forest",
		Content:       "Once upon a time.\n\nThe end.",
		Theme:         "friendship",
		AgeGroup:      domain.AgeGroupEarly,
		MainCharacter: "Luna",
		Setting:       "an enchanted forest",
		Tier:          domain.TierFree,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

type stubStoryService struct {
	mu sync.Mutex

	generateCalls []services.GenerateStoryCommand
	generateErr   error
	remaining     int

	saved   []services.SaveStoryCommand
	saveErr error

	lastFilter services.StoryListFilter
	listPage   domain.CursorPage[domain.Story]
	listErr    error

	stories   map[string]domain.Story
	deleted   []string
	favorites []services.SetFavoriteCommand

	exports   []services.ExportStoryCommand
	exportErr error

	themes []services.ThemeSummary
}

func newStubStoryService() *stubStoryService {
	return &stubStoryService{stories: make(map[string]domain.Story), remaining: 4}
}

func (s *stubStoryService) GenerateStory(_ context.Context, cmd services.GenerateStoryCommand) (services.GenerateStoryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCalls = append(s.generateCalls, cmd)
	if s.generateErr != nil {
		return services.GenerateStoryResult{}, s.generateErr
	}
	story := sampleStory(cmd.UserID, "story-1")
	story.MainCharacter = cmd.Prompt.MainCharacter
	return services.GenerateStoryResult{Story: story, Saved: cmd.Save, StoriesRemaining: s.remaining}, nil
}

func (s *stubStoryService) SaveStory(_ context.Context, cmd services.SaveStoryCommand) (services.Story, error) {
	s.saved = append(s.saved, cmd)
	if s.saveErr != nil {
		return services.Story{}, s.saveErr
	}
	story := sampleStory(cmd.UserID, "story-2")
	story.Title = cmd.Title
	story.Content = cmd.Content
	return story, nil
}

func (s *stubStoryService) ListStories(_ context.Context, filter services.StoryListFilter) (domain.CursorPage[services.Story], error) {
	s.lastFilter = filter
	return s.listPage, s.listErr
}

func (s *stubStoryService) GetStory(_ context.Context, userID, storyID string) (services.Story, error) {
	story, ok := s.stories[userID+"/"+storyID]
	if !ok {
		return services.Story{}, services.ErrStoryNotFound
	}
	return story, nil
}

func (s *stubStoryService) SetFavorite(_ context.Context, cmd services.SetFavoriteCommand) (services.Story, error) {
	s.favorites = append(s.favorites, cmd)
	story, ok := s.stories[cmd.UserID+"/"+cmd.StoryID]
	if !ok {
		return services.Story{}, services.ErrStoryNotFound
	}
	story.IsFavorite = cmd.Favorite
	return story, nil
}

func (s *stubStoryService) DeleteStory(_ context.Context, userID, storyID string) error {
	if _, ok := s.stories[userID+"/"+storyID]; !ok {
		return services.ErrStoryNotFound
	}
	s.deleted = append(s.deleted, storyID)
	return nil
}

func (s *stubStoryService) ExportStory(_ context.Context, cmd services.ExportStoryCommand) (services.StoryExport, error) {
	s.exports = append(s.exports, cmd)
	if s.exportErr != nil {
		return services.StoryExport{}, s.exportErr
	}
	return services.StoryExport{
		URL:         "https://storage.example/exports/" + cmd.StoryID,
		Method:      http.MethodGet,
		ExpiresAt:   testNow.Add(15 * time.Minute),
		Format:      cmd.Format,
		FileName:    "story." + string(cmd.Format),
		ContentType: "text/markdown; charset=utf-8",
	}, nil
}

func (s *stubStoryService) ListThemes(context.Context) []services.ThemeSummary {
	return s.themes
}

type stubSubscriptionService struct {
	status      services.SubscriptionStatus
	statusErr   error
	checkout    services.CheckoutSessionResult
	checkoutErr error
	checkouts   []services.CheckoutCommand
	events      []services.BillingEvent
	eventErr    error
	resetCount  int
	resetErr    error
	plans       []services.Plan
}

func (s *stubSubscriptionService) Status(context.Context, string) (services.SubscriptionStatus, error) {
	return s.status, s.statusErr
}

func (s *stubSubscriptionService) Plans(context.Context) []services.Plan {
	return s.plans
}

func (s *stubSubscriptionService) CreateCheckoutSession(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutSessionResult, error) {
	s.checkouts = append(s.checkouts, cmd)
	return s.checkout, s.checkoutErr
}

func (s *stubSubscriptionService) HandleStripeEvent(_ context.Context, event services.BillingEvent) error {
	s.events = append(s.events, event)
	return s.eventErr
}

func (s *stubSubscriptionService) ResetMonthlyQuotas(context.Context) (int, error) {
	return s.resetCount, s.resetErr
}

var (
	_ services.StoryService        = (*stubStoryService)(nil)
	_ services.SubscriptionService = (*stubSubscriptionService)(nil)
)

var errStubFailure = errors.New("stub failure")
