package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/payments"
	pfirestore "github.com/kidsdream/api/internal/platform/firestore"
	"github.com/kidsdream/api/internal/platform/storage"
	"github.com/kidsdream/api/internal/repositories"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func validPrompt() StoryPrompt {
	return StoryPrompt{
		MainCharacter: "Luna",
		AgeGroup:      domain.AgeGroupEarly,
		Setting:       "an enchanted forest",
		Theme:         "friendship",
	}
}

type stubStoryRepository struct {
	mu        sync.Mutex
	stories   map[string]domain.Story
	insertErr error
	listErr   error
	lastList  domain.StoryListFilter
}

func newStubStoryRepository() *stubStoryRepository {
	return &stubStoryRepository{stories: make(map[string]domain.Story)}
}

func (r *stubStoryRepository) key(userID, storyID string) string { return userID + "/" + storyID }

func (r *stubStoryRepository) Insert(_ context.Context, story domain.Story) (domain.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return domain.Story{}, r.insertErr
	}
	r.stories[r.key(story.UserID, story.ID)] = story
	return story, nil
}

func (r *stubStoryRepository) Get(_ context.Context, userID, storyID string) (domain.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[r.key(userID, storyID)]
	if !ok {
		return domain.Story{}, pfirestore.NotFoundError("stories.get", "story")
	}
	return story, nil
}

func (r *stubStoryRepository) List(_ context.Context, filter domain.StoryListFilter) (domain.CursorPage[domain.Story], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastList = filter
	if r.listErr != nil {
		return domain.CursorPage[domain.Story]{}, r.listErr
	}
	page := domain.CursorPage[domain.Story]{}
	for _, story := range r.stories {
		if story.UserID != filter.UserID || (filter.FavoritesOnly && !story.IsFavorite) {
			continue
		}
		page.Items = append(page.Items, story)
	}
	return page, nil
}

func (r *stubStoryRepository) SetFavorite(_ context.Context, userID, storyID string, favorite bool, at time.Time) (domain.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[r.key(userID, storyID)]
	if !ok {
		return domain.Story{}, pfirestore.NotFoundError("stories.favorite", "story")
	}
	story.IsFavorite = favorite
	story.UpdatedAt = at
	r.stories[r.key(userID, storyID)] = story
	return story, nil
}

func (r *stubStoryRepository) Delete(_ context.Context, userID, storyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stories[r.key(userID, storyID)]; !ok {
		return pfirestore.NotFoundError("stories.delete", "story")
	}
	delete(r.stories, r.key(userID, storyID))
	return nil
}

type stubSubscriptionRepository struct {
	mu           sync.Mutex
	subs         map[string]domain.Subscription
	getErr       error
	consumeErr   error
	applied      []domain.SubscriptionChange
	customerSets map[string]string
	resetCalls   int
	resetNext    time.Time
	resetQuota   int
	resetCount   int
}

func newStubSubscriptionRepository() *stubSubscriptionRepository {
	return &stubSubscriptionRepository{
		subs:         make(map[string]domain.Subscription),
		customerSets: make(map[string]string),
	}
}

func (r *stubSubscriptionRepository) Get(_ context.Context, userID string) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.Subscription{}, r.getErr
	}
	sub, ok := r.subs[userID]
	if !ok {
		return domain.Subscription{}, pfirestore.NotFoundError("subscriptions.get", "subscription")
	}
	return sub, nil
}

func (r *stubSubscriptionRepository) Consume(_ context.Context, userID string, initial domain.Subscription, now time.Time) (domain.UsageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumeErr != nil {
		return domain.UsageResult{}, r.consumeErr
	}
	sub, ok := r.subs[userID]
	if !ok {
		sub = initial
	}
	if !sub.IsPremium() {
		if sub.StoriesRemaining <= 0 {
			return domain.UsageResult{}, repositories.ErrQuotaExhausted
		}
		sub.StoriesRemaining--
	}
	sub.StoriesGenerated++
	sub.UpdatedAt = now
	r.subs[userID] = sub
	return domain.UsageResult{Tier: sub.Tier, StoriesRemaining: sub.Remaining(), StoriesGenerated: sub.StoriesGenerated}, nil
}

func (r *stubSubscriptionRepository) Apply(_ context.Context, change domain.SubscriptionChange, initial domain.Subscription, now time.Time) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, change)
	sub, ok := r.subs[change.UserID]
	if !ok {
		sub = initial
	}
	sub.Tier = change.Tier
	sub.StoriesRemaining = change.StoriesRemaining
	if change.StripeCustomerID != "" {
		sub.StripeCustomerID = change.StripeCustomerID
	}
	if change.StripeSubscriptionID != "" {
		sub.StripeSubscriptionID = change.StripeSubscriptionID
	}
	if change.SubscriptionStatus != "" {
		sub.SubscriptionStatus = change.SubscriptionStatus
	}
	sub.UpdatedAt = now
	r.subs[change.UserID] = sub
	return sub, nil
}

func (r *stubSubscriptionRepository) SetCustomerID(_ context.Context, userID, customerID string, initial domain.Subscription, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		sub = initial
	}
	sub.StripeCustomerID = customerID
	r.subs[userID] = sub
	r.customerSets[userID] = customerID
	return nil
}

func (r *stubSubscriptionRepository) FindByCustomerID(_ context.Context, customerID string) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.StripeCustomerID == customerID {
			return sub, nil
		}
	}
	return domain.Subscription{}, pfirestore.NotFoundError("subscriptions.findByCustomer", "subscription")
}

func (r *stubSubscriptionRepository) ResetDue(_ context.Context, now time.Time, quota int, nextReset time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCalls++
	r.resetQuota = quota
	r.resetNext = nextReset
	return r.resetCount, nil
}

type stubGenerator struct {
	story domain.GeneratedStory
	err   error
	calls int
	tiers []bool
}

func (g *stubGenerator) Generate(prompt StoryPrompt, isPremium bool) (domain.GeneratedStory, error) {
	g.calls++
	g.tiers = append(g.tiers, isPremium)
	if g.err != nil {
		return domain.GeneratedStory{}, g.err
	}
	if g.story.Title != "" {
		return g.story, nil
	}
	return domain.GeneratedStory{Title: "The Friendship of " + prompt.MainCharacter, Content: "Once upon a time."}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StoryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event StoryEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-1", p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubExportStore struct {
	files []storage.ExportFile
	err   error
}

func (s *stubExportStore) Put(_ context.Context, file storage.ExportFile) (storage.SignedURLResult, error) {
	s.files = append(s.files, file)
	if s.err != nil {
		return storage.SignedURLResult{}, s.err
	}
	return storage.SignedURLResult{
		URL:       "https://storage.example/" + file.Object,
		Method:    "GET",
		ExpiresAt: fixedNow.Add(15 * time.Minute),
	}, nil
}

type stubBilling struct {
	customerID  string
	customerErr error
	customers   []payments.CustomerRequest
	session     payments.CheckoutSession
	sessionErr  error
	sessions    []payments.CheckoutSessionRequest
}

func (b *stubBilling) CreateCustomer(_ context.Context, req payments.CustomerRequest) (string, error) {
	b.customers = append(b.customers, req)
	return b.customerID, b.customerErr
}

func (b *stubBilling) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	b.sessions = append(b.sessions, req)
	return b.session, b.sessionErr
}

type staticLimiter struct{ allow bool }

func (l staticLimiter) Allow(string) bool { return l.allow }
