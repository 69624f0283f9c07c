package services

import (
	"context"
	"time"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/export"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Story              = domain.Story
	StoryPrompt        = domain.StoryPrompt
	Subscription       = domain.Subscription
	ThemeSummary       = domain.ThemeSummary
	Plan               = domain.Plan
	BillingEvent       = domain.BillingEvent
	StoryEvent         = domain.StoryEvent
	SystemHealthReport = domain.SystemHealthReport
)

// StoryService generates stories against the caller's subscription and manages
// the saved library.
type StoryService interface {
	GenerateStory(ctx context.Context, cmd GenerateStoryCommand) (GenerateStoryResult, error)
	SaveStory(ctx context.Context, cmd SaveStoryCommand) (Story, error)
	ListStories(ctx context.Context, filter StoryListFilter) (domain.CursorPage[Story], error)
	GetStory(ctx context.Context, userID, storyID string) (Story, error)
	SetFavorite(ctx context.Context, cmd SetFavoriteCommand) (Story, error)
	DeleteStory(ctx context.Context, userID, storyID string) error
	ExportStory(ctx context.Context, cmd ExportStoryCommand) (StoryExport, error)
	ListThemes(ctx context.Context) []ThemeSummary
}

// SubscriptionService reports usage and reconciles billing state.
type SubscriptionService interface {
	Status(ctx context.Context, userID string) (SubscriptionStatus, error)
	Plans(ctx context.Context) []Plan
	CreateCheckoutSession(ctx context.Context, cmd CheckoutCommand) (CheckoutSessionResult, error)
	HandleStripeEvent(ctx context.Context, event BillingEvent) error
	ResetMonthlyQuotas(ctx context.Context) (int, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher delivers story lifecycle events. Implementations return the broker message id.
// TierClaimWriter mirrors a user's tier onto their identity token.
type TierClaimWriter interface {
	SetTierClaim(ctx context.Context, uid, tier string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event StoryEvent) (string, error)
}

// StoryGenerator produces story text for a validated prompt.
type StoryGenerator interface {
	Generate(prompt StoryPrompt, isPremium bool) (domain.GeneratedStory, error)
}

// ThemeCatalog lists the themes the generator can write about.
type ThemeCatalog interface {
	Themes() []ThemeSummary
}

// StoryRenderer renders a story into a downloadable document.
type StoryRenderer interface {
	Render(story Story, format export.Format) (export.Document, error)
}

// GenerateStoryCommand requests a new story for a user.
type GenerateStoryCommand struct {
	UserID string
	Prompt StoryPrompt
	Save   bool
}

// GenerateStoryResult carries the story and the caller's remaining allowance.
// StoriesRemaining is domain.UnlimitedStories for premium callers.
type GenerateStoryResult struct {
	Story            Story
	Saved            bool
	Fallback         bool
	StoriesRemaining int
}

// SaveStoryCommand persists a story the client already holds.
type SaveStoryCommand struct {
	UserID  string
	Title   string
	Content string
	Prompt  StoryPrompt
}

// StoryListFilter narrows a user's library.
type StoryListFilter = domain.StoryListFilter

// SetFavoriteCommand toggles the favorite flag on a saved story.
type SetFavoriteCommand struct {
	UserID   string
	StoryID  string
	Favorite bool
}

// ExportStoryCommand requests a downloadable copy of a saved story.
type ExportStoryCommand struct {
	UserID  string
	StoryID string
	Format  export.Format
}

// StoryExport points at an uploaded export.
type StoryExport struct {
	URL         string
	Method      string
	ExpiresAt   time.Time
	Format      export.Format
	FileName    string
	ContentType string
}

// SubscriptionStatus is the usage summary shown to a signed-in user.
type SubscriptionStatus struct {
	Tier               domain.Tier
	StoriesRemaining   int
	StoriesGenerated   int
	MonthlyQuota       int
	SubscriptionStatus string
	ResetsAt           time.Time
	DaysUntilReset     int
	ResetsIn           string
}

// CheckoutCommand starts a premium upgrade for a user.
type CheckoutCommand struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

// CheckoutSessionResult identifies the hosted checkout page.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}
