package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/export"
	"github.com/kidsdream/api/internal/platform/pagination"
	"github.com/kidsdream/api/internal/platform/requestctx"
	"github.com/kidsdream/api/internal/platform/storage"
	"github.com/kidsdream/api/internal/repositories"
	"github.com/kidsdream/api/internal/storygen"
)

const (
	maxStoryTitleLength   = 200
	maxStoryContentLength = 20000
)

// GenerationMetrics records generation outcomes. *observability.StoryMetrics satisfies it.
type GenerationMetrics interface {
	StoryGenerated(ctx context.Context, tier, theme string)
	FallbackServed(ctx context.Context, theme string)
	QuotaExceeded(ctx context.Context)
}

// ExportStore uploads rendered exports and returns a signed download link.
type ExportStore interface {
	Put(ctx context.Context, file storage.ExportFile) (storage.SignedURLResult, error)
}

// StoryServiceDeps bundles collaborators required to construct a StoryService.
type StoryServiceDeps struct {
	Stories       repositories.StoryRepository
	Subscriptions repositories.SubscriptionRepository
	Generator     StoryGenerator
	Themes        ThemeCatalog
	Renderer      StoryRenderer
	Exports       ExportStore
	Events        EventPublisher
	RateLimiter   RateLimiter
	Metrics       GenerationMetrics
	Logger        *zap.Logger
	Clock         func() time.Time
	IDGenerator   func() string
	FreeQuota     int
}

type storyService struct {
	stories       repositories.StoryRepository
	subscriptions repositories.SubscriptionRepository
	generator     StoryGenerator
	themes        ThemeCatalog
	renderer      StoryRenderer
	exports       ExportStore
	events        EventPublisher
	limiter       RateLimiter
	metrics       GenerationMetrics
	logger        *zap.Logger
	clock         func() time.Time
	newID         func() string
	freeQuota     int
}

var _ StoryService = (*storyService)(nil)

// NewStoryService wires dependencies into a concrete StoryService implementation.
func NewStoryService(deps StoryServiceDeps) (StoryService, error) {
	if deps.Stories == nil {
		return nil, errors.New("story service: story repository is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("story service: subscription repository is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("story service: generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = export.NewRenderer()
	}
	quota := deps.FreeQuota
	if quota <= 0 {
		quota = DefaultFreeMonthlyQuota
	}

	return &storyService{
		stories:       deps.Stories,
		subscriptions: deps.Subscriptions,
		generator:     deps.Generator,
		themes:        deps.Themes,
		renderer:      renderer,
		exports:       deps.Exports,
		events:        deps.Events,
		limiter:       deps.RateLimiter,
		metrics:       metrics,
		logger:        logger.Named("stories"),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		freeQuota: quota,
	}, nil
}

func (s *storyService) GenerateStory(ctx context.Context, cmd GenerateStoryCommand) (GenerateStoryResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return GenerateStoryResult{}, fmt.Errorf("%w: user id is required", ErrStoryInvalidInput)
	}
	prompt, err := ValidatePrompt(cmd.Prompt)
	if err != nil {
		return GenerateStoryResult{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(userID) {
		return GenerateStoryResult{}, ErrStoryRateLimited
	}

	now := s.clock()
	sub, err := loadSubscription(ctx, s.subscriptions, userID, s.freeQuota, now)
	if err != nil {
		return GenerateStoryResult{}, err
	}
	premium := sub.IsPremium()
	if !premium && sub.Remaining() <= 0 {
		s.metrics.QuotaExceeded(ctx)
		return GenerateStoryResult{}, ErrStoryQuotaExceeded
	}

	generated, fallback, err := s.generate(ctx, prompt, premium)
	if err != nil {
		return GenerateStoryResult{}, err
	}

	usage, err := s.subscriptions.Consume(ctx, userID, newFreeSubscription(userID, s.freeQuota, now), now)
	if err != nil {
		if errors.Is(err, repositories.ErrQuotaExhausted) {
			s.metrics.QuotaExceeded(ctx)
			return GenerateStoryResult{}, ErrStoryQuotaExceeded
		}
		return GenerateStoryResult{}, fmt.Errorf("%w: consume: %v", ErrSubscriptionUnavailable, err)
	}

	story := Story{
		ID:                s.newID(),
		UserID:            userID,
		Title:             generated.Title,
		Content:           generated.Content,
		Theme:             prompt.Theme,
		AgeGroup:          prompt.AgeGroup,
		MainCharacter:     prompt.MainCharacter,
		Setting:           prompt.Setting,
		AdditionalDetails: prompt.AdditionalDetails,
		Tier:              domain.TierFor(premium),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	result := GenerateStoryResult{
		Story:            story,
		Fallback:         fallback,
		StoriesRemaining: usage.StoriesRemaining,
	}
	if premium {
		result.StoriesRemaining = domain.UnlimitedStories
	}

	if cmd.Save {
		saved, err := s.stories.Insert(ctx, story)
		if err != nil {
			s.log(ctx).Error("story save after generation failed",
				zap.String("storyId", story.ID), zap.Error(err))
		} else {
			result.Story = saved
			result.Saved = true
		}
	}

	s.metrics.StoryGenerated(ctx, string(story.Tier), story.Theme)
	s.publish(ctx, StoryEvent{
		Type:       domain.EventStoryGenerated,
		UserID:     userID,
		StoryID:    story.ID,
		Theme:      story.Theme,
		Tier:       story.Tier,
		OccurredAt: now,
	})
	return result, nil
}

func (s *storyService) generate(ctx context.Context, prompt StoryPrompt, premium bool) (domain.GeneratedStory, bool, error) {
	generated, err := s.generator.Generate(prompt, premium)
	if err == nil {
		return generated, false, nil
	}
	var cfgErr *storygen.ConfigurationError
	if errors.As(err, &cfgErr) {
		s.log(ctx).Error("story corpus misconfigured; serving fallback story",
			zap.String("pool", cfgErr.Pool),
			zap.String("theme", cfgErr.Theme),
			zap.String("tier", cfgErr.Tier),
			zap.Error(err))
		s.metrics.FallbackServed(ctx, prompt.Theme)
		return storygen.FallbackStory(prompt), true, nil
	}
	return domain.GeneratedStory{}, false, fmt.Errorf("story: generate: %w", err)
}

func (s *storyService) SaveStory(ctx context.Context, cmd SaveStoryCommand) (Story, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Story{}, fmt.Errorf("%w: user id is required", ErrStoryInvalidInput)
	}
	prompt, err := ValidatePrompt(cmd.Prompt)
	if err != nil {
		return Story{}, err
	}
	title := strings.TrimSpace(cmd.Title)
	content := strings.TrimSpace(cmd.Content)
	var fields []FieldError
	switch {
	case title == "":
		fields = append(fields, FieldError{Field: "title", Reason: "is required"})
	case utf8.RuneCountInString(title) > maxStoryTitleLength:
		fields = append(fields, FieldError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", maxStoryTitleLength)})
	}
	switch {
	case content == "":
		fields = append(fields, FieldError{Field: "content", Reason: "is required"})
	case utf8.RuneCountInString(content) > maxStoryContentLength:
		fields = append(fields, FieldError{Field: "content", Reason: fmt.Sprintf("must be at most %d characters", maxStoryContentLength)})
	}
	if len(fields) > 0 {
		return Story{}, &ValidationError{Fields: fields}
	}

	now := s.clock()
	tier := domain.TierFree
	if sub, err := loadSubscription(ctx, s.subscriptions, userID, s.freeQuota, now); err == nil {
		tier = sub.Tier
	} else {
		s.log(ctx).Warn("subscription lookup failed while saving story", zap.Error(err))
	}

	story := Story{
		ID:                s.newID(),
		UserID:            userID,
		Title:             title,
		Content:           content,
		Theme:             prompt.Theme,
		AgeGroup:          prompt.AgeGroup,
		MainCharacter:     prompt.MainCharacter,
		Setting:           prompt.Setting,
		AdditionalDetails: prompt.AdditionalDetails,
		Tier:              tier,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	saved, err := s.stories.Insert(ctx, story)
	if err != nil {
		return Story{}, s.mapStoryError(err)
	}
	return saved, nil
}

func (s *storyService) ListStories(ctx context.Context, filter StoryListFilter) (domain.CursorPage[Story], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	if filter.UserID == "" {
		return domain.CursorPage[Story]{}, fmt.Errorf("%w: user id is required", ErrStoryInvalidInput)
	}
	if filter.Pagination.PageSize > pagination.DefaultMaxPageSize {
		filter.Pagination.PageSize = pagination.DefaultMaxPageSize
	}
	page, err := s.stories.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Story]{}, fmt.Errorf("%w: invalid page token", ErrStoryInvalidInput)
		}
		return domain.CursorPage[Story]{}, s.mapStoryError(err)
	}
	return page, nil
}

func (s *storyService) GetStory(ctx context.Context, userID, storyID string) (Story, error) {
	userID, storyID, err := storyKey(userID, storyID)
	if err != nil {
		return Story{}, err
	}
	story, err := s.stories.Get(ctx, userID, storyID)
	if err != nil {
		return Story{}, s.mapStoryError(err)
	}
	return story, nil
}

func (s *storyService) SetFavorite(ctx context.Context, cmd SetFavoriteCommand) (Story, error) {
	userID, storyID, err := storyKey(cmd.UserID, cmd.StoryID)
	if err != nil {
		return Story{}, err
	}
	story, err := s.stories.SetFavorite(ctx, userID, storyID, cmd.Favorite, s.clock())
	if err != nil {
		return Story{}, s.mapStoryError(err)
	}
	return story, nil
}

func (s *storyService) DeleteStory(ctx context.Context, userID, storyID string) error {
	userID, storyID, err := storyKey(userID, storyID)
	if err != nil {
		return err
	}
	if err := s.stories.Delete(ctx, userID, storyID); err != nil {
		return s.mapStoryError(err)
	}
	s.publish(ctx, StoryEvent{
		Type:       domain.EventStoryDeleted,
		UserID:     userID,
		StoryID:    storyID,
		OccurredAt: s.clock(),
	})
	return nil
}

func (s *storyService) ExportStory(ctx context.Context, cmd ExportStoryCommand) (StoryExport, error) {
	userID, storyID, err := storyKey(cmd.UserID, cmd.StoryID)
	if err != nil {
		return StoryExport{}, err
	}
	format := cmd.Format
	switch format {
	case export.FormatText, export.FormatMarkdown, export.FormatHTML:
	default:
		return StoryExport{}, fmt.Errorf("%w: format must be text, markdown or html", ErrStoryInvalidInput)
	}
	if s.exports == nil {
		return StoryExport{}, ErrStoryExportUnavailable
	}

	now := s.clock()
	if format != export.FormatText {
		sub, err := loadSubscription(ctx, s.subscriptions, userID, s.freeQuota, now)
		if err != nil {
			return StoryExport{}, err
		}
		if !sub.IsPremium() {
			return StoryExport{}, ErrStoryExportRequiresPremium
		}
	}

	story, err := s.stories.Get(ctx, userID, storyID)
	if err != nil {
		return StoryExport{}, s.mapStoryError(err)
	}
	doc, err := s.renderer.Render(story, format)
	if err != nil {
		return StoryExport{}, fmt.Errorf("story: render export: %w", err)
	}
	object, err := storage.ExportObjectPath(storage.ExportPathParams{
		UserID:    userID,
		StoryID:   storyID,
		Extension: doc.Extension,
		CreatedAt: now,
	})
	if err != nil {
		return StoryExport{}, fmt.Errorf("%w: %v", ErrStoryInvalidInput, err)
	}
	fileName := exportFileName(story.Title, doc.Extension)
	signed, err := s.exports.Put(ctx, storage.ExportFile{
		Object:      object,
		FileName:    fileName,
		ContentType: doc.ContentType,
		Data:        doc.Data,
	})
	if err != nil {
		s.log(ctx).Error("story export upload failed", zap.String("storyId", storyID), zap.Error(err))
		return StoryExport{}, fmt.Errorf("%w: %v", ErrStoryExportUnavailable, err)
	}
	return StoryExport{
		URL:         signed.URL,
		Method:      signed.Method,
		ExpiresAt:   signed.ExpiresAt,
		Format:      format,
		FileName:    fileName,
		ContentType: doc.ContentType,
	}, nil
}

func (s *storyService) ListThemes(context.Context) []ThemeSummary {
	if s.themes == nil {
		return nil
	}
	return s.themes.Themes()
}

func (s *storyService) publish(ctx context.Context, event StoryEvent) {
	if s.events == nil {
		return
	}
	// Delivery is detached from request cancellation.
	if _, err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log(ctx).Warn("story event publish failed",
			zap.String("type", event.Type),
			zap.String("storyId", event.StoryID),
			zap.Error(err))
	}
}

func (s *storyService) log(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return s.logger
}

func (s *storyService) mapStoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrStoryNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStoryInvalidInput, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoryUnavailable, err)
}

func storyKey(userID, storyID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	storyID = strings.TrimSpace(storyID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrStoryInvalidInput)
	}
	if storyID == "" || strings.Contains(storyID, "/") {
		return "", "", fmt.Errorf("%w: story id is invalid", ErrStoryInvalidInput)
	}
	return userID, storyID, nil
}

func exportFileName(title, ext string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = "story"
	}
	if len(name) > 60 {
		name = strings.TrimSuffix(name[:60], "-")
	}
	return name + "." + ext
}

type noopMetrics struct{}

func (noopMetrics) StoryGenerated(context.Context, string, string) {}
func (noopMetrics) FallbackServed(context.Context, string)         {}
func (noopMetrics) QuotaExceeded(context.Context)                  {}
