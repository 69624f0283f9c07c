package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kidsdream/api/internal/domain"
	pfirestore "github.com/kidsdream/api/internal/platform/firestore"
	"github.com/kidsdream/api/internal/platform/pagination"
	"github.com/kidsdream/api/internal/repositories"
)

const storyCollectionPattern = "users/%s/stories"

// StoryRepository stores stories under users/{uid}/stories.
type StoryRepository struct {
	provider *pfirestore.Provider
}

// NewStoryRepository constructs a Firestore-backed story repository.
func NewStoryRepository(provider *pfirestore.Provider) (*StoryRepository, error) {
	if provider == nil {
		return nil, errors.New("story repository requires firestore provider")
	}
	return &StoryRepository{provider: provider}, nil
}

// Insert creates the story document. Reusing an id is a conflict.
func (r *StoryRepository) Insert(ctx context.Context, story domain.Story) (domain.Story, error) {
	base, err := r.base(story.UserID)
	if err != nil {
		return domain.Story{}, err
	}
	if strings.TrimSpace(story.ID) == "" {
		return domain.Story{}, errors.New("story repository: story id is required")
	}
	if _, err := base.Create(ctx, story.ID, encodeStory(story)); err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// Get loads one story from the user's library.
func (r *StoryRepository) Get(ctx context.Context, userID, storyID string) (domain.Story, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Story{}, err
	}
	doc, err := base.Get(ctx, storyID)
	if err != nil {
		return domain.Story{}, err
	}
	return decodeStory(userID, doc), nil
}

// List returns stories newest first. Ties on created_at break on document id.
func (r *StoryRepository) List(ctx context.Context, filter domain.StoryListFilter) (domain.CursorPage[domain.Story], error) {
	base, err := r.base(filter.UserID)
	if err != nil {
		return domain.CursorPage[domain.Story]{}, err
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Story]{}, fmt.Errorf("stories.list: %w", err)
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.FavoritesOnly {
			q = q.Where("is_favorite", "==", true)
		}
		q = q.OrderBy("created_at", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Story]{}, err
	}

	page := domain.CursorPage[domain.Story]{Items: make([]domain.Story, 0, min(len(docs), limit))}
	for i, doc := range docs {
		if i == limit {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, decodeStory(filter.UserID, doc))
	}
	return page, nil
}

// SetFavorite flips the favorite flag on an existing story.
func (r *StoryRepository) SetFavorite(ctx context.Context, userID, storyID string, favorite bool, at time.Time) (domain.Story, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Story{}, err
	}
	_, err = base.Update(ctx, storyID, []firestore.Update{
		{Path: "is_favorite", Value: favorite},
		{Path: "updated_at", Value: at.UTC()},
	}, firestore.Exists)
	if err != nil {
		return domain.Story{}, err
	}
	return r.Get(ctx, userID, storyID)
}

// Delete removes a story. Missing stories report not found.
func (r *StoryRepository) Delete(ctx context.Context, userID, storyID string) error {
	base, err := r.base(userID)
	if err != nil {
		return err
	}
	return base.Delete(ctx, storyID, firestore.Exists)
}

func (r *StoryRepository) base(userID string) (*pfirestore.BaseRepository[storyDocument], error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("story repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("story repository: user id is required")
	}
	return pfirestore.NewBaseRepository[storyDocument](r.provider, fmt.Sprintf(storyCollectionPattern, uid), nil, nil), nil
}

type storyDocument struct {
	Title             string    `firestore:"title"`
	Content           string    `firestore:"content"`
	Theme             string    `firestore:"theme"`
	AgeGroup          string    `firestore:"age_group"`
	MainCharacter     string    `firestore:"main_character"`
	Setting           string    `firestore:"setting"`
	AdditionalDetails string    `firestore:"additional_details,omitempty"`
	Tier              string    `firestore:"tier"`
	IsFavorite        bool      `firestore:"is_favorite"`
	CreatedAt         time.Time `firestore:"created_at"`
	UpdatedAt         time.Time `firestore:"updated_at"`
}

func encodeStory(story domain.Story) storyDocument {
	return storyDocument{
		Title:             story.Title,
		Content:           story.Content,
		Theme:             story.Theme,
		AgeGroup:          string(story.AgeGroup),
		MainCharacter:     story.MainCharacter,
		Setting:           story.Setting,
		AdditionalDetails: story.AdditionalDetails,
		Tier:              string(story.Tier),
		IsFavorite:        story.IsFavorite,
		CreatedAt:         story.CreatedAt.UTC(),
		UpdatedAt:         story.UpdatedAt.UTC(),
	}
}

func decodeStory(userID string, doc pfirestore.Document[storyDocument]) domain.Story {
	data := doc.Data
	return domain.Story{
		ID:                doc.ID,
		UserID:            strings.TrimSpace(userID),
		Title:             data.Title,
		Content:           data.Content,
		Theme:             data.Theme,
		AgeGroup:          domain.AgeGroup(data.AgeGroup),
		MainCharacter:     data.MainCharacter,
		Setting:           data.Setting,
		AdditionalDetails: data.AdditionalDetails,
		Tier:              domain.Tier(data.Tier),
		IsFavorite:        data.IsFavorite,
		CreatedAt:         data.CreatedAt,
		UpdatedAt:         data.UpdatedAt,
	}
}

var _ repositories.StoryRepository = (*StoryRepository)(nil)
