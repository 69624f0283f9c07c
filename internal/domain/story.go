package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of items with the token needed to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// AgeGroup identifies the reading band a story is written for.
type AgeGroup string

const (
	AgeGroupPreschool AgeGroup = "3-5"
	AgeGroupEarly     AgeGroup = "6-8"
	AgeGroupMiddle    AgeGroup = "9-12"
)

// AgeGroups lists the supported reading bands in ascending order.
func AgeGroups() []AgeGroup {
	return []AgeGroup{AgeGroupPreschool, AgeGroupEarly, AgeGroupMiddle}
}

// Valid reports whether the age group is one of the supported bands.
func (a AgeGroup) Valid() bool {
	switch a {
	case AgeGroupPreschool, AgeGroupEarly, AgeGroupMiddle:
		return true
	default:
		return false
	}
}

// Tier is the subscription tier a story is generated under.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// TierFor maps the premium flag onto a Tier.
func TierFor(isPremium bool) Tier {
	if isPremium {
		return TierPremium
	}
	return TierFree
}

// IsPremium reports whether the tier unlocks premium generation.
func (t Tier) IsPremium() bool {
	return t == TierPremium
}

// StoryPrompt is the structured request a story is generated from.
type StoryPrompt struct {
	MainCharacter     string   `json:"main_character" validate:"required,max=80,nobraces"`
	AgeGroup          AgeGroup `json:"age_group" validate:"required,oneof=3-5 6-8 9-12"`
	Setting           string   `json:"setting" validate:"required,max=120,nobraces"`
	Theme             string   `json:"theme" validate:"required,max=40"`
	AdditionalDetails string   `json:"additional_details,omitempty" validate:"max=500,nobraces"`
}

// NormalizedTheme returns the lookup key for the prompt theme.
func (p StoryPrompt) NormalizedTheme() string {
	return strings.ToLower(strings.TrimSpace(p.Theme))
}

// GeneratedStory is the title and body produced by the synthesis engine.
type GeneratedStory struct {
	Title   string
	Content string
}

// Story is a generated story persisted for a user.
type Story struct {
	ID                string
	UserID            string
	Title             string
	Content           string
	Theme             string
	AgeGroup          AgeGroup
	MainCharacter     string
	Setting           string
	AdditionalDetails string
	Tier              Tier
	IsFavorite        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StoryListFilter narrows story listings.
type StoryListFilter struct {
	UserID        string
	FavoritesOnly bool
	Pagination    Pagination
}

// ThemeSummary describes a theme offered by the story corpus.
type ThemeSummary struct {
	Key   string
	Label string
}
