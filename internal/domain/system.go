package domain

import "time"

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// StoryEvent is published whenever a story or subscription changes state.
type StoryEvent struct {
	Type       string
	UserID     string
	StoryID    string
	Theme      string
	Tier       Tier
	OccurredAt time.Time
}

const (
	// EventStoryGenerated fires after the engine produces a story, saved or not.
	EventStoryGenerated = "story.generated"
	// EventStoryDeleted fires after a story is removed from a library.
	EventStoryDeleted = "story.deleted"
	// EventSubscriptionChanged fires after a billing webhook updates a tier.
	EventSubscriptionChanged = "subscription.changed"
)
