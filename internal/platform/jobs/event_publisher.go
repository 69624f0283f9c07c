package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/avast/retry-go/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/kidsdream/api/internal/domain"
)

const (
	defaultPublishAttempts = 3
	defaultPublishDelay    = 200 * time.Millisecond
)

// EventMessage is the JSON payload published for a story lifecycle event.
type EventMessage struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	StoryID    string    `json:"story_id,omitempty"`
	Theme      string    `json:"theme,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PubSubEventPublisher publishes story and subscription events to one topic.
type PubSubEventPublisher struct {
	topic    *pubsub.Topic
	attempts uint
	delay    time.Duration
	newID    func() string
}

// PublisherOption customises a PubSubEventPublisher.
type PublisherOption func(*PubSubEventPublisher)

// WithPublishRetry sets the attempt count and base delay for failed publishes.
func WithPublishRetry(attempts uint, delay time.Duration) PublisherOption {
	return func(p *PubSubEventPublisher) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if delay > 0 {
			p.delay = delay
		}
	}
}

// NewPubSubEventPublisher constructs a publisher bound to topic.
func NewPubSubEventPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	p := &PubSubEventPublisher{
		topic:    topic,
		attempts: defaultPublishAttempts,
		delay:    defaultPublishDelay,
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Publish sends event and waits for the server ack, retrying with backoff.
func (p *PubSubEventPublisher) Publish(ctx context.Context, event domain.StoryEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return "", errors.New("pubsub event publisher: event type is required")
	}

	message := EventMessage{
		ID:         p.newID(),
		Type:       event.Type,
		UserID:     event.UserID,
		StoryID:    event.StoryID,
		Theme:      event.Theme,
		Tier:       string(event.Tier),
		OccurredAt: event.OccurredAt.UTC(),
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	attrs := map[string]string{"eventId": message.ID}
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "storyId", message.StoryID)

	var serverID string
	err = retry.Do(
		func() error {
			id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
			if err != nil {
				return err
			}
			serverID = id
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return serverID, nil
}

// NoopEventPublisher drops events. Used when no topic is configured.
type NoopEventPublisher struct {
	Logger *zap.Logger
}

// Publish logs the event at debug level and returns an empty id.
func (p NoopEventPublisher) Publish(_ context.Context, event domain.StoryEvent) (string, error) {
	if p.Logger != nil {
		p.Logger.Debug("event dropped: no topic configured", zap.String("type", event.Type), zap.String("storyId", event.StoryID))
	}
	return "", nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
