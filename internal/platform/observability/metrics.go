package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kidsdream/api/internal/platform/observability"

// StoryMetrics records story generation outcomes.
type StoryMetrics struct {
	generated     metric.Int64Counter
	fallbacks     metric.Int64Counter
	quotaExceeded metric.Int64Counter
}

// NewStoryMetrics registers the story counters on the global meter provider.
// Instruments that fail to register are replaced by no-op counters.
func NewStoryMetrics() *StoryMetrics {
	meter := otel.Meter(meterName)
	return &StoryMetrics{
		generated:     counter(meter, "kidsdream.stories.generated", "Stories produced by the engine"),
		fallbacks:     counter(meter, "kidsdream.stories.fallbacks", "Stories served from the fallback template"),
		quotaExceeded: counter(meter, "kidsdream.stories.quota_exceeded", "Generation requests rejected by the free quota"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil
	}
	return c
}

// StoryGenerated counts a generated story by tier and theme.
func (m *StoryMetrics) StoryGenerated(ctx context.Context, tier, theme string) {
	if m == nil || m.generated == nil {
		return
	}
	m.generated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("theme", theme),
	))
}

// FallbackServed counts a story served from the fallback template.
func (m *StoryMetrics) FallbackServed(ctx context.Context, theme string) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("theme", theme)))
}

// QuotaExceeded counts a request refused because the free quota ran out.
func (m *StoryMetrics) QuotaExceeded(ctx context.Context) {
	if m == nil || m.quotaExceeded == nil {
		return
	}
	m.quotaExceeded.Add(ctx, 1)
}
