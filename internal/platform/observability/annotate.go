package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kidsdream/api/internal/platform/requestctx"
)

// StoryAttributes describes the story a request worked on. Empty fields are
// left off both the access log and the span.
type StoryAttributes struct {
	StoryID  string
	Tier     string
	Theme    string
	AgeGroup string
	Format   string
	Fallback bool
	Saved    bool
}

// AnnotateStory tags the current span and the request's access log line.
func AnnotateStory(ctx context.Context, attrs StoryAttributes) {
	var (
		fields []zap.Field
		kvs    []attribute.KeyValue
	)
	add := func(key, value string) {
		if value == "" {
			return
		}
		fields = append(fields, zap.String("story."+key, value))
		kvs = append(kvs, attribute.String("kidsdream.story."+key, value))
	}
	add("id", attrs.StoryID)
	add("tier", attrs.Tier)
	add("theme", attrs.Theme)
	add("age_group", attrs.AgeGroup)
	add("format", attrs.Format)
	if attrs.Fallback {
		fields = append(fields, zap.Bool("story.fallback", true))
		kvs = append(kvs, attribute.Bool("kidsdream.story.fallback", true))
	}
	if attrs.Saved {
		fields = append(fields, zap.Bool("story.saved", true))
		kvs = append(kvs, attribute.Bool("kidsdream.story.saved", true))
	}
	if len(fields) == 0 {
		return
	}
	requestctx.Annotate(ctx, fields...)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(kvs...)
	}
}
