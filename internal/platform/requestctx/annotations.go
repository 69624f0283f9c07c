package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const annotationsContextKey contextKey = "github.com/kidsdream/api/internal/platform/requestctx/annotations"

// Annotations collects fields that handlers learn while serving a request,
// such as the story id, so the access log line can carry them.
type Annotations struct {
	mu     sync.Mutex
	fields []zap.Field
	index  map[string]int
}

// WithAnnotations attaches an empty annotation bag to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	bag := &Annotations{index: map[string]int{}}
	return context.WithValue(ctx, annotationsContextKey, bag), bag
}

// Annotate records fields on the request's bag. Later values replace earlier
// ones with the same key. Contexts without a bag ignore the call.
func Annotate(ctx context.Context, fields ...zap.Field) {
	if ctx == nil {
		return
	}
	bag, ok := ctx.Value(annotationsContextKey).(*Annotations)
	if !ok || bag == nil {
		return
	}
	bag.add(fields)
}

func (a *Annotations) add(fields []zap.Field) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range fields {
		if i, ok := a.index[f.Key]; ok {
			a.fields[i] = f
			continue
		}
		a.index[f.Key] = len(a.fields)
		a.fields = append(a.fields, f)
	}
}

// Fields returns a copy of the recorded fields in insertion order.
func (a *Annotations) Fields() []zap.Field {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]zap.Field, len(a.fields))
	copy(out, a.fields)
	return out
}
