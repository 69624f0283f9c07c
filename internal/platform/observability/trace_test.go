package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kidsdream/api/internal/platform/requestctx"
)

const storyTraceID = "105445aa7843bc8bf206b12000100000"

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace(storyTraceID + "/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != storyTraceID {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("expected decimal span id 1, got %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	unsampled, ok := parseCloudTrace(storyTraceID + "/42")
	if !ok || unsampled.IsSampled() {
		t.Fatalf("expected header without options to parse unsampled")
	}
}

func TestParseCloudTraceRejectsGarbage(t *testing.T) {
	for _, header := range []string{"", "abc", "short/1", storyTraceID + "/zz;o=1", storyTraceID + "/0;o=1", storyTraceID} {
		if _, ok := parseCloudTrace(header); ok {
			t.Errorf("expected %q to be rejected", header)
		}
	}
}

func TestCloudTracePropagatorRoundTrip(t *testing.T) {
	in := http.Header{}
	in.Set(cloudTraceHeader, storyTraceID+"/12345;o=1")
	ctx := cloudTracePropagator{}.Extract(context.Background(), propagation.HeaderCarrier(in))

	out := http.Header{}
	cloudTracePropagator{}.Inject(ctx, propagation.HeaderCarrier(out))
	if got := out.Get(cloudTraceHeader); got != storyTraceID+"/12345;o=1" {
		t.Fatalf("unexpected round trip %q", got)
	}

	empty := http.Header{}
	cloudTracePropagator{}.Inject(context.Background(), propagation.HeaderCarrier(empty))
	if len(empty) != 0 {
		t.Fatalf("expected nothing injected without a span, got %v", empty)
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("kd-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/themes", nil)
	req.Header.Set(cloudTraceHeader, storyTraceID+"/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.ProjectID != "kd-test" || got.TraceID != storyTraceID {
		t.Fatalf("expected caller's trace on the request, got %+v", got)
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header echoed on the response")
	}
}

func TestTraceMiddlewareAcceptsTraceparent(t *testing.T) {
	var sc trace.SpanContext
	handler := TraceMiddleware("kd-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stories/generate", nil)
	req.Header.Set("traceparent", "00-"+storyTraceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if sc.TraceID().String() != storyTraceID {
		t.Fatalf("expected traceparent to be continued, got %s", sc.TraceID())
	}
}

func TestTraceMiddlewareWithoutCallerTrace(t *testing.T) {
	var ok bool
	handler := TraceMiddleware("kd-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = requestctx.Trace(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if ok || rec.Header().Get(cloudTraceHeader) != "" {
		t.Fatalf("expected no trace info when nothing is sampled or propagated")
	}
}

func TestStoryMetricsNilSafe(t *testing.T) {
	var m *StoryMetrics
	m.StoryGenerated(context.Background(), "free", "adventure")
	m.FallbackServed(context.Background(), "adventure")
	m.QuotaExceeded(context.Background())

	NewStoryMetrics().StoryGenerated(context.Background(), "premium", "space")
}
