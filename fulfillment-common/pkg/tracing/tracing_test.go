package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

func remoteContext(t *testing.T) (context.Context, trace.TraceID) {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatalf("trace id: %v", err)
	}
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), tid
}

func TestStreamRoundTrip(t *testing.T) {
	if _, err := Init(Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, tid := remoteContext(t)
	values := map[string]interface{}{"data": "{}"}
	InjectStream(ctx, values)

	if _, ok := values[StreamTraceField]; !ok {
		t.Fatalf("expected %s field, got %v", StreamTraceField, values)
	}

	restored := ExtractStream(context.Background(), values)
	if got := TraceIDFromContext(restored); got != tid.String() {
		t.Fatalf("restored trace id = %q, want %q", got, tid.String())
	}
}

func TestExtractStreamWithoutField(t *testing.T) {
	ctx := ExtractStream(nil, map[string]interface{}{"data": "{}"}) //nolint:staticcheck
	if ctx == nil {
		t.Fatal("expected background context")
	}
	if got := TraceIDFromContext(ctx); got != "" {
		t.Fatalf("expected no trace id, got %q", got)
	}

	ctx = ExtractStream(context.Background(), map[string]interface{}{StreamTraceField: []byte("")})
	if got := TraceIDFromContext(ctx); got != "" {
		t.Fatalf("expected no trace id for empty field, got %q", got)
	}
}

func TestDisabledHelpersAreNoops(t *testing.T) {
	if _, err := Init(Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing disabled")
	}

	ctx, span := StartHop(context.Background(), "orchestrator", "tx-1", "order-1")
	defer span.End()
	if span.IsRecording() {
		t.Fatal("expected non-recording span when disabled")
	}
	AddEvent(ctx, "noop")
	SetError(ctx, context.Canceled)
}

func TestGinMiddlewarePassThroughWhenDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if _, err := Init(Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(httpTraceHeader) != "" {
		t.Fatal("expected no trace header when disabled")
	}
}
