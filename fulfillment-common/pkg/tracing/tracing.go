// Package tracing wires OpenTelemetry with a Jaeger exporter and carries trace
// context across HTTP requests and Redis stream messages.
package tracing

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName string
	Endpoint    string // Jaeger collector endpoint
	Enabled     bool
	SampleRate  float64 // 0.0-1.0
}

const (
	httpTraceHeader = "X-Trace-ID"
	// StreamTraceField is the stream message field carrying the W3C traceparent.
	StreamTraceField = "traceparent"
	defaultSpanName  = "saga.hop"
	tracerName       = "fulfillment-common/tracing"
	unknownService   = "unknown-service"
)

var tracingEnabled atomic.Bool

func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		tracingEnabled.Store(false)
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = unknownService
	}

	sampleRate := cfg.SampleRate
	switch {
	case sampleRate <= 0:
		sampleRate = 0
	case sampleRate >= 1:
		sampleRate = 1
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}

	res, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracingEnabled.Store(true)

	return tp.Shutdown, nil
}

// Enabled reports whether Init installed a recording provider.
func Enabled() bool {
	return tracingEnabled.Load()
}

// StartSpan starts a span on the shared tracer; it is a no-op span when tracing is off.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !tracingEnabled.Load() {
		return ctx, trace.SpanFromContext(ctx)
	}
	if name == "" {
		name = defaultSpanName
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartHop starts a consumer span for one saga hop and tags it with the saga identity.
func StartHop(ctx context.Context, topic, transactionID, orderID string) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, "saga "+topic, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("saga.transaction_id", transactionID),
		attribute.String("saga.order_id", orderID),
	)
	return ctx, span
}

func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !tracingEnabled.Load() || ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

func SetError(ctx context.Context, err error) {
	if !tracingEnabled.Load() || ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GinMiddleware extracts incoming trace headers and opens a server span per request.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tracingEnabled.Load() {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		spanName := c.Request.Method + " " + c.FullPath()
		ctx, span := StartSpan(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if traceID := TraceIDFromContext(ctx); traceID != "" {
			c.Header(httpTraceHeader, traceID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
		if c.Writer.Status() >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// InjectStream writes the active trace context into stream message fields.
func InjectStream(ctx context.Context, values map[string]interface{}) {
	if ctx == nil || values == nil {
		return
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if tp := carrier.Get(StreamTraceField); tp != "" {
		values[StreamTraceField] = tp
	}
}

// ExtractStream restores the trace context written by InjectStream.
func ExtractStream(ctx context.Context, values map[string]interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok := values[StreamTraceField]
	if !ok || raw == nil {
		return ctx
	}

	var tp string
	switch v := raw.(type) {
	case string:
		tp = v
	case []byte:
		tp = string(v)
	default:
		tp = fmt.Sprint(v)
	}
	if tp == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{StreamTraceField: tp})
}
