package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const (
	traceIDKey ctxKey = "traceID"
	spanIDKey  ctxKey = "spanID"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// Logger is a thin structured logger shared by every saga service.
type Logger struct {
	logger zerolog.Logger
}

// New creates a JSON logger stamped with the service name. The minimum level is
// read from LOG_LEVEL (debug, info, warn, error); it defaults to debug.
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}

	l := zerolog.New(w).
		Level(ParseLevel(os.Getenv("LOG_LEVEL"))).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{logger: l}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel maps a level name to zerolog, falling back to debug.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.DebugLevel
	}
	return lvl
}

// WithContext attaches trace and span ids, preferring the active OpenTelemetry span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	traceID := TraceIDFromContext(ctx)
	spanID := SpanIDFromContext(ctx)

	updated := l.logger.With().
		Str("traceID", traceID).
		Str("spanID", spanID).
		Logger()

	return &Logger{logger: updated}
}

// WithSaga stamps the saga instance identity on every line.
func (l *Logger) WithSaga(transactionID, orderID string) *Logger {
	return &Logger{logger: l.logger.With().
		Str("transactionId", transactionID).
		Str("orderId", orderID).
		Logger()}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Infof logs msg with the given fields.
func (l *Logger) Infof(msg string, fields map[string]interface{}) {
	withFields(l.logger.Info(), fields).Msg(msg)
}

func (l *Logger) Warnf(msg string, fields map[string]interface{}) {
	withFields(l.logger.Warn(), fields).Msg(msg)
}

func (l *Logger) Errorf(msg string, fields map[string]interface{}) {
	withFields(l.logger.Error(), fields).Msg(msg)
}

// Zerolog exposes the underlying logger for libraries that want one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

func withFields(event *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}

func SpanIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	value, _ := ctx.Value(spanIDKey).(string)
	return value
}
