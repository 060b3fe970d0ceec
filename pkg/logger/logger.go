package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	sagaInstanceKey  contextKey = "saga_instance_id"
	aggregateIDKey   contextKey = "aggregate_id"
	loggerKey        contextKey = "logger"
)

// New returns a JSON logger on stdout tagged with the service name.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter is New with an explicit destination. Debug level also
// records the source position.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

// ParseLevel accepts any name slog understands ("debug", "WARN", "error+2").
// Anything else is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from the context.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithSaga records the saga instance and aggregate ids for log enrichment.
// Empty ids are skipped, so a start event can carry only its aggregate.
func WithSaga(ctx context.Context, instanceID, aggregateID string) context.Context {
	if instanceID != "" {
		ctx = context.WithValue(ctx, sagaInstanceKey, instanceID)
	}
	if aggregateID != "" {
		ctx = context.WithValue(ctx, aggregateIDKey, aggregateID)
	}
	return ctx
}

func SagaInstanceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sagaInstanceKey)
}

func AggregateIDFromContext(ctx context.Context) string {
	return stringValue(ctx, aggregateIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// NewContext stores l for FromContext.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored by NewContext, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns l enriched with the correlation id, saga ids and the
// active span found in ctx. l is returned unchanged when ctx carries none.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if attrs := Attrs(ctx); len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

// Attrs lists the log attributes carried by ctx in a fixed order.
func Attrs(ctx context.Context) []any {
	var attrs []any
	for _, f := range []struct {
		key contextKey
		val string
	}{
		{correlationIDKey, CorrelationIDFromContext(ctx)},
		{sagaInstanceKey, SagaInstanceIDFromContext(ctx)},
		{aggregateIDKey, AggregateIDFromContext(ctx)},
	} {
		if f.val != "" {
			attrs = append(attrs, slog.String(string(f.key), f.val))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}
