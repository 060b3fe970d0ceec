package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func spanContext(t *testing.T, ctx context.Context) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex(testTraceID)
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex(testSpanID)
	require.NoError(t, err)
	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}

func logLine(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	WithContext(ctx, NewWithWriter("orchestrator", "info", &buf)).Info("saga step dispatched")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name   string
		ctx    func(t *testing.T) context.Context
		want   map[string]string
		absent []string
	}{
		{
			name:   "empty context",
			ctx:    func(*testing.T) context.Context { return context.Background() },
			absent: []string{"correlation_id", "saga_instance_id", "aggregate_id", "trace_id", "span_id"},
		},
		{
			name: "http request",
			ctx: func(*testing.T) context.Context {
				return WithCorrelationID(context.Background(), "req-123")
			},
			want:   map[string]string{"correlation_id": "req-123"},
			absent: []string{"trace_id"},
		},
		{
			name: "start event has no instance yet",
			ctx: func(*testing.T) context.Context {
				return WithSaga(context.Background(), "", "order-2")
			},
			want:   map[string]string{"aggregate_id": "order-2"},
			absent: []string{"saga_instance_id"},
		},
		{
			name: "reply inside a traced consumer",
			ctx: func(t *testing.T) context.Context {
				ctx := spanContext(t, context.Background())
				ctx = WithCorrelationID(ctx, "corr-all")
				return WithSaga(ctx, "inst-789", "order-1")
			},
			want: map[string]string{
				"service":          "orchestrator",
				"correlation_id":   "corr-all",
				"saga_instance_id": "inst-789",
				"aggregate_id":     "order-1",
				"trace_id":         testTraceID,
				"span_id":          testSpanID,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := logLine(t, tc.ctx(t))
			for k, v := range tc.want {
				assert.Equal(t, v, out[k], k)
			}
			for _, k := range tc.absent {
				assert.NotContains(t, out, k)
			}
		})
	}
}

func TestWithContext_NothingToAddReturnsSameLogger(t *testing.T) {
	l := NewWithWriter("payment", "info", &bytes.Buffer{})
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestAttrs_Order(t *testing.T) {
	ctx := WithSaga(WithCorrelationID(context.Background(), "c"), "i", "a")
	attrs := Attrs(ctx)
	require.Len(t, attrs, 3)

	var keys []string
	for _, a := range attrs {
		keys = append(keys, a.(slog.Attr).Key)
	}
	assert.Equal(t, []string{"correlation_id", "saga_instance_id", "aggregate_id"}, keys)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"info+2":  slog.LevelInfo + 2,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "%q", in)
	}
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("inventory", "warn", &buf)

	l.Info("reservation held")
	assert.Zero(t, buf.Len())

	l.Warn("reservation expired")
	assert.Contains(t, buf.String(), `"service":"inventory"`)
	assert.NotContains(t, buf.String(), `"source"`)
}

func TestNewWithWriter_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("order", "debug", &buf).Debug("outbox row claimed")
	assert.Contains(t, buf.String(), `"source"`)
}

func TestFromContext(t *testing.T) {
	l := NewWithWriter("orchestrator", "info", &bytes.Buffer{})
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
