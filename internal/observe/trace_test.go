package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// useTracer installs an in-memory tracer provider globally for the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(WithSessionID(context.Background(), "s-1"), "session.connect")
	cid := CorrelationID(ctx)
	span.End()

	if !hexID.MatchString(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex chars", cid)
	}
	if SessionID(ctx) != "s-1" {
		t.Errorf("span context lost the session id")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.connect" {
		t.Fatalf("spans = %v, want one session.connect", spans)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != cid {
		t.Errorf("span trace id %q != correlation id %q", got, cid)
	}
}

func TestCorrelationID_UniquePerTrace(t *testing.T) {
	useTracer(t)

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "op")
		span.End()
		cid := CorrelationID(ctx)
		if seen[cid] {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = true
	}
	if CorrelationID(context.Background()) != "" {
		t.Error("CorrelationID without a span should be empty")
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "plain",
			ctx:     context.Background,
			notWant: []string{"session_id", "trace_id"},
		},
		{
			name:    "session only",
			ctx:     func() context.Context { return WithSessionID(context.Background(), "sess-42") },
			want:    []string{"session_id=sess-42"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx: func() context.Context {
				ctx, span := StartSpan(WithSessionID(context.Background(), "sess-7"), "op")
				span.End()
				return ctx
			},
			want: []string{"session_id=sess-7", "trace_id=", "span_id="},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx()).Info("session: connected")

			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}
