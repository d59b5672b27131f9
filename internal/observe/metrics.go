// Package observe provides application-wide observability primitives for
// voxagent: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxagent metrics.
const meterName = "github.com/MrWong99/voxagent"

// Attribute values used with the audio and connect instruments.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from connect request to socket open.
	// Use with attribute.String("result", ...).
	ConnectDuration metric.Float64Histogram

	// AgentLatency records the latencies the agent reports when it starts
	// speaking. Use with attribute.String("stage", "total"|"tts"|"ttt").
	AgentLatency metric.Float64Histogram

	// --- Counters ---

	// AudioFrames counts PCM frames. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	AudioFrames metric.Int64Counter

	// AudioDropped counts frames that were discarded. Use with attribute:
	//   attribute.String("reason", ...)
	AudioDropped metric.Int64Counter

	// Events counts decoded agent events by type.
	Events metric.Int64Counter

	// BargeIns counts user interruptions of agent playback.
	BargeIns metric.Int64Counter

	// KeepAlives counts liveness messages sent.
	KeepAlives metric.Int64Counter

	// --- Error counters ---

	// Errors counts surfaced session errors. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open agent sockets.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-agent latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voxagent.connect.duration",
		metric.WithDescription("Time from connect request to open agent socket."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentLatency, err = m.Float64Histogram("voxagent.agent.latency",
		metric.WithDescription("Agent-reported response latency by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFrames, err = m.Int64Counter("voxagent.audio.frames",
		metric.WithDescription("Total PCM frames by direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("voxagent.audio.dropped",
		metric.WithDescription("Total PCM frames discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("voxagent.events",
		metric.WithDescription("Total agent events by type."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxagent.bargeins",
		metric.WithDescription("Total user interruptions of agent playback."),
	); err != nil {
		return nil, err
	}
	if met.KeepAlives, err = m.Int64Counter("voxagent.keepalives",
		metric.WithDescription("Total liveness messages sent."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.Errors, err = m.Int64Counter("voxagent.errors",
		metric.WithDescription("Total surfaced session errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxagent.sessions.active",
		metric.WithDescription("Number of open agent sockets."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxagent.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnect records one connect attempt that took d.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, result string) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordAudioFrame records one PCM frame in the given direction.
func (m *Metrics) RecordAudioFrame(ctx context.Context, direction string) {
	m.AudioFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordDropped records one discarded frame.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.AudioDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordEvent records one decoded agent event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.Events.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordError records one surfaced error.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAgentLatency records an agent-reported latency in seconds. Zero
// values mean the agent did not report the stage and are skipped.
func (m *Metrics) RecordAgentLatency(ctx context.Context, stage string, seconds float64) {
	if seconds <= 0 {
		return
	}
	m.AgentLatency.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
