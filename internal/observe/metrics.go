// Package observe provides application-wide observability primitives for
// Parlo: OpenTelemetry metrics, tracing, and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parlo metrics.
const meterName = "github.com/parlodev/parlo"

// Metrics holds all OpenTelemetry metric instruments for the audio pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesCaptured counts frames produced by the capture engine.
	FramesCaptured metric.Int64Counter

	// ChunksSent counts encoded chunks handed to the transport channel.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts chunks that arrived from the transport channel.
	ChunksReceived metric.Int64Counter

	// ChunksDropped counts chunks discarded before playback. Use with
	// attribute:
	//   attribute.String("reason", "malformed" | "muted" | "overflow")
	ChunksDropped metric.Int64Counter

	// --- Histograms ---

	// SchedulingLateness tracks how far behind the gapless cursor a chunk
	// arrived (zero for on-time chunks). Large values mean the sender stalled
	// and a silence gap was played.
	SchedulingLateness metric.Float64Histogram

	// HTTPRequestDuration tracks request latency on the ops endpoints
	// (/healthz, /readyz, /metrics). Recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram

	// --- Gauges ---

	// QueueDepth tracks the number of buffers awaiting playback.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latenessBuckets defines histogram bucket boundaries (in seconds) sized for
// network-jitter scale gaps.
var latenessBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("parlo.capture.frames",
		metric.WithDescription("Frames produced by the capture engine."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("parlo.transport.chunks_sent",
		metric.WithDescription("Encoded chunks handed to the transport channel."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("parlo.transport.chunks_received",
		metric.WithDescription("Chunks received from the transport channel."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("parlo.playback.chunks_dropped",
		metric.WithDescription("Chunks discarded before playback, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SchedulingLateness, err = m.Float64Histogram("parlo.playback.lateness",
		metric.WithDescription("How far behind the gapless cursor a chunk arrived."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latenessBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parlo.http.request.duration",
		metric.WithDescription("Ops endpoint HTTP request duration."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("parlo.playback.queue_depth",
		metric.WithDescription("Buffers awaiting playback."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parlo.session.active",
		metric.WithDescription("Live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordDrop is a nil-safe helper to count a dropped chunk by reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	if m == nil || m.ChunksDropped == nil {
		return
	}
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] instance backed by the
// global OTel meter provider. Instrument creation failures degrade to no-op
// instruments rather than aborting startup.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
