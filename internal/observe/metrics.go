// Package observe provides application-wide observability primitives for
// voxtimer: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxtimer metrics.
const meterName = "github.com/MrWong99/voxtimer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// DetectorDuration tracks a single detector evaluation. Attributes:
	//   attribute.String("detector", ...)
	DetectorDuration metric.Float64Histogram

	// ResolveDuration tracks the full fan-out and arbitration of one utterance.
	ResolveDuration metric.Float64Histogram

	// ApplyDuration tracks how long the orchestrator holds the writer lock
	// for one command.
	ApplyDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts ingested utterances. Attributes:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// DetectorTimeouts counts detectors that missed their deadline. Attributes:
	//   attribute.String("detector", ...)
	DetectorTimeouts metric.Int64Counter

	// Commands counts resolved commands. Attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// Transitions counts accepted timer transitions. Attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// EventsPublished counts events handed to the bus.
	EventsPublished metric.Int64Counter

	// EventsDropped counts events evicted from full subscriber queues.
	EventsDropped metric.Int64Counter

	// JournalWrites counts journal writes. Attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	JournalWrites metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveTimers tracks timers that are running or paused.
	ActiveTimers metric.Int64UpDownCounter

	// Subscribers tracks open event bus subscriptions.
	Subscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// detectorBuckets covers sub-millisecond pattern matching up to the
// per-detector deadline.
var detectorBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectorDuration, err = m.Float64Histogram("voxtimer.detector.duration",
		metric.WithDescription("Latency of a single command detector."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectorBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("voxtimer.resolve.duration",
		metric.WithDescription("Latency of detector fan-out and arbitration per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectorBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ApplyDuration, err = m.Float64Histogram("voxtimer.apply.duration",
		metric.WithDescription("Time spent applying one command to the timer registry."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectorBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxtimer.utterances",
		metric.WithDescription("Total ingested utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DetectorTimeouts, err = m.Int64Counter("voxtimer.detector.timeouts",
		metric.WithDescription("Total detector evaluations that exceeded their deadline."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voxtimer.commands",
		metric.WithDescription("Total resolved commands by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("voxtimer.timer.transitions",
		metric.WithDescription("Total accepted timer state transitions."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("voxtimer.events.published",
		metric.WithDescription("Total timer events published to the bus."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("voxtimer.events.dropped",
		metric.WithDescription("Total timer events dropped because a subscriber queue was full."),
	); err != nil {
		return nil, err
	}
	if met.JournalWrites, err = m.Int64Counter("voxtimer.journal.writes",
		metric.WithDescription("Total journal writes by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxtimer.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTimers, err = m.Int64UpDownCounter("voxtimer.active_timers",
		metric.WithDescription("Number of running or paused timers."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("voxtimer.event_subscribers",
		metric.WithDescription("Number of open event bus subscriptions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtimer.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// RecordUtterance counts one ingested utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDetectorTimeout counts a detector that missed its deadline.
func (m *Metrics) RecordDetectorTimeout(ctx context.Context, detector string) {
	m.DetectorTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("detector", detector)))
}

// RecordCommand counts a command with its final status.
func (m *Metrics) RecordCommand(ctx context.Context, kind, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordTransition counts one accepted state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordJournalWrite counts a journal write.
func (m *Metrics) RecordJournalWrite(ctx context.Context, sink, status string) {
	m.JournalWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall counts an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
