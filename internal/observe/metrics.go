// Package observe provides application-wide observability primitives for
// hearken: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] so that the recognizer can
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all hearken metrics.
const meterName = "github.com/MrWong99/hearken"

// Metrics holds all OpenTelemetry metric instruments for the recognizer.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Windowing ---

	// FramesProduced counts spectral frames appended to the spectrogram.
	FramesProduced metric.Int64Counter

	// TicksSkipped counts hop ticks that found fewer than one window of
	// samples in the buffer.
	TicksSkipped metric.Int64Counter

	// TicksDrift counts hop ticks that fired later than one full hop past
	// their schedule.
	TicksDrift metric.Int64Counter

	// TickLag tracks how late each hop tick fired relative to its schedule.
	TickLag metric.Float64Histogram

	// ReadySignals counts spectrogram snapshots handed to the detector.
	ReadySignals metric.Int64Counter

	// TransformErrors counts frame transform failures.
	TransformErrors metric.Int64Counter

	// --- Detection ---

	// InferenceDuration tracks classifier latency per snapshot.
	InferenceDuration metric.Float64Histogram

	// InferenceErrors counts classifier failures. Use with attribute:
	//   attribute.String("reason", ...)
	InferenceErrors metric.Int64Counter

	// DecisionsDropped counts ready snapshots replaced by a newer one before
	// the decision worker picked them up.
	DecisionsDropped metric.Int64Counter

	// Detections counts emitted decisions. Use with attributes:
	//   attribute.String("label", ...), attribute.String("kind", ...)
	Detections metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSubscribers tracks live event stream subscribers.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// inference and HTTP latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// lagBuckets covers tick lateness from sub-millisecond jitter up to several
// hops.
var lagBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesProduced, err = m.Int64Counter("hearken.frames.produced",
		metric.WithDescription("Spectral frames appended to the spectrogram."),
	); err != nil {
		return nil, err
	}
	if met.TicksSkipped, err = m.Int64Counter("hearken.ticks.skipped",
		metric.WithDescription("Hop ticks skipped because the sample buffer held less than one window."),
	); err != nil {
		return nil, err
	}
	if met.TicksDrift, err = m.Int64Counter("hearken.ticks.drift",
		metric.WithDescription("Hop ticks that fired more than one hop behind schedule."),
	); err != nil {
		return nil, err
	}
	if met.ReadySignals, err = m.Int64Counter("hearken.ready.signals",
		metric.WithDescription("Spectrogram snapshots produced for detection."),
	); err != nil {
		return nil, err
	}
	if met.TransformErrors, err = m.Int64Counter("hearken.transform.errors",
		metric.WithDescription("Spectral transform failures."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("hearken.inference.errors",
		metric.WithDescription("Classifier inference failures by reason."),
	); err != nil {
		return nil, err
	}
	if met.DecisionsDropped, err = m.Int64Counter("hearken.decisions.dropped",
		metric.WithDescription("Ready snapshots superseded before detection ran."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("hearken.detections",
		metric.WithDescription("Emitted detection decisions by label and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("hearken.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TickLag, err = m.Float64Histogram("hearken.tick.lag",
		metric.WithDescription("Delay between a hop tick's schedule and its execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("hearken.inference.duration",
		metric.WithDescription("Latency of classifier inference per snapshot."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("hearken.active_subscribers",
		metric.WithDescription("Number of connected event stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordTick records one hop tick. lag is how far behind schedule the tick
// fired; drifted marks ticks more than one hop late.
func (m *Metrics) RecordTick(ctx context.Context, lag time.Duration, drifted bool) {
	m.TickLag.Record(ctx, lag.Seconds())
	if drifted {
		m.TicksDrift.Add(ctx, 1)
	}
}

// RecordInference records the latency of one classifier call and, when err
// is non-nil, an inference error with the given reason.
func (m *Metrics) RecordInference(ctx context.Context, d time.Duration, reason string, err error) {
	m.InferenceDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.InferenceErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)),
		)
	}
}

// RecordDetection is a convenience method that records an emitted decision
// with the standard attribute set.
func (m *Metrics) RecordDetection(ctx context.Context, label, kind string) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
