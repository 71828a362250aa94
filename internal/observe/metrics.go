// Package observe provides application-wide observability primitives for
// Aria: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. A package-level
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Aria metrics.
const meterName = "github.com/aria-ai/aria"

// Drop reasons recorded on [Metrics.TurnsDropped].
const (
	DropShort     = "short"
	DropDuplicate = "duplicate"
	DropLocked    = "locked"
)

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks batch recognition latency per chunk.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the time from an accepted transcript to the start
	// of playback.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// TurnsAccepted counts transcripts that started a turn.
	TurnsAccepted metric.Int64Counter

	// TurnsDropped counts transcripts that did not. Attribute: reason.
	TurnsDropped metric.Int64Counter

	// Interruptions counts barge-ins that cancelled playback.
	Interruptions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: provider, from, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of running call orchestrators.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveParticipants tracks attached remote audio tracks across calls.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (in seconds) for voice-pipeline
// latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "aria.stt.duration", "Latency of speech-to-text recognition."},
		{&met.LLMDuration, "aria.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "aria.tts.duration", "Latency of speech synthesis."},
		{&met.TurnDuration, "aria.turn.duration", "Time from accepted transcript to playback start."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "aria.provider.requests", "Total provider requests by provider, kind and status."},
		{&met.ProviderErrors, "aria.provider.errors", "Total provider errors by provider and kind."},
		{&met.TurnsAccepted, "aria.turns.accepted", "Transcripts that started a turn."},
		{&met.TurnsDropped, "aria.turns.dropped", "Transcripts dropped by reason."},
		{&met.Interruptions, "aria.interruptions", "Playback cancellations caused by barge-in."},
		{&met.BreakerTransitions, "aria.provider.breaker_transitions", "Circuit breaker state changes by provider."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveCalls, err = m.Int64UpDownCounter("aria.active_calls",
		metric.WithDescription("Number of running calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("aria.active_participants",
		metric.WithDescription("Number of attached remote audio tracks."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aria.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurnDropped increments the dropped-turn counter for reason.
func (m *Metrics) RecordTurnDropped(ctx context.Context, reason string) {
	m.TurnsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
