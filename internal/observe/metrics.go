// Package observe provides application-wide observability primitives for
// Urecho: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via the Prometheus bridge set up by [InitProvider], so they can be scraped
// from the monitor's /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Urecho metrics.
const meterName = "github.com/urecho/urecho"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-to-text transcription latency.
	ASRDuration metric.Float64Histogram

	// GenDuration tracks reply generation latency until the stream completes.
	GenDuration metric.Float64Histogram

	// GenFirstToken tracks latency from reply request to the first token.
	GenFirstToken metric.Float64Histogram

	// TTSDuration tracks blocking speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// RoundTrip tracks latency from the end of user speech to the first
	// audio of the reply.
	RoundTrip metric.Float64Histogram

	// --- Counters ---

	// WakeTriggers counts wake detections. Use with attributes:
	//   attribute.String("engine", ...), attribute.Bool("accepted", ...)
	WakeTriggers metric.Int64Counter

	// SessionsStarted counts conversation sessions opened by a wake.
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts conversation sessions closed. Use with attribute:
	//   attribute.String("reason", ...)
	SessionsEnded metric.Int64Counter

	// Interactions counts completed turns inside active sessions.
	Interactions metric.Int64Counter

	// UnknownReplies counts turns answered with the "I don't know" fallback.
	UnknownReplies metric.Int64Counter

	// SpeakCalls counts speech synthesis invocations.
	SpeakCalls metric.Int64Counter

	// BargeIns counts replies interrupted by the user speaking over them.
	BargeIns metric.Int64Counter

	// TurnsAborted counts turns cut short. Use with attribute:
	//   attribute.String("reason", ...)
	TurnsAborted metric.Int64Counter

	// FramesDropped counts audio frames discarded by full capture queues.
	// Use with attribute: attribute.String("queue", ...)
	FramesDropped metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// OpenStreams tracks the number of open audio capture streams.
	OpenStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("urecho.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenDuration, err = m.Float64Histogram("urecho.gen.duration",
		metric.WithDescription("Latency of reply generation until stream end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenFirstToken, err = m.Float64Histogram("urecho.gen.first_token",
		metric.WithDescription("Latency from reply request to first token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("urecho.tts.duration",
		metric.WithDescription("Latency of blocking speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoundTrip, err = m.Float64Histogram("urecho.turn.round_trip",
		metric.WithDescription("Latency from end of user speech to first reply audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeTriggers, err = m.Int64Counter("urecho.wake.triggers",
		metric.WithDescription("Total wake detections by engine and acceptance."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("urecho.sessions.started",
		metric.WithDescription("Total conversation sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("urecho.sessions.ended",
		metric.WithDescription("Total conversation sessions ended by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interactions, err = m.Int64Counter("urecho.interactions",
		metric.WithDescription("Total completed turns inside active sessions."),
	); err != nil {
		return nil, err
	}
	if met.UnknownReplies, err = m.Int64Counter("urecho.replies.unknown",
		metric.WithDescription("Total turns answered with the unknown fallback."),
	); err != nil {
		return nil, err
	}
	if met.SpeakCalls, err = m.Int64Counter("urecho.tts.speak_calls",
		metric.WithDescription("Total speech synthesis invocations."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("urecho.barge_ins",
		metric.WithDescription("Total replies interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.TurnsAborted, err = m.Int64Counter("urecho.turns.aborted",
		metric.WithDescription("Total turns cut short by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("urecho.frames.dropped",
		metric.WithDescription("Total audio frames discarded by full queues."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("urecho.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("urecho.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("urecho.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.OpenStreams, err = m.Int64UpDownCounter("urecho.capture.streams",
		metric.WithDescription("Number of open audio capture streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("urecho.http.request.duration",
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

// RecordWakeTrigger records one wake detection with the standard attribute
// set.
func (m *Metrics) RecordWakeTrigger(ctx context.Context, engine string, accepted bool) {
	m.WakeTriggers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.Bool("accepted", accepted),
		),
	)
}

// RecordSessionEnd records one session close with its reason.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordAbort records one cut-short turn with its reason.
func (m *Metrics) RecordAbort(ctx context.Context, reason string) {
	m.TurnsAborted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordFrameDrop records one discarded audio frame for the named queue.
func (m *Metrics) RecordFrameDrop(ctx context.Context, queue string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
