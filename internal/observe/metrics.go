// Package observe holds hark's OpenTelemetry metrics and tracing, the
// trace-aware slog helper and the HTTP middleware.
//
// [InitProvider] installs the global providers and bridges metrics to
// Prometheus. Components take a [*Metrics]; [DefaultMetrics] builds one on the
// global provider, while tests pass their own [metric.MeterProvider] to
// [NewMetrics].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/hark"

// Metrics holds the instruments. It is safe for concurrent use.
type Metrics struct {
	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM intent extraction latency.
	LLMDuration metric.Float64Histogram

	// SubmitDuration tracks one utterance submission end to end, by mode.
	SubmitDuration metric.Float64Histogram

	// UtteranceLength tracks the audio length of dispatched utterances.
	UtteranceLength metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// Activations counts recordings started, by source "wake" or "manual".
	Activations metric.Int64Counter

	// Utterances counts finalized sessions by outcome and end reason.
	Utterances metric.Int64Counter

	// Commands counts recognised commands by intent and interpreter.
	Commands metric.Int64Counter

	// DroppedEvents counts pipeline events discarded because the event
	// buffer was full.
	DroppedEvents metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// PipelineErrors counts capture pipeline errors by kind.
	PipelineErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker
	// name and target state.
	BreakerTransitions metric.Int64Counter

	// Listening is 1 while the capture pipeline holds the audio device.
	Listening metric.Int64UpDownCounter

	// HTTPRequestDuration tracks control API latency, labelled by method,
	// route pattern and status class.
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds.
var (
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
	lengthBuckets  = []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60}
)

// instruments creates instruments on one meter and collects the first error
// of each so that NewMetrics can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.check(name, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.check(name, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.check(name, err)
	return g
}

func (in *instruments) check(name string, err error) {
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("%s: %w", name, err))
	}
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:     in.histogram("hark.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets...),
		LLMDuration:     in.histogram("hark.llm.duration", "Latency of LLM intent extraction.", latencyBuckets...),
		SubmitDuration:  in.histogram("hark.submit.duration", "End-to-end latency of one utterance submission.", latencyBuckets...),
		UtteranceLength: in.histogram("hark.utterance.length", "Audio length of dispatched utterances.", lengthBuckets...),

		ProviderRequests: in.counter("hark.provider.requests", "Provider API requests by provider, kind and status."),
		Activations:      in.counter("hark.activations", "Recordings started by activation source."),
		Utterances:       in.counter("hark.utterances", "Finalized recording sessions by outcome and end reason."),
		Commands:         in.counter("hark.commands", "Recognised commands by intent and interpreter."),
		DroppedEvents:    in.counter("hark.events.dropped", "Pipeline events dropped because no consumer kept up."),

		ProviderErrors: in.counter("hark.provider.errors", "Provider errors by provider and kind."),
		PipelineErrors: in.counter("hark.pipeline.errors", "Capture pipeline errors by kind."),

		BreakerTransitions: in.counter("hark.breaker.transitions", "Circuit breaker state changes by breaker and target state."),
		Listening:          in.gauge("hark.listening", "1 while the capture pipeline holds the audio device."),

		HTTPRequestDuration: in.histogram("hark.http.request.duration", "HTTP request latency by method, route and status class."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on [otel.GetMeterProvider],
// created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// Attr is [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordActivation records a recording start from source ("wake" or "manual").
func (m *Metrics) RecordActivation(ctx context.Context, source string) {
	m.Activations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordUtterance records a finalized session. length is only observed for
// dispatched utterances.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome, reason string, length time.Duration, dispatched bool) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		),
	)
	if dispatched {
		m.UtteranceLength.Record(ctx, length.Seconds())
	}
}

// RecordCommand records a recognised command.
func (m *Metrics) RecordCommand(ctx context.Context, intent, interpreter string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("interpreter", interpreter),
		),
	)
}

// RecordPipelineError records a capture pipeline error of the given kind.
func (m *Metrics) RecordPipelineError(ctx context.Context, kind string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a circuit breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", to),
	))
}
