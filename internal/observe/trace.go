package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hark"

// Tracer returns the hark tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartUtteranceSpan starts a span describing work on one captured
// utterance. The utterance ID and length are always attached.
func StartUtteranceSpan(ctx context.Context, name, id string, length time.Duration, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String("utterance.id", id),
		attribute.Float64("utterance.seconds", length.Seconds()),
	}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed with the given description.
// It returns err unchanged.
func Fail(span trace.Span, err error, description string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, description)
	return err
}

// CorrelationID is the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger carrying the trace and span IDs of ctx
// plus any extra args.
func Logger(ctx context.Context, args ...any) *slog.Logger {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
