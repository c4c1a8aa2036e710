package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects the default logger into a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "capture")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID() = %q, want 32 lowercase hex characters", cid)
		}
		if seen[cid] {
			t.Fatalf("CorrelationID() repeated %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartUtteranceSpan(t *testing.T) {
	exp := useTracer(t)

	_, span := StartUtteranceSpan(context.Background(), "command.submit", "utt-7", 1500*time.Millisecond,
		attribute.String("utterance.reason", "speech_ended"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["utterance.id"].AsString(); got != "utt-7" {
		t.Errorf("utterance.id = %q, want utt-7", got)
	}
	if got := attrs["utterance.seconds"].AsFloat64(); got != 1.5 {
		t.Errorf("utterance.seconds = %v, want 1.5", got)
	}
	if got := attrs["utterance.reason"].AsString(); got != "speech_ended" {
		t.Errorf("utterance.reason = %q, want speech_ended", got)
	}
}

func TestFail(t *testing.T) {
	exp := useTracer(t)
	want := errors.New("device gone")

	_, span := StartSpan(context.Background(), "capture")
	if got := Fail(span, want, "capture failed"); got != want {
		t.Errorf("Fail() = %v, want the error it was given", got)
	}
	span.End()

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != "capture failed" {
		t.Errorf("status = %+v, want error %q", s.Status, "capture failed")
	}
	if len(s.Events) != 1 || s.Events[0].Name != "exception" {
		t.Errorf("events = %v, want one exception event", s.Events)
	}
}

func TestLogger_AddsTraceContext(t *testing.T) {
	useTracer(t)
	buf := captureLog(t)

	ctx, span := StartSpan(context.Background(), "submit")
	defer span.End()
	Logger(ctx, "utterance", "utt-1").Info("submitted")

	out := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "utterance=utt-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log = %q, want it to contain %q", out, want)
		}
	}
}

func TestLogger_WithoutSpan(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("idle")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log = %q, want no trace_id without a span", buf.String())
	}
	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger() without span or args did not return the default logger")
	}
}
