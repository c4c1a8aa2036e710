package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serve routes req through a mux carrying the given pattern, wrapped in the
// middleware.
func serve(m *Metrics, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var cid string
	rec := serve(m, "GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}, httptest.NewRequest("GET", "/api/state", nil))

	if len(cid) != 32 {
		t.Fatalf("CorrelationID() = %q, want a 32 character trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_HonoursIncomingTraceparent(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("POST", "/api/trigger", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	var cid string
	rec := serve(m, "POST /api/trigger", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}, req)

	if cid != traceID {
		t.Errorf("CorrelationID() = %q, want %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	serve(m, "GET /api/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest("GET", "/api/sessions/abc123", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP /api/sessions/{id}"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}

	attrs := map[string]attribute.Value{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value
	}
	if got := attrs["http.route"].AsString(); got != "/api/sessions/{id}" {
		t.Errorf("http.route = %q, want %q", got, "/api/sessions/{id}")
	}
	if got := attrs["http.response.status_code"].AsInt64(); got != 404 {
		t.Errorf("http.response.status_code = %d, want 404", got)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	serve(m, "POST /api/finish", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, httptest.NewRequest("POST", "/api/finish", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Status.Code; got != codes.Error {
		t.Errorf("span status = %v, want %v", got, codes.Error)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)

	serve(m, "GET /api/sessions/{id}", okHandler, httptest.NewRequest("GET", "/api/sessions/one", nil))
	serve(m, "GET /api/sessions/{id}", okHandler, httptest.NewRequest("GET", "/api/sessions/two", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	pts := histogramPoints(t, rm, "hark.http.request.duration")
	if len(pts) != 1 {
		t.Fatalf("data points = %d, want 1 (both paths share a route)", len(pts))
	}
	dp := pts[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	want := map[string]string{"method": "GET", "route": "/api/sessions/{id}", "status": "2xx"}
	for k, v := range want {
		got, found := dp.Attributes.Value(attribute.Key(k))
		if !found || got.AsString() != v {
			t.Errorf("attribute %s = %q, want %q", k, got.AsString(), v)
		}
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	rec := serve(m, "GET /api/state", okHandler, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Name; got != "HTTP unmatched" {
		t.Errorf("span name = %q, want %q", got, "HTTP unmatched")
	}
}

func TestMiddleware_ProbesLoggedAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(m, "GET /healthz", okHandler, httptest.NewRequest("GET", "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("probe request logged at info level: %s", buf.String())
	}

	serve(m, "GET /api/state", okHandler, httptest.NewRequest("GET", "/api/state", nil))
	if !bytes.Contains(buf.Bytes(), []byte("route=/api/state")) {
		t.Errorf("log = %q, want it to contain route=/api/state", buf.String())
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	_, _, exp := testSetup(t)

	rec := serve(nil, "GET /api/state", okHandler, httptest.NewRequest("GET", "/api/state", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(exp.GetSpans()) != 1 {
		t.Error("span not recorded without metrics")
	}
}

func TestMiddleware_ExposesWrappedWriter(t *testing.T) {
	m, _, _ := testSetup(t)

	var (
		unwrapped http.ResponseWriter
		hijackErr error
	)
	rec := httptest.NewRecorder()
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
			unwrapped = u.Unwrap()
		}
		_, _, hijackErr = http.NewResponseController(w).Hijack()
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/events", nil))

	if unwrapped != rec {
		t.Error("Unwrap() did not return the underlying writer")
	}
	if hijackErr == nil {
		t.Error("Hijack() on a non-hijackable writer returned nil error")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
