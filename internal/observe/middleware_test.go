package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareSetup wires a test metrics set plus an in-memory span exporter
// registered as the global tracer provider.
func middlewareSetup(t *testing.T) (*Metrics, *tracetest.InMemoryExporter, func() metricdata.ResourceMetrics) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := newTestTracerProvider(t)
	return m, exp, func() metricdata.ResourceMetrics { return collect(t, reader) }
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	h := Middleware(m)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q, want 32 hex chars", cid)
	}
}

func TestMiddleware_CreatesServerSpan(t *testing.T) {
	m, exp, _ := middlewareSetup(t)
	h := Middleware(m)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET /readyz"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, _, gather := middlewareSetup(t)
	h := Middleware(m)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	mt := findMetric(gather(), "parlo.http.request.duration")
	if mt == nil {
		t.Fatal("parlo.http.request.duration not found")
	}
	hist, ok := mt.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", mt.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram count = %d, want 1", hist.DataPoints[0].Count)
	}
	attrs := hist.DataPoints[0].Attributes
	if v, found := attrs.Value("path"); !found || v.AsString() != "/metrics" {
		t.Errorf("path attribute = %v, want /metrics", v.AsString())
	}
	if v, found := attrs.Value("method"); !found || v.AsString() != http.MethodGet {
		t.Errorf("method attribute = %v, want GET", v.AsString())
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, exp, _ := middlewareSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	var found bool
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "http.response.status_code" {
			found = true
			if attr.Value.AsInt64() != http.StatusNotFound {
				t.Errorf("status attribute = %d, want 404", attr.Value.AsInt64())
			}
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_PropagatesTraceContext(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	h := Middleware(m)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Correlation-ID = %q, want upstream trace ID", got)
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	newTestTracerProvider(t)
	h := Middleware(nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
