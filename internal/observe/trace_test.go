package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider installs an in-memory span exporter as the global
// tracer provider and restores the previous one on cleanup.
func newTestTracerProvider(t *testing.T) *tracetest.InMemoryExporter {
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

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestCorrelationID_ReturnsTraceID(t *testing.T) {
	newTestTracerProvider(t)

	ctx, span := StartSpan(context.Background(), "correlation-test")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("CorrelationID length = %d, want 32 hex chars: %q", len(cid), cid)
	}
	if cid == strings.Repeat("0", 32) {
		t.Error("CorrelationID is the zero trace ID")
	}
}

func TestStartSpan_RecordsSpan(t *testing.T) {
	exp := newTestTracerProvider(t)

	_, span := StartSpan(context.Background(), "session.start")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "session.start" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "session.start")
	}
}

func TestLogger_IncludesTraceIDs(t *testing.T) {
	newTestTracerProvider(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartSpan(context.Background(), "logger-test")
	defer span.End()

	Logger(ctx).Info("inside span")
	out := buf.String()
	if !strings.Contains(out, "trace_id=") {
		t.Errorf("log line missing trace_id: %q", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %q", out)
	}
}

func TestLogger_NoSpanNoTraceAttrs(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("outside span")
	if out := buf.String(); strings.Contains(out, "trace_id=") {
		t.Errorf("log line has trace_id without a span: %q", out)
	}
}
