package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"stockcore/pkg/domain"
)

func TestCoreLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCoreLogger(NewLogger(&buf, zapcore.DebugLevel, false))
	logger.Info("order lifecycle operation committed", "operation", "create_order", "order_id", int64(7))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "order lifecycle operation committed" || entry["operation"] != "create_order" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["order_id"] != float64(7) || entry["service.name"] != "stockcore" {
		t.Fatalf("unexpected fields %v", entry)
	}
	if _, ok := entry["caller"]; !ok {
		t.Fatalf("caller missing: %v", entry)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCoreLogger(NewLogger(&buf, zapcore.WarnLevel, false))
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("expected one line, got %d: %s", got, buf.String())
	}
}

func TestTracerRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := NewTracer(tp)

	_, span := tracer.Start(context.Background(), "create_order")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "cancel_order")
	span.End(domain.TransientError{Op: "lock", Err: errors.New("deadlock")})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "stockcore.create_order" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name, spans[0].Status)
	}
	failed := spans[1]
	if failed.Status.Code != codes.Error || len(failed.Events) == 0 {
		t.Fatalf("expected failed span with error event, got %v", failed.Status)
	}
	var retryable bool
	for _, attr := range failed.Attributes {
		if attr.Key == "stockcore.retryable" {
			retryable = attr.Value.AsBool()
		}
	}
	if !retryable {
		t.Fatalf("transient error should be tagged retryable")
	}
}

func TestPrometheusRecorder(t *testing.T) {
	rec := NewPrometheusRecorder()
	ctx := context.Background()
	rec.Observe(ctx, "create_order", true, 5*time.Millisecond)
	rec.Observe(ctx, "create_order", false, time.Millisecond)
	rec.Observe(ctx, "create_order", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("create_order", "success")); got != 2 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("create_order", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), `stockcore_operations_total{operation="create_order",result="success"} 2`) {
		t.Fatalf("scrape missing counter:\n%s", body.String())
	}
}

func TestShutdownsJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	fn := Shutdowns(nil, func(context.Context) error { calls++; return nil }, func(context.Context) error { calls++; return boom })
	if err := fn(context.Background()); !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
