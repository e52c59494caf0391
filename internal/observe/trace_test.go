package observe_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/murmurhq/murmur/internal/observe"
)

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q without a span, want empty", got)
	}
}

func TestLoggerAttachesTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	observe.Logger(ctx).InfoContext(ctx, "hello")

	out := buf.String()
	if !strings.Contains(out, "trace_id") {
		t.Fatalf("log output missing trace_id: %s", out)
	}
	if want := span.SpanContext().TraceID().String(); !strings.Contains(out, want) {
		t.Errorf("log output missing trace id %s: %s", want, out)
	}
	if got := observe.CorrelationID(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("CorrelationID = %q, want %q", got, span.SpanContext().TraceID().String())
	}
}

func TestLoggerWithoutSpanIsDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	observe.Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log output has trace_id without a span: %s", buf.String())
	}
}
