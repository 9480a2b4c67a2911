package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNoopTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(TraceConfig{ServiceName: "prime-test"})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown should never fail: %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "noop-op")
	span.End()
	if id := TraceID(ctx); id != "" {
		t.Fatalf("no-op span carries trace id %q", id)
	}
}

func TestTraceIDOutsideSpan(t *testing.T) {
	if id := TraceID(context.Background()); id != "" {
		t.Fatalf("TraceID = %q, want empty", id)
	}
}

func TestStartDispatchRecordsMethodAndError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := WithProvider(provider, "prime-test")

	ctx, span := tracer.StartDispatch(context.Background(), "tasks.create", "u-1")
	if TraceID(ctx) == "" {
		t.Fatal("dispatch span should start a trace")
	}
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "rpc.tasks.create" {
		t.Fatalf("span name = %q", s.Name())
	}
	if s.SpanKind() != trace.SpanKindServer {
		t.Fatalf("span kind = %v, want server", s.SpanKind())
	}
	if s.Status().Code != codes.Error || s.Status().Description != "boom" {
		t.Fatalf("span status = %+v, want error boom", s.Status())
	}

	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["rpc.method"] != "tasks.create" || attrs["user.id"] != "u-1" {
		t.Fatalf("span attributes = %v", attrs)
	}
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := WithProvider(provider, "prime-test")

	_, span := tracer.Start(context.Background(), "op")
	tracer.RecordError(span, nil)
	span.End()

	if s := rec.Ended()[0]; s.Status().Code == codes.Error {
		t.Fatal("nil error must not mark the span failed")
	}
}

func TestNewTracerWithEndpoint(t *testing.T) {
	// The OTLP gRPC client connects lazily, so no collector is needed
	// to build the exporter. Shutdown gets a short deadline since the
	// flush has nowhere to go.
	tracer, shutdown, err := NewTracer(TraceConfig{
		ServiceName: "prime-test",
		Endpoint:    "localhost:4317",
		Insecure:    true,
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	_, span := tracer.Start(context.Background(), "op")
	span.End()

	sctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = shutdown(sctx)
}
