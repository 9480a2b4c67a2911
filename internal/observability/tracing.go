// Package observability exports OpenTelemetry spans for the gateway's
// dispatch path. With no collector configured every span is a no-op,
// so callers never need to branch on whether tracing is on.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig points span export at an OTLP gRPC collector.
type TraceConfig struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// Version tags every span with the running build.
	Version string

	// Environment is the deployment environment (production, staging).
	Environment string

	// Endpoint is the collector address, e.g. "localhost:4317". Empty
	// disables export entirely.
	Endpoint string

	// SampleRatio is the fraction of traces recorded. Zero means
	// record everything.
	SampleRatio float64

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// Tracer wraps an OpenTelemetry tracer with the span shapes the
// gateway emits.
type Tracer struct {
	tracer trace.Tracer
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: otel.Tracer("prime")}
}

// WithProvider builds a tracer on an explicit provider, bypassing the
// global one. Used with span recorders in tests.
func WithProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NewTracer builds a tracer and its shutdown hook. An empty endpoint
// yields a no-op tracer whose shutdown always succeeds.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return Noop(), func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "prime"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown, nil
}

// Start opens a span with the given attributes.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDispatch opens the server-side span for one RPC method call.
func (t *Tracer) StartDispatch(ctx context.Context, method, userID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rpc."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("user.id", userID),
		))
}

// RecordError marks the span failed with the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the active trace ID, or "" outside a trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
