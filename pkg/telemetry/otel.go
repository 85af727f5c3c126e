// Package telemetry wires OpenTelemetry tracing for the deliberation
// engine, grounded on itsneelabh-gomind's telemetry.OTelProvider (HTTP
// OTLP exporter, batched export, resource attribution), reduced to the
// trace-only surface this module's go.mod carries — no OTLP metrics
// exporter dependency, since Prometheus (pkg/metrics) already covers
// metrics.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the tracer provider's lifecycle for one process: Gateway
// spans around model calls, Orchestrator spans around each stage.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// Config configures the OTLP/HTTP trace exporter.
type Config struct {
	ServiceName string
	Endpoint    string // host:port, e.g. "localhost:4318"; empty disables export, tracer becomes a no-op
	Insecure    bool
}

// New builds a Provider. When cfg.Endpoint is empty, tracing is a no-op
// (otel.Tracer's default provider) rather than erroring, so telemetry can
// be cleanly disabled in development without touching call sites.
func New(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}
	if cfg.Endpoint == "" {
		return &Provider{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", versionPlaceholder),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Provider{tracerProvider: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// versionPlaceholder is overridden at build time in a full deployment;
// kept as a constant here since this module does not thread its own
// pkg/version import into the resource attributes (that package's
// GitCommit detection is deliberately kept dependency-free of telemetry).
const versionPlaceholder = "unknown"

// StartStageSpan starts a span named for one orchestrator stage.
func (p *Provider) StartStageSpan(ctx context.Context, queryID, stage string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "deliberation."+stage,
		trace.WithAttributes(attribute.String("council.query_id", queryID)))
}

// StartGatewaySpan starts a span around one gateway completion call.
func (p *Provider) StartGatewaySpan(ctx context.Context, modelID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "gateway.complete",
		trace.WithAttributes(attribute.String("council.model_id", modelID)))
}

// Shutdown flushes any pending spans and releases exporter resources. A
// no-op Provider (no configured endpoint) returns nil immediately.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Shutdown(ctx)
}
