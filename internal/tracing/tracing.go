// Package tracing wires OpenTelemetry spans around the pipeline's
// drivers. With tracing disabled the provider degrades to otel's no-op
// tracer, so call sites never guard their spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "logsleuth"
	serviceVersion = "1.0.0"
)

// Config holds tracing configuration.
type Config struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// Provider wraps the OpenTelemetry tracer provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a tracing provider. When disabled it returns a
// provider backed by the global (no-op) tracer.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(serviceName)}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	var exporter *otlptrace.Exporter
	if cfg.Endpoint != "" {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// ScanPhase starts a span for one scan phase.
func (p *Provider) ScanPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "scan."+phase)
}

// ParseFile starts a span for parsing one file.
func (p *Provider) ParseFile(ctx context.Context, path, profileID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "scan.parse_file",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("profile.id", profileID),
		),
	)
}

// TailTick starts a span for one tail poll tick.
func (p *Provider) TailTick(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tail.tick",
		trace.WithAttributes(attribute.Int("file.count", fileCount)),
	)
}

// WatchPoll starts a span for one directory watch sweep.
func (p *Provider) WatchPoll(ctx context.Context, root string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "watch.poll",
		trace.WithAttributes(attribute.String("watch.root", root)),
	)
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records err on the span in ctx.
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}
