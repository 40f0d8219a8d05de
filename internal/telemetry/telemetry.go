// Package telemetry provides OpenTelemetry instrumentation for siivous.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/yairfalse/siivous/internal/config"
)

const instrumentationName = "siivous"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	sweepDuration   metric.Float64Histogram
	evaluated       metric.Int64Counter
	actionFailures  metric.Int64Counter
	discoveryErrors metric.Int64Counter
}

// NewProvider creates a new telemetry provider. Extra readers (such as the
// Prometheus exporter used by the daemon) are attached to the meter provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, readers); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, readers []sdkmetric.Reader) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.sweepDuration, err = p.meter.Float64Histogram(
		"siivous_sweep_duration_seconds",
		metric.WithDescription("Duration of a full sweep"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create sweep_duration: %w", err)
	}

	p.evaluated, err = p.meter.Int64Counter(
		"siivous_resources_evaluated_total",
		metric.WithDescription("Resources evaluated, by resulting action"),
	)
	if err != nil {
		return fmt.Errorf("create resources_evaluated: %w", err)
	}

	p.actionFailures, err = p.meter.Int64Counter(
		"siivous_action_failures_total",
		metric.WithDescription("Provider mutations that failed"),
	)
	if err != nil {
		return fmt.Errorf("create action_failures: %w", err)
	}

	p.discoveryErrors, err = p.meter.Int64Counter(
		"siivous_discovery_errors_total",
		metric.WithDescription("Listing calls that failed"),
	)
	if err != nil {
		return fmt.Errorf("create discovery_errors: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// MeterProvider returns the meter provider, or the global one when p is nil.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p == nil || p.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return p.meterProvider
}

// StartSpan starts a new span. A nil Provider yields the span already in ctx,
// which makes the Record methods and StartSpan safe to call without telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordSweepDuration records how long a sweep took.
func (p *Provider) RecordSweepDuration(ctx context.Context, dryRun bool, d time.Duration) {
	if p == nil {
		return
	}
	p.sweepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("dry_run", dryRun),
	))
}

// RecordEvaluated records one evaluated resource.
func (p *Provider) RecordEvaluated(ctx context.Context, provider, kind, action string) {
	if p == nil {
		return
	}
	p.evaluated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("action", action),
	))
}

// RecordActionFailure records a failed provider mutation.
func (p *Provider) RecordActionFailure(ctx context.Context, provider, op string) {
	if p == nil {
		return
	}
	p.actionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
	))
}

// RecordDiscoveryError records a failed listing call.
func (p *Provider) RecordDiscoveryError(ctx context.Context, scope, kind string) {
	if p == nil {
		return
	}
	p.discoveryErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("kind", kind),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
