// Package telemetry exports metrics and traces for the dispatch and
// scheduling loops through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/dshills/pulse/internal/logging"
)

const instrumentationName = "github.com/dshills/pulse"

// Config configures exporters.
type Config struct {
	// Enabled turns on the SDK providers. When false every instrument is a no-op.
	Enabled bool

	// Endpoint is the OTLP/gRPC collector address, e.g. localhost:4317.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	ServiceName    string
	ServiceVersion string

	// ExportInterval is how often metrics are pushed.
	ExportInterval time.Duration
}

// Provider owns the SDK providers installed by Setup.
type Provider struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	shutdowns      []func(context.Context) error
}

// Setup builds OTLP exporters and registers the providers globally. With
// telemetry disabled it returns no-op providers and touches no global state.
func Setup(ctx context.Context, cfg Config, logger *logging.Logger) (*Provider, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return &Provider{
			meterProvider:  metricnoop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
		}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.WithComponent("telemetry").Info("telemetry initialized",
		"endpoint", cfg.Endpoint,
		"insecure", cfg.Insecure,
	)

	return &Provider{
		meterProvider:  mp,
		tracerProvider: tp,
		shutdowns:      []func(context.Context) error{mp.Shutdown, tp.Shutdown},
	}, nil
}

// Metrics builds the instrument set on this provider.
func (p *Provider) Metrics() (*Metrics, error) {
	return NewMetrics(p.meterProvider, p.tracerProvider)
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
