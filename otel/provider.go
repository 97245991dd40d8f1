package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig configures the OTLP-backed telemetry providers.
type ProviderConfig struct {
	// ServiceName identifies the engine in the telemetry backend
	// (default: "process-engine").
	ServiceName string

	// Endpoint is the OTLP HTTP collector endpoint, host:port. Empty uses the
	// exporter's default (localhost:4318) or OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Providers bundles configured tracer and meter providers with their
// shutdown.
type Providers struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewProviders builds a tracer provider exporting spans over OTLP HTTP and a
// meter provider with a periodic reader.
func NewProviders(ctx context.Context, cfg ProviderConfig) (*Providers, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "process-engine"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	var exporterOpts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)

	return &Providers{
		tracerProvider: tp,
		meterProvider:  mp,
	}, nil
}

// Tracer returns a tracer for the given instrumentation name.
func (p *Providers) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Meter returns a meter for the given instrumentation name.
func (p *Providers) Meter(name string) metric.Meter {
	return p.meterProvider.Meter(name)
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return errors.Join(
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}
