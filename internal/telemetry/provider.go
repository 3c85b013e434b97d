package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// exporterDialTimeout bounds the blocking collector dial.
const exporterDialTimeout = 10 * time.Second

// ExporterConfig describes the OTLP collector and the service identity
// attached to every exported span and metric.
type ExporterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	SamplingRatio  float64
}

func (c ExporterConfig) resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
		),
	}
	if c.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(c.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}
	return res, nil
}

// dialOptions are shared by the trace and metric exporters. The
// collector is expected as a local sidecar, so transport is plaintext.
func dialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// Providers owns the SDK providers started by Start. Either provider
// may be absent when its exporter could not be reached.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider

	// HTTP is nil unless metric export started.
	HTTP *HTTPMetrics
}

// Start brings up trace and metric export against cfg.Endpoint. A
// provider that fails is skipped; the returned Providers is always
// usable and the error reports what was skipped.
func Start(ctx context.Context, cfg ExporterConfig) (*Providers, error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return &Providers{}, err
	}

	p := &Providers{}
	var errs []error

	if tp, err := startTracing(ctx, cfg, res); err != nil {
		errs = append(errs, err)
	} else {
		p.tracer = tp
	}

	if mp, err := startMetrics(ctx, cfg, res); err != nil {
		errs = append(errs, err)
	} else {
		p.meter = mp
		if p.HTTP, err = NewHTTPMetrics(mp.Meter(instrumentationName)); err != nil {
			errs = append(errs, err)
		}
	}

	return p, errors.Join(errs...)
}

// Tracing reports whether spans are being exported.
func (p *Providers) Tracing() bool { return p != nil && p.tracer != nil }

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
