package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const exportInterval = 30 * time.Second

// HTTPMetrics are the request instruments pushed over OTLP. Decision
// and provisioning counters live in AccessMetrics instead.
type HTTPMetrics struct {
	Requests            metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	RateLimitRejections metric.Int64Counter
}

// NewHTTPMetrics creates the request instruments on meter.
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requests, err := meter.Int64Counter("chatflow_access.http.requests",
		metric.WithDescription("HTTP requests by surface, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}

	duration, err := meter.Float64Histogram("chatflow_access.http.request.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	rejections, err := meter.Int64Counter("chatflow_access.ratelimit.rejections",
		metric.WithDescription("Admin requests rejected by the per-admin rate limit"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limit counter: %w", err)
	}

	return &HTTPMetrics{
		Requests:            requests,
		RequestDuration:     duration,
		RateLimitRejections: rejections,
	}, nil
}

func startMetrics(ctx context.Context, cfg ExporterConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	dialCtx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(dialCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(dialOptions()...),
	)
	if err != nil {
		return nil, fmt.Errorf("start metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}
