package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/skycast-app/skycast/internal/config"
)

const meterName = "skycast"

type appMetrics struct {
	authEvents     metric.Int64Counter
	repoOperations metric.Int64Counter
	weatherLookups metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *appMetrics
)

// InitMetrics builds the meter provider. With metrics disabled it installs a
// provider with no reader so instrument calls stay cheap no-ops.
func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)
	logger.Info("otel metrics enabled", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func instruments() *appMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		m := &appMetrics{}
		var err error
		if m.authEvents, err = meter.Int64Counter("auth.events"); err != nil {
			return
		}
		if m.repoOperations, err = meter.Int64Counter("repository.operations"); err != nil {
			return
		}
		if m.weatherLookups, err = meter.Int64Counter("weather.lookups"); err != nil {
			return
		}
		metrics = m
	})
	return metrics
}

// RecordAuthEvent counts auth operations by outcome: success, unauthorized,
// conflict, reuse_detected, error.
func RecordAuthEvent(ctx context.Context, operation, outcome string) {
	m := instruments()
	if m == nil {
		return
	}
	m.authEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, result string) {
	m := instruments()
	if m == nil {
		return
	}
	m.repoOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

func RecordWeatherLookup(ctx context.Context, source, result string) {
	m := instruments()
	if m == nil {
		return
	}
	m.weatherLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	))
}
