// Package telemetry wires OpenTelemetry metrics to a Prometheus scrape handler.
// This is part of the platform layer and contains no business logic.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"estate_crm_backend/platform/config"
)

const meterName = "estate_crm_backend"

// Provider owns the meter provider and the /metrics handler.
type Provider struct {
	handler  http.Handler
	provider metric.MeterProvider
	shutdown func(context.Context) error
}

// Init builds a Prometheus-backed meter provider and installs it globally.
// With metrics disabled it returns a no-op provider and a nil handler.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.IsMetricsEnabled() {
		return &Provider{
			provider: noop.NewMeterProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.GetServiceName()
	if serviceName == "" {
		serviceName = meterName
	}

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)

	return &Provider{
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		provider: provider,
		shutdown: provider.Shutdown,
	}, nil
}

// Handler serves the Prometheus scrape endpoint. Nil when metrics are disabled.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Meter returns the application meter.
func (p *Provider) Meter() metric.Meter {
	return p.provider.Meter(meterName)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
