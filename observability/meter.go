package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/meshgate/logger"
)

// InitMeter installs an OTLP HTTP meter provider exporting every
// cfg.MetricInterval. The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config, svc ServiceInfo) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(svc)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if cfg.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"endpoint", cfg.Endpoint,
		"interval", cfg.MetricInterval.String(),
	))
	return mp, nil
}

// Meter returns the gateway meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics holds the gateway's instruments.
type Metrics struct {
	requestTotal       metric.Int64Counter
	requestDuration    metric.Float64Histogram
	requestActive      metric.Int64UpDownCounter
	cacheTransitions   metric.Int64Counter
	breakerTransitions metric.Int64Counter
	upstreamRetries    metric.Int64Counter
	responseCache      metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.requestTotal, err = meter.Int64Counter("gateway.request.total",
		metric.WithDescription("Proxied requests by route, method, status and outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.request.total: %w", err)
	}
	if m.requestDuration, err = meter.Float64Histogram("gateway.request.duration",
		metric.WithDescription("End-to-end request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.request.duration: %w", err)
	}
	if m.requestActive, err = meter.Int64UpDownCounter("gateway.request.active",
		metric.WithDescription("Requests currently in flight"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.request.active: %w", err)
	}
	if m.cacheTransitions, err = meter.Int64Counter("gateway.cache.transition.total",
		metric.WithDescription("Instance cache transitions by service"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.cache.transition.total: %w", err)
	}
	if m.breakerTransitions, err = meter.Int64Counter("gateway.breaker.transition.total",
		metric.WithDescription("Circuit breaker transitions by route"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.breaker.transition.total: %w", err)
	}
	if m.upstreamRetries, err = meter.Int64Counter("gateway.upstream.retry.total",
		metric.WithDescription("Retried upstream attempts by route"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.upstream.retry.total: %w", err)
	}
	if m.responseCache, err = meter.Int64Counter("gateway.response_cache.total",
		metric.WithDescription("Response cache lookups and stores by route"),
	); err != nil {
		return nil, fmt.Errorf("creating gateway.response_cache.total: %w", err)
	}
	return &m, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// RequestStart increments the in-flight gauge.
func (m *Metrics) RequestStart(ctx context.Context) {
	m.requestActive.Add(ctx, 1)
}

// RequestEnd decrements the in-flight gauge and records the finished request.
func (m *Metrics) RequestEnd(ctx context.Context, route, method string, status int, outcome string, d time.Duration) {
	m.requestActive.Add(ctx, -1)
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(status)),
		attribute.String("outcome", outcome),
	))
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", method),
	))
}

// CacheTransition counts an instance cache transition.
func (m *Metrics) CacheTransition(service, transition string) {
	m.cacheTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("transition", transition),
	))
}

// BreakerTransition counts a circuit breaker transition.
func (m *Metrics) BreakerTransition(route, from, to string) {
	m.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// UpstreamRetry counts a scheduled retry.
func (m *Metrics) UpstreamRetry(route string) {
	m.upstreamRetries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("route", route),
	))
}

// ResponseCache counts a response cache event: "hit", "miss" or "store".
func (m *Metrics) ResponseCache(ctx context.Context, route, result string) {
	m.responseCache.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("result", result),
	))
}
