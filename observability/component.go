package observability

import (
	"context"
	"errors"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/meshgate/component"
)

// Component installs the OTLP providers on Start and flushes them on Stop.
// Instruments created earlier from the global providers are picked up
// once the providers are installed.
type Component struct {
	cfg Config
	svc ServiceInfo
	tp  *sdktrace.TracerProvider
	mp  *sdkmetric.MeterProvider
}

var _ component.Component = (*Component)(nil)

// NewComponent creates the component.
func NewComponent(cfg Config, svc ServiceInfo) *Component {
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, svc: svc}
}

// Name returns the component name.
func (c *Component) Name() string { return "observability" }

// Start installs the configured providers. Propagation is always installed.
func (c *Component) Start(ctx context.Context) error {
	SetupPropagation()
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.Tracing {
		tp, err := InitTracer(ctx, c.cfg, c.svc)
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		c.tp = tp
	}
	if c.cfg.Metrics {
		mp, err := InitMeter(ctx, c.cfg, c.svc)
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		c.mp = mp
	}
	return nil
}

// Stop flushes and shuts down the providers.
func (c *Component) Stop(ctx context.Context) error {
	var errs []error
	if c.tp != nil {
		errs = append(errs, c.tp.Shutdown(ctx))
	}
	if c.mp != nil {
		errs = append(errs, c.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Health is always healthy: export failures never affect serving.
func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	if !c.cfg.Enabled {
		return component.Description{Type: "telemetry", Details: "disabled"}
	}
	return component.Description{
		Type:    "telemetry",
		Details: fmt.Sprintf("otlp %s tracing=%v metrics=%v", c.cfg.Endpoint, c.cfg.Tracing, c.cfg.Metrics),
	}
}
