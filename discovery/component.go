package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/kbukum/meshgate/component"
	"github.com/kbukum/meshgate/logger"
)

// Provider is what a backend factory returns. Providers that cannot register
// services return a nil Registry.
type Provider struct {
	Discovery Discovery
	Registry  Registry
}

// ProviderFactory builds a provider. providerCfg carries provider-specific
// settings (e.g. *consul.Config); factories type-assert it.
type ProviderFactory func(cfg Config, providerCfg any, log *logger.Logger) (Provider, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory makes a provider available under name. Provider
// packages call it from init.
func RegisterProviderFactory(name string, f ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = f
}

func lookupFactory(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[name]
	return f, ok
}

// Component owns the discovery provider and the gateway's registration.
type Component struct {
	cfg      Config
	provider Provider
	log      *logger.Logger

	mu           sync.Mutex
	registeredID string
}

var _ component.Component = (*Component)(nil)

// NewComponent builds the configured provider. No network I/O happens until Start.
func NewComponent(cfg Config, providerCfg any, log *logger.Logger) (*Component, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("discovery")

	f, ok := lookupFactory(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("unsupported discovery provider %q (not registered)", cfg.Provider)
	}
	p, err := f(cfg, providerCfg, log)
	if err != nil {
		return nil, fmt.Errorf("discovery provider %s: %w", cfg.Provider, err)
	}
	if p.Discovery == nil {
		return nil, fmt.Errorf("discovery provider %s returned no Discovery", cfg.Provider)
	}

	return &Component{cfg: cfg, provider: p, log: log}, nil
}

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Discovery returns the provider's Discovery.
func (c *Component) Discovery() Discovery { return c.provider.Discovery }

// Start registers the gateway when registration is enabled.
func (c *Component) Start(ctx context.Context) error {
	reg := c.cfg.Registration
	if !reg.Enabled {
		c.log.Info("discovery component started", logger.Fields("provider", c.cfg.Provider))
		return nil
	}
	if c.provider.Registry == nil {
		return fmt.Errorf("discovery provider %s does not support registration", c.cfg.Provider)
	}

	addr := reg.Address
	if addr == "" {
		ip, err := localIP()
		if err != nil {
			return fmt.Errorf("discovery: resolve local IP: %w", err)
		}
		addr = ip
	}
	id := reg.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", reg.ServiceName, addr, reg.Port)
	}

	svc := &ServiceInfo{
		ID:       id,
		Name:     reg.ServiceName,
		Address:  addr,
		Port:     reg.Port,
		Tags:     reg.Tags,
		Metadata: reg.Meta,
		Check: &HealthCheck{
			URL:             fmt.Sprintf("http://%s%s", net.JoinHostPort(addr, fmt.Sprint(reg.Port)), reg.HealthCheckPath),
			Interval:        reg.HealthCheckInterval,
			Timeout:         reg.HealthCheckTimeout,
			DeregisterAfter: reg.DeregisterAfter,
		},
	}
	if err := c.provider.Registry.Register(ctx, svc); err != nil {
		return fmt.Errorf("discovery: register self: %w", err)
	}

	c.mu.Lock()
	c.registeredID = id
	c.mu.Unlock()

	c.log.Info("discovery component started", logger.Fields(
		"provider", c.cfg.Provider, "registered_as", id))
	return nil
}

// Stop deregisters the gateway and closes the provider.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	id := c.registeredID
	c.registeredID = ""
	c.mu.Unlock()

	if id != "" {
		if err := c.provider.Registry.Deregister(ctx, id); err != nil {
			c.log.Warn("failed to deregister on stop", logger.MergeWithError(logger.Fields("service_id", id), err))
		}
	}
	return c.provider.Discovery.Close()
}

// Health reports whether self-registration, when enabled, is in place.
func (c *Component) Health(_ context.Context) component.Health {
	c.mu.Lock()
	registered := c.registeredID != ""
	c.mu.Unlock()

	if c.cfg.Registration.Enabled && !registered {
		return component.Health{Name: c.Name(), Status: component.StatusDegraded, Message: "not registered"}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	details := "provider=" + c.cfg.Provider
	if c.cfg.Registration.Enabled {
		details += " register=" + c.cfg.Registration.ServiceName
	}
	return component.Description{Type: "discovery", Details: details}
}

func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
