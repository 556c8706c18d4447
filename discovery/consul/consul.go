// Package consul implements discovery.Discovery and discovery.Registry on
// top of a Consul agent.
package consul

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshgate/discovery"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/util"
)

const (
	watchBackoffMin = time.Second
	watchBackoffMax = 30 * time.Second
)

// Provider talks to Consul's health and agent endpoints.
type Provider struct {
	client *api.Client
	cfg    Config
	log    *logger.Logger
}

func init() {
	discovery.RegisterProviderFactory("consul", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.Provider, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			if c != nil {
				cfg = *c
			}
		case Config:
			cfg = c
		case nil:
		default:
			return discovery.Provider{}, fmt.Errorf("consul: unexpected provider config %T", providerCfg)
		}
		p, err := NewProvider(cfg, log)
		if err != nil {
			return discovery.Provider{}, err
		}
		return discovery.Provider{Discovery: p, Registry: p}, nil
	})
}

// NewProvider creates a Provider from the given Config. No request is made.
func NewProvider(cfg Config, log *logger.Logger) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Datacenter = cfg.Datacenter
	apiCfg.Token = cfg.Token
	apiCfg.Namespace = cfg.Namespace
	apiCfg.Partition = cfg.Partition
	apiCfg.WaitTime = cfg.WaitTime

	if cfg.TLS != nil && cfg.TLS.Enabled {
		apiCfg.TLSConfig = api.TLSConfig{
			Address:            cfg.TLS.ServerName,
			CAFile:             cfg.TLS.CACert,
			CAPath:             cfg.TLS.CAPath,
			CertFile:           cfg.TLS.ClientCert,
			KeyFile:            cfg.TLS.ClientKey,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
	}
	if t := apiCfg.Transport; t != nil {
		t.MaxIdleConns = cfg.Pool.MaxIdleConns
		t.MaxIdleConnsPerHost = cfg.Pool.MaxIdleConnsPerHost
		t.MaxConnsPerHost = cfg.Pool.MaxConnsPerHost
		t.IdleConnTimeout = cfg.Pool.IdleConnTimeout
		t.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	p := &Provider{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("consul"),
	}
	fields := logger.Fields("address", cfg.Address, "scheme", cfg.Scheme, "datacenter", cfg.Datacenter)
	if cfg.Token != "" {
		fields["token"] = util.MaskToken(cfg.Token, 4)
	}
	p.log.Debug("consul client configured", fields)
	return p, nil
}

// --- Registry implementation ---

// Register registers a service instance with the local agent.
func (p *Provider) Register(ctx context.Context, svc *discovery.ServiceInfo) error {
	reg := &api.AgentServiceRegistration{
		ID:      svc.ID,
		Name:    svc.Name,
		Address: svc.Address,
		Port:    svc.Port,
		Tags:    svc.Tags,
		Meta:    svc.Metadata,
	}
	if chk := svc.Check; chk != nil && chk.URL != "" {
		reg.Check = &api.AgentServiceCheck{
			HTTP:                           chk.URL,
			Interval:                       chk.Interval.String(),
			Timeout:                        chk.Timeout.String(),
			DeregisterCriticalServiceAfter: chk.DeregisterAfter.String(),
		}
	}

	if err := p.client.Agent().ServiceRegisterOpts(reg, api.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
		p.log.Error("failed to register service", logger.MergeWithError(logger.Fields("service_id", svc.ID), err))
		return fmt.Errorf("%w: consul register %q: %w", discovery.ErrRegistryUnavailable, svc.Name, err)
	}

	p.log.Info("service registered", logger.Fields(
		"service_id", svc.ID, "address", svc.Address, "port", svc.Port))
	return nil
}

// Deregister removes a service instance from the local agent.
func (p *Provider) Deregister(ctx context.Context, serviceID string) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := p.client.Agent().ServiceDeregisterOpts(serviceID, q); err != nil {
		return fmt.Errorf("%w: consul deregister %q: %w", discovery.ErrRegistryUnavailable, serviceID, err)
	}
	p.log.Info("service deregistered", logger.Fields("service_id", serviceID))
	return nil
}

// --- Discovery implementation ---

// Discover lists every instance of serviceName with its aggregated check status.
func (p *Provider) Discover(ctx context.Context, serviceName string) ([]discovery.ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	entries, _, err := p.client.Health().Service(serviceName, "", false, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: consul discover %q: %w", discovery.ErrRegistryUnavailable, serviceName, err)
	}
	return toInstances(entries, time.Now()), nil
}

// Watch follows serviceName with blocking queries. Errors are retried with
// exponential backoff; the channel closes when ctx is done.
func (p *Provider) Watch(ctx context.Context, serviceName string) (<-chan []discovery.ServiceInstance, error) {
	ch := make(chan []discovery.ServiceInstance, 1)

	go func() {
		defer close(ch)
		var lastIndex uint64
		backoff := watchBackoffMin

		for ctx.Err() == nil {
			opts := (&api.QueryOptions{WaitIndex: lastIndex, WaitTime: p.cfg.WaitTime}).WithContext(ctx)
			entries, meta, err := p.client.Health().Service(serviceName, "", false, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("consul watch error", logger.MergeWithError(logger.Fields(
					logger.FieldService, serviceName, "backoff_ms", backoff.Milliseconds()), err))
				if !sleep(ctx, backoff) {
					return
				}
				backoff = min(backoff*2, watchBackoffMax)
				continue
			}
			backoff = watchBackoffMin

			if meta.LastIndex == lastIndex {
				continue
			}
			// The index went backwards (agent restart); start over.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			lastIndex = meta.LastIndex

			select {
			case ch <- toInstances(entries, time.Now()):
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close is a no-op; the HTTP client does not require explicit closing.
func (p *Provider) Close() error {
	return nil
}

func toInstances(entries []*api.ServiceEntry, now time.Time) []discovery.ServiceInstance {
	out := make([]discovery.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		out = append(out, discovery.ServiceInstance{
			ID:       e.Service.ID,
			Name:     e.Service.Service,
			Address:  addr,
			Port:     e.Service.Port,
			Healthy:  e.Checks.AggregatedStatus() == api.HealthPassing,
			Tags:     e.Service.Tags,
			Metadata: e.Service.Meta,
			LastSeen: now,
		})
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Compile-time checks.
var (
	_ discovery.Registry  = (*Provider)(nil)
	_ discovery.Discovery = (*Provider)(nil)
)
