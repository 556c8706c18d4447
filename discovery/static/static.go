// Package static provides an in-memory discovery provider seeded from
// configuration. It backs local development and tests.
package static

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/meshgate/discovery"
	"github.com/kbukum/meshgate/logger"
)

// Provider implements discovery.Discovery and discovery.Registry over an
// in-memory instance list.
type Provider struct {
	mu          sync.RWMutex
	instances   map[string][]discovery.ServiceInstance // keyed by service name
	watchers    map[string][]chan []discovery.ServiceInstance
	unavailable bool
	closed      bool
}

func init() {
	discovery.RegisterProviderFactory("static", func(cfg discovery.Config, _ any, _ *logger.Logger) (discovery.Provider, error) {
		p := NewProvider(cfg.StaticEndpoints)
		return discovery.Provider{Discovery: p, Registry: p}, nil
	})
}

// NewProvider creates a Provider pre-populated from static config.
func NewProvider(endpoints []discovery.StaticEndpoint) *Provider {
	p := &Provider{
		instances: make(map[string][]discovery.ServiceInstance),
		watchers:  make(map[string][]chan []discovery.ServiceInstance),
	}
	now := time.Now()
	for _, ep := range endpoints {
		p.instances[ep.Service] = append(p.instances[ep.Service], ep.Instance(now))
	}
	return p
}

// SetInstances replaces the instance list of a service and notifies watchers.
func (p *Provider) SetInstances(serviceName string, instances []discovery.ServiceInstance) {
	p.mu.Lock()
	p.instances[serviceName] = append([]discovery.ServiceInstance(nil), instances...)
	p.mu.Unlock()
	p.notify(serviceName)
}

// SetUnavailable makes Discover fail with discovery.ErrRegistryUnavailable
// until called again with false.
func (p *Provider) SetUnavailable(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = down
}

// --- Registry implementation ---

// Register adds or replaces an instance.
func (p *Provider) Register(_ context.Context, svc *discovery.ServiceInfo) error {
	p.mu.Lock()
	list := p.instances[svc.Name]
	out := make([]discovery.ServiceInstance, 0, len(list)+1)
	for _, inst := range list {
		if inst.ID != svc.ID {
			out = append(out, inst)
		}
	}
	out = append(out, discovery.ServiceInstance{
		ID:       svc.ID,
		Name:     svc.Name,
		Address:  svc.Address,
		Port:     svc.Port,
		Healthy:  true,
		Tags:     svc.Tags,
		Metadata: svc.Metadata,
		LastSeen: time.Now(),
	})
	p.instances[svc.Name] = out
	p.mu.Unlock()

	p.notify(svc.Name)
	return nil
}

// Deregister removes an instance by ID. Unknown IDs are ignored.
func (p *Provider) Deregister(_ context.Context, serviceID string) error {
	var changed string
	p.mu.Lock()
	for name, list := range p.instances {
		for i, inst := range list {
			if inst.ID == serviceID {
				out := make([]discovery.ServiceInstance, 0, len(list)-1)
				out = append(out, list[:i]...)
				p.instances[name] = append(out, list[i+1:]...)
				changed = name
				break
			}
		}
	}
	p.mu.Unlock()

	if changed != "" {
		p.notify(changed)
	}
	return nil
}

// --- Discovery implementation ---

// Discover returns a copy of the instances of serviceName.
func (p *Provider) Discover(_ context.Context, serviceName string) ([]discovery.ServiceInstance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.unavailable {
		return nil, fmt.Errorf("%w: static provider marked unavailable", discovery.ErrRegistryUnavailable)
	}
	return p.snapshot(serviceName), nil
}

// Watch emits the current list immediately, then again on every change.
// Slow readers only ever see the latest list.
func (p *Provider) Watch(ctx context.Context, serviceName string) (<-chan []discovery.ServiceInstance, error) {
	ch := make(chan []discovery.ServiceInstance, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: provider closed", discovery.ErrRegistryUnavailable)
	}
	ch <- p.snapshot(serviceName)
	p.watchers[serviceName] = append(p.watchers[serviceName], ch)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.removeWatcher(serviceName, ch)
	}()
	return ch, nil
}

// Close closes every open watch channel.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for name, list := range p.watchers {
		for _, ch := range list {
			close(ch)
		}
		delete(p.watchers, name)
	}
	return nil
}

// snapshot must be called with mu held.
func (p *Provider) snapshot(serviceName string) []discovery.ServiceInstance {
	list := p.instances[serviceName]
	out := make([]discovery.ServiceInstance, len(list))
	copy(out, list)
	return out
}

func (p *Provider) notify(serviceName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.watchers[serviceName] {
		snap := p.snapshot(serviceName)
		select {
		case ch <- snap:
		default:
			// Replace the unread value with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (p *Provider) removeWatcher(serviceName string, ch chan []discovery.ServiceInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.watchers[serviceName]
	for i, c := range list {
		if c == ch {
			p.watchers[serviceName] = append(list[:i:i], list[i+1:]...)
			close(ch)
			return
		}
	}
}

// Compile-time checks.
var (
	_ discovery.Registry  = (*Provider)(nil)
	_ discovery.Discovery = (*Provider)(nil)
)
