package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// ErrRegistryUnavailable is wrapped by every error caused by failing to reach the registry.
var ErrRegistryUnavailable = errors.New("registry unavailable")

// ServiceInstance is one reachable endpoint of a backend service. Values are
// snapshots: they are replaced wholesale on refresh, never mutated.
type ServiceInstance struct {
	ID       string            `json:"id"`
	Name     string            `json:"service"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Healthy  bool              `json:"healthy"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
}

// HostPort returns the instance address in host:port form.
func (i ServiceInstance) HostPort() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}

// Discovery is the registry boundary.
type Discovery interface {
	// Discover returns the current instances of serviceName. An unknown or
	// empty service is an empty list, not an error. Failing to reach the
	// registry returns an error wrapping ErrRegistryUnavailable.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)

	// Watch emits a full snapshot whenever membership changes. Transient
	// registry errors are retried inside the provider. The channel is closed
	// when ctx is done.
	Watch(ctx context.Context, serviceName string) (<-chan []ServiceInstance, error)

	// Close releases any resources held by the provider.
	Close() error
}

// FilterHealthy returns the healthy subset of instances as a new slice.
func FilterHealthy(instances []ServiceInstance) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Healthy {
			out = append(out, inst)
		}
	}
	return out
}
