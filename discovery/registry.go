package discovery

import (
	"context"
	"time"
)

// ServiceInfo describes the gateway instance to register.
type ServiceInfo struct {
	ID       string
	Name     string
	Address  string
	Port     int
	Tags     []string
	Metadata map[string]string
	Check    *HealthCheck
}

// HealthCheck is the HTTP check the registry runs against a registered instance.
type HealthCheck struct {
	URL             string
	Interval        time.Duration
	Timeout         time.Duration
	DeregisterAfter time.Duration
}

// Registry registers and deregisters service instances.
type Registry interface {
	Register(ctx context.Context, service *ServiceInfo) error
	Deregister(ctx context.Context, serviceID string) error
}
