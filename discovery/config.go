package discovery

import (
	"fmt"
	"time"

	"github.com/kbukum/meshgate/validation"
)

// Config selects the discovery provider and the gateway's own registration.
type Config struct {
	// Provider is "consul" or "static".
	Provider string `yaml:"provider" mapstructure:"provider" validate:"required,oneof=consul static"`

	// StaticEndpoints seeds the static provider.
	StaticEndpoints []StaticEndpoint `yaml:"static_endpoints" mapstructure:"static_endpoints" validate:"dive"`

	// Registration controls self-registration of the gateway.
	Registration RegistrationConfig `yaml:"registration" mapstructure:"registration"`
}

// StaticEndpoint describes a statically configured instance.
type StaticEndpoint struct {
	Service  string            `yaml:"service" mapstructure:"service" validate:"required"`
	ID       string            `yaml:"id" mapstructure:"id"`
	Address  string            `yaml:"address" mapstructure:"address" validate:"required"`
	Port     int               `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	Healthy  *bool             `yaml:"healthy" mapstructure:"healthy"`
	Tags     []string          `yaml:"tags" mapstructure:"tags"`
	Metadata map[string]string `yaml:"metadata" mapstructure:"metadata"`
}

// Instance converts the endpoint into a ServiceInstance. Healthy defaults to true.
func (e StaticEndpoint) Instance(now time.Time) ServiceInstance {
	id := e.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", e.Service, e.Address, e.Port)
	}
	healthy := true
	if e.Healthy != nil {
		healthy = *e.Healthy
	}
	return ServiceInstance{
		ID:       id,
		Name:     e.Service,
		Address:  e.Address,
		Port:     e.Port,
		Healthy:  healthy,
		Tags:     e.Tags,
		Metadata: e.Metadata,
		LastSeen: now,
	}
}

// RegistrationConfig describes how the gateway registers itself.
type RegistrationConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ServiceName is the name the gateway registers under.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	// ServiceID defaults to ServiceName-Address-Port.
	ServiceID string `yaml:"service_id" mapstructure:"service_id"`
	// Address is advertised to the registry; resolved from the outbound interface when empty.
	Address string            `yaml:"address" mapstructure:"address"`
	Port    int               `yaml:"port" mapstructure:"port"`
	Tags    []string          `yaml:"tags" mapstructure:"tags"`
	Meta    map[string]string `yaml:"meta" mapstructure:"meta"`
	// HealthCheckPath is the gateway's admin health endpoint.
	HealthCheckPath     string        `yaml:"health_check_path" mapstructure:"health_check_path"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout" mapstructure:"health_check_timeout"`
	DeregisterAfter     time.Duration `yaml:"deregister_after" mapstructure:"deregister_after"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "static"
	}
	r := &c.Registration
	if r.HealthCheckPath == "" {
		r.HealthCheckPath = "/_gateway/health"
	}
	if r.HealthCheckInterval == 0 {
		r.HealthCheckInterval = 10 * time.Second
	}
	if r.HealthCheckTimeout == 0 {
		r.HealthCheckTimeout = 5 * time.Second
	}
	if r.DeregisterAfter == 0 {
		r.DeregisterAfter = time.Minute
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if c.Registration.Enabled {
		v := validation.New().
			Required("registration.service_name", c.Registration.ServiceName).
			Min("registration.port", c.Registration.Port, 1)
		if err := v.Validate(); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
	}
	return nil
}
