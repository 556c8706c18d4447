package main

import (
	"fmt"

	"github.com/kbukum/meshgate/cache"
	"github.com/kbukum/meshgate/config"
	"github.com/kbukum/meshgate/discovery"
	"github.com/kbukum/meshgate/discovery/consul"
	"github.com/kbukum/meshgate/gateway"
	"github.com/kbukum/meshgate/observability"
	"github.com/kbukum/meshgate/redis"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
	"github.com/kbukum/meshgate/server"
)

// AppConfig is the root configuration of the gateway process.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config         `yaml:"server" mapstructure:"server"`
	Discovery     discovery.Config      `yaml:"discovery" mapstructure:"discovery"`
	Consul        consul.Config         `yaml:"consul" mapstructure:"consul"`
	InstanceCache discovery.CacheConfig `yaml:"instance_cache" mapstructure:"instance_cache"`
	Defaults      resilience.Policy     `yaml:"defaults" mapstructure:"defaults"`
	Routes        []route.Config        `yaml:"routes" mapstructure:"routes"`
	Proxy         gateway.Config        `yaml:"proxy" mapstructure:"proxy"`
	ResponseCache cache.Config          `yaml:"response_cache" mapstructure:"response_cache"`
	Redis         redis.Config          `yaml:"redis" mapstructure:"redis"`
	Observability observability.Config  `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults fills every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	if c.Discovery.Registration.Enabled {
		if c.Discovery.Registration.ServiceName == "" {
			c.Discovery.Registration.ServiceName = c.Name
		}
		if c.Discovery.Registration.Port == 0 {
			c.Discovery.Registration.Port = c.Server.Port
		}
		c.Discovery.Registration.HealthCheckPath = c.Server.AdminPrefix + "/health"
	}
	if c.Discovery.Provider == "consul" {
		c.Consul.ApplyDefaults()
	}
	c.InstanceCache.ApplyDefaults()
	c.Defaults.ApplyDefaults()
	c.Proxy.ApplyDefaults()
	c.ResponseCache.ApplyDefaults()
	if c.usesRedis() {
		c.Redis.ApplyDefaults()
	}
	c.Observability.ApplyDefaults()
}

// Validate checks every section. Routes are validated when the table is built.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.Discovery.Provider == "consul" {
		if err := c.Consul.Validate(); err != nil {
			return fmt.Errorf("consul: %w", err)
		}
	}
	if err := c.InstanceCache.Validate(); err != nil {
		return err
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("routes: at least one route is required")
	}
	if err := c.Proxy.Validate(); err != nil {
		return err
	}
	if err := c.ResponseCache.Validate(); err != nil {
		return err
	}
	if c.usesRedis() {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return c.Observability.Validate()
}

func (c *AppConfig) usesRedis() bool {
	return c.ResponseCache.Enabled && c.ResponseCache.Store == cache.StoreRedis
}
