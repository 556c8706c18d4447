package server

import (
	"fmt"
	"strings"

	"github.com/kbukum/meshgate/server/middleware"
	"github.com/kbukum/meshgate/validation"
)

// DefaultAdminPrefix is where the admin endpoints live. Everything outside
// it is proxied.
const DefaultAdminPrefix = "/_gateway"

// Config holds HTTP server configuration.
type Config struct {
	Host              string `yaml:"host" mapstructure:"host"`
	Port              int    `yaml:"port" mapstructure:"port"`
	ReadTimeout       int    `yaml:"read_timeout" mapstructure:"read_timeout"`               // seconds
	ReadHeaderTimeout int    `yaml:"read_header_timeout" mapstructure:"read_header_timeout"` // seconds
	WriteTimeout      int    `yaml:"write_timeout" mapstructure:"write_timeout"`             // seconds
	IdleTimeout       int    `yaml:"idle_timeout" mapstructure:"idle_timeout"`               // seconds
	ShutdownTimeout   int    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`       // seconds
	// AdminPrefix is the path prefix of the admin endpoints.
	AdminPrefix     string                           `yaml:"admin_prefix" mapstructure:"admin_prefix"`
	CORS            middleware.CORSConfig            `yaml:"cors" mapstructure:"cors"`
	ClientRateLimit middleware.ClientRateLimitConfig `yaml:"client_rate_limit" mapstructure:"client_rate_limit"`
}

// ApplyDefaults sets sensible default values for unset fields.
// WriteTimeout must cover a proxied exchange including its retries.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 120
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15
	}
	if c.AdminPrefix == "" {
		c.AdminPrefix = DefaultAdminPrefix
	}
	c.AdminPrefix = "/" + strings.Trim(c.AdminPrefix, "/")
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID}
	}
	if c.ClientRateLimit.RequestsPerMinute == 0 {
		c.ClientRateLimit.RequestsPerMinute = 600
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validation.New()
	v.Custom(c.Port >= 0 && c.Port <= 65535, "server.port", fmt.Sprintf("must be between 0 and 65535 (got: %d)", c.Port))
	v.Min("server.read_timeout", c.ReadTimeout, 0)
	v.Min("server.read_header_timeout", c.ReadHeaderTimeout, 0)
	v.Min("server.write_timeout", c.WriteTimeout, 0)
	v.Min("server.idle_timeout", c.IdleTimeout, 0)
	v.Min("server.shutdown_timeout", c.ShutdownTimeout, 0)
	v.Custom(c.AdminPrefix != "/", "server.admin_prefix", "must not be the root path")
	v.Custom(!c.ClientRateLimit.Enabled || c.ClientRateLimit.RequestsPerMinute > 0,
		"server.client_rate_limit.requests_per_minute", "must be positive")
	return v.Validate()
}

// isAdminPath reports whether path is served by the admin endpoints.
func (c *Config) isAdminPath(path string) bool {
	return path == c.AdminPrefix || strings.HasPrefix(path, c.AdminPrefix+"/")
}
