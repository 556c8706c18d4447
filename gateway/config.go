package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/meshgate/security"
	"github.com/kbukum/meshgate/util"
)

const (
	// DefaultMaxBodySize bounds the buffered body of a replayable request.
	DefaultMaxBodySize int64 = 10 << 20

	defaultDialTimeout         = 5 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultMaxIdleConns        = 512
	defaultMaxIdleConnsPerHost = 64
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 5 * time.Second
)

// DefaultFailureStatuses are the upstream statuses treated as a failed attempt.
var DefaultFailureStatuses = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}

// Config configures the dispatcher.
type Config struct {
	// MaxBodySize caps the request body buffered for retries, e.g. "10MB".
	// Larger bodies of idempotent requests are rejected with 413.
	MaxBodySize string `yaml:"max_body_size" mapstructure:"max_body_size"`
	// FailureStatuses are upstream statuses that count as a failed attempt.
	// They are retried like transport errors; the last one is forwarded as is.
	FailureStatuses []int `yaml:"failure_statuses" mapstructure:"failure_statuses"`
	// Transport configures the pooled upstream transport.
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.MaxBodySize == "" {
		c.MaxBodySize = "10MB"
	}
	if c.FailureStatuses == nil {
		c.FailureStatuses = append([]int(nil), DefaultFailureStatuses...)
	}
	c.Transport.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if n, err := util.ParseByteSize(c.MaxBodySize); err != nil || n == 0 {
		return fmt.Errorf("gateway: invalid max_body_size %q", c.MaxBodySize)
	}
	for _, s := range c.FailureStatuses {
		if s < 500 || s > 599 {
			return fmt.Errorf("gateway: failure status %d is not a 5xx status", s)
		}
	}
	return c.Transport.Validate()
}

// BodyLimit returns MaxBodySize in bytes, or DefaultMaxBodySize when unset
// or invalid.
func (c *Config) BodyLimit() int64 {
	n, err := util.ParseByteSize(c.MaxBodySize)
	if err != nil || n == 0 {
		return DefaultMaxBodySize
	}
	return n
}

// TransportConfig configures the connection pool used for upstream calls.
type TransportConfig struct {
	DialTimeout         time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
	MaxIdleConns        int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	// DisableCompression stops the transport from asking for gzip, so
	// upstream encodings reach the client untouched.
	DisableCompression bool `yaml:"disable_compression" mapstructure:"disable_compression"`
	// TLS applies to routes with downstream_scheme https.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults fills in zero-value fields.
func (c *TransportConfig) ApplyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
}

// Validate checks the configuration.
func (c *TransportConfig) Validate() error {
	if c.MaxConnsPerHost < 0 {
		return fmt.Errorf("gateway: max_conns_per_host must not be negative")
	}
	return c.TLS.Validate()
}
