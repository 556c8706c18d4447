package route

import (
	"strings"
	"time"

	"github.com/kbukum/meshgate/balancer"
	"github.com/kbukum/meshgate/resilience"
)

// Config declares one route.
type Config struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Host restricts the route to an exact host or a "*.example.com" wildcard.
	Host string `yaml:"host" mapstructure:"host" validate:"omitempty,host_template"`
	// Path is the upstream path template: literals, {param} segments and a
	// trailing * or {everything} catch-all.
	Path          string `yaml:"path" mapstructure:"path" validate:"required,path_template"`
	CaseSensitive bool   `yaml:"case_sensitive" mapstructure:"case_sensitive"`
	// Service is the discovery name of the backend.
	Service string `yaml:"service" mapstructure:"service" validate:"required"`

	LoadBalancer string `yaml:"load_balancer" mapstructure:"load_balancer" validate:"omitempty,oneof=round_robin random least_failed"`
	Scheme       string `yaml:"downstream_scheme" mapstructure:"downstream_scheme" validate:"omitempty,oneof=http https"`
	StripPrefix  bool   `yaml:"strip_prefix" mapstructure:"strip_prefix"`

	CacheTTL      time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"gte=0"`
	RateLimit     float64       `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst     int           `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`

	Resilience resilience.Overrides `yaml:"resilience" mapstructure:"resilience"`
}

// Route is a compiled, immutable route.
type Route struct {
	Name          string            `json:"name"`
	Host          string            `json:"host,omitempty"`
	PathTemplate  string            `json:"path"`
	Service       string            `json:"service"`
	Policy        resilience.Policy `json:"policy"`
	Balancer      balancer.Policy   `json:"load_balancer"`
	Scheme        string            `json:"downstream_scheme"`
	StripPrefix   bool              `json:"strip_prefix,omitempty"`
	CacheTTL      time.Duration     `json:"cache_ttl,omitempty"`
	RateLimit     float64           `json:"rate_limit,omitempty"`
	RateBurst     int               `json:"rate_burst,omitempty"`
	MaxConcurrent int               `json:"max_concurrent,omitempty"`

	pattern pattern
	host    hostMatcher
	order   int
}

// Matches reports whether the route accepts path on host.
func (r Route) Matches(path, host string) bool {
	return r.host.match(host) && r.pattern.match(path)
}

// UpstreamPath returns the path to send upstream. With StripPrefix the
// template's literal prefix is removed.
func (r Route) UpstreamPath(path string) string {
	if !r.StripPrefix {
		return path
	}
	prefix := strings.TrimRight(r.PathTemplate[:r.pattern.literalPrefix], "/")
	if prefix == "" {
		return path
	}
	var rest string
	if r.pattern.caseSensitive {
		rest = strings.TrimPrefix(path, prefix)
	} else if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
		rest = path[len(prefix):]
	} else {
		rest = path
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// Cacheable reports whether responses of this route may be cached.
func (r Route) Cacheable() bool { return r.CacheTTL > 0 }
