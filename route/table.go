// Package route maps inbound requests to backend services.
package route

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kbukum/meshgate/balancer"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/validation"
)

// ErrRouteNotFound is returned when no route matches a request.
var ErrRouteNotFound = errors.New("route not found")

// Table is built once at startup and is read-only afterwards.
type Table struct {
	declared []Route
	ranked   []Route
}

// New compiles and validates configs. Every route's policy is defaults with
// the route's overrides applied.
func New(configs []Config, defaults resilience.Policy) (*Table, error) {
	defaults.ApplyDefaults()
	seen := make(map[string]bool, len(configs))
	t := &Table{declared: make([]Route, 0, len(configs))}

	for i, c := range configs {
		if err := validation.Validate(c); err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, c.Name, err)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("route %q: duplicate name", c.Name)
		}
		seen[c.Name] = true

		policy := c.Resilience.Merge(defaults)
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", c.Name, err)
		}

		lb := balancer.Policy(c.LoadBalancer)
		if lb == "" {
			lb = balancer.RoundRobin
		}
		scheme := c.Scheme
		if scheme == "" {
			scheme = "http"
		}

		t.declared = append(t.declared, Route{
			Name:          c.Name,
			Host:          c.Host,
			PathTemplate:  c.Path,
			Service:       c.Service,
			Policy:        policy,
			Balancer:      lb,
			Scheme:        scheme,
			StripPrefix:   c.StripPrefix,
			CacheTTL:      c.CacheTTL,
			RateLimit:     c.RateLimit,
			RateBurst:     c.RateBurst,
			MaxConcurrent: c.MaxConcurrent,
			pattern:       compilePattern(c.Path, c.CaseSensitive),
			host:          compileHost(c.Host),
			order:         i,
		})
	}

	t.ranked = append([]Route(nil), t.declared...)
	sort.SliceStable(t.ranked, func(i, j int) bool {
		a, b := t.ranked[i], t.ranked[j]
		if a.host.any() != b.host.any() {
			return !a.host.any()
		}
		if a.pattern.literalPrefix != b.pattern.literalPrefix {
			return a.pattern.literalPrefix > b.pattern.literalPrefix
		}
		return a.order < b.order
	})
	return t, nil
}

// Match returns the best route for path on host: host-bound routes first,
// then the longest literal prefix, then declaration order.
func (t *Table) Match(path, host string) (Route, bool) {
	for _, r := range t.ranked {
		if r.Matches(path, host) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.declared...)
}

// Services returns the distinct backend services, in declaration order.
func (t *Table) Services() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.declared {
		if !seen[r.Service] {
			seen[r.Service] = true
			out = append(out, r.Service)
		}
	}
	return out
}
