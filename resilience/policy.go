package resilience

import (
	"fmt"
	"time"

	"github.com/kbukum/meshgate/validation"
)

// Defaults applied when a route does not override them.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
	DefaultBackoffBase      = 200 * time.Millisecond
	DefaultBackoffMax       = 5 * time.Second
)

// Policy is the resilience policy of one route. It is an immutable value.
type Policy struct {
	// Timeout bounds each attempt separately.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	// MaxRetries is the number of extra attempts for idempotent requests.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" json:"max_retries"`
	// BreakerThreshold is the consecutive failures that open the circuit.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold" json:"breaker_threshold"`
	// BreakerResetPeriod is how long the circuit stays open.
	BreakerResetPeriod time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset" json:"breaker_reset"`
	BackoffBase        time.Duration `yaml:"backoff_base" mapstructure:"backoff_base" json:"backoff_base"`
	BackoffMax         time.Duration `yaml:"backoff_max" mapstructure:"backoff_max" json:"backoff_max"`
}

// DefaultPolicy returns the gateway-wide default policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:            DefaultTimeout,
		MaxRetries:         DefaultMaxRetries,
		BreakerThreshold:   DefaultBreakerThreshold,
		BreakerResetPeriod: DefaultBreakerReset,
		BackoffBase:        DefaultBackoffBase,
		BackoffMax:         DefaultBackoffMax,
	}
}

// ApplyDefaults fills zero durations and thresholds from DefaultPolicy.
// MaxRetries is left alone: zero means no retries.
func (p *Policy) ApplyDefaults() {
	d := DefaultPolicy()
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	if p.BreakerThreshold == 0 {
		p.BreakerThreshold = d.BreakerThreshold
	}
	if p.BreakerResetPeriod == 0 {
		p.BreakerResetPeriod = d.BreakerResetPeriod
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffMax == 0 {
		p.BackoffMax = d.BackoffMax
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	v := validation.New().
		MinDuration("timeout", p.Timeout, time.Millisecond).
		Min("max_retries", p.MaxRetries, 0).
		Min("breaker_threshold", p.BreakerThreshold, 1).
		MinDuration("breaker_reset", p.BreakerResetPeriod, time.Millisecond).
		MinDuration("backoff_base", p.BackoffBase, time.Millisecond).
		Custom(p.BackoffMax >= p.BackoffBase, "backoff_max", "must not be smaller than backoff_base")
	if err := v.Validate(); err != nil {
		return fmt.Errorf("resilience policy: %w", err)
	}
	return nil
}

// Overrides holds per-route policy fields. Nil fields inherit the defaults.
type Overrides struct {
	Timeout            *time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	MaxRetries         *int           `yaml:"max_retries" mapstructure:"max_retries" json:"max_retries"`
	BreakerThreshold   *int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold" json:"breaker_threshold"`
	BreakerResetPeriod *time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset" json:"breaker_reset"`
	BackoffBase        *time.Duration `yaml:"backoff_base" mapstructure:"backoff_base" json:"backoff_base"`
	BackoffMax         *time.Duration `yaml:"backoff_max" mapstructure:"backoff_max" json:"backoff_max"`
}

// Merge returns base with every non-nil override applied.
func (o Overrides) Merge(base Policy) Policy {
	p := base
	if o.Timeout != nil {
		p.Timeout = *o.Timeout
	}
	if o.MaxRetries != nil {
		p.MaxRetries = *o.MaxRetries
	}
	if o.BreakerThreshold != nil {
		p.BreakerThreshold = *o.BreakerThreshold
	}
	if o.BreakerResetPeriod != nil {
		p.BreakerResetPeriod = *o.BreakerResetPeriod
	}
	if o.BackoffBase != nil {
		p.BackoffBase = *o.BackoffBase
	}
	if o.BackoffMax != nil {
		p.BackoffMax = *o.BackoffMax
	}
	return p
}
