package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/meshgate/logger"
)

var (
	// ErrUpstreamUnavailable is returned when every attempt failed. It wraps the last cause.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrAttemptTimeout marks an attempt that ran out of its per-attempt timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")
)

// AttemptFunc performs one call. ctx carries the per-attempt timeout; attempt starts at 1.
type AttemptFunc func(ctx context.Context, attempt int) error

// ExecutorConfig wires observers into the executor.
type ExecutorConfig struct {
	Logger *logger.Logger
	// OnStateChange observes every breaker transition; key is the route name.
	OnStateChange func(key string, from, to State)
	// OnRetry observes every scheduled retry.
	OnRetry func(key string, attempt int, err error, backoff time.Duration)
	// Now is the breaker clock. Defaults to time.Now.
	Now func() time.Time
	// IsFailure decides which attempt errors count against a breaker.
	// Defaults to DefaultIsFailure.
	IsFailure func(error) bool
}

// Executor applies a Policy around calls: one circuit breaker per key, retry
// with backoff for idempotent calls, and a fresh timeout per attempt.
// It owns its breakers exclusively.
type Executor struct {
	cfg      ExecutorConfig
	log      *logger.Logger
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewExecutor creates an executor with no breakers; they are created on first use.
func NewExecutor(cfg ExecutorConfig) *Executor {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		log:      log.WithComponent("resilience"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Execute runs fn under key's breaker with policy p.
//
// Non-idempotent calls get exactly one attempt. Idempotent calls get up to
// 1+p.MaxRetries attempts; retrying stops early when the circuit is open, the
// error is permanent, or ctx is done. On failure the error wraps
// ErrUpstreamUnavailable and the last cause; if the breaker rejected the last
// attempt it also satisfies errors.Is(err, ErrCircuitOpen). When ctx itself
// ended the call, ctx's error is returned as is.
func (e *Executor) Execute(ctx context.Context, key string, p Policy, idempotent bool, fn AttemptFunc) error {
	cb := e.breaker(key, p)

	attempts := 1
	if idempotent {
		attempts += p.MaxRetries
	}

	attempt := 0
	err := RetryFunc(ctx, RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: p.BackoffBase,
		MaxBackoff:     p.BackoffMax,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
		OnRetry: func(n int, err error, backoff time.Duration) {
			e.log.Debug("retrying upstream call", logger.MergeWithError(logger.Fields(
				logger.FieldRoute, key, logger.FieldAttempts, n, "backoff_ms", backoff.Milliseconds()), err))
			if e.cfg.OnRetry != nil {
				e.cfg.OnRetry(key, n, err, backoff)
			}
		},
	}, func() error {
		attempt++
		return cb.Execute(func() error {
			return runAttempt(ctx, p.Timeout, attempt, fn)
		})
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCallerAborted), ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn AttemptFunc) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(actx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, timeout, err)
	}
	return err
}

// IsTimeout reports whether the last cause of err was a per-attempt timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrAttemptTimeout)
}

// State returns the breaker state for key. Unknown keys are closed.
func (e *Executor) State(key string) State {
	e.mu.Lock()
	cb, ok := e.breakers[key]
	e.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

// Snapshot returns every breaker, sorted by key.
func (e *Executor) Snapshot() []Snapshot {
	e.mu.Lock()
	keys := make([]string, 0, len(e.breakers))
	for k := range e.breakers {
		keys = append(keys, k)
	}
	breakers := make(map[string]*CircuitBreaker, len(e.breakers))
	for k, v := range e.breakers {
		breakers[k] = v
	}
	e.mu.Unlock()

	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, breakers[k].Snapshot())
	}
	return out
}

// breaker returns key's breaker, creating it from p on first use.
func (e *Executor) breaker(key string, p Policy) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[key]; ok {
		return cb
	}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:          key,
		MaxFailures:   p.BreakerThreshold,
		ResetTimeout:  p.BreakerResetPeriod,
		Now:           e.cfg.Now,
		IsFailure:     e.cfg.IsFailure,
		OnStateChange: e.onStateChange,
	})
	e.breakers[key] = cb
	return cb
}

func (e *Executor) onStateChange(key string, from, to State) {
	fields := logger.Fields(logger.FieldRoute, key, "from", from.String(), "to", to.String())
	if to == StateOpen {
		e.log.Warn("circuit opened", fields)
	} else {
		e.log.Info("circuit state changed", fields)
	}
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(key, from, to)
	}
}
