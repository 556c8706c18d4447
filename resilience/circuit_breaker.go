package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen rejects requests without invoking them.
	StateOpen
	// StateHalfOpen admits a single trial request.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrCircuitOpen is returned without invoking the call while the breaker is open
	// or while the half-open trial is in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCallerAborted marks failures caused by the caller side (e.g. the client
	// went away while the response was streamed). They are neither retried nor
	// counted against the backend.
	ErrCallerAborted = errors.New("caller aborted")
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before the half-open trial.
	ResetTimeout time.Duration
	// IsFailure classifies call results. Defaults to DefaultIsFailure.
	IsFailure func(error) bool
	// OnStateChange is called, with the breaker lock held, on every transition.
	OnStateChange func(name string, from, to State)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns the gateway defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  DefaultBreakerThreshold,
		ResetTimeout: DefaultBreakerReset,
	}
}

// DefaultIsFailure counts every error except caller cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCallerAborted)
}

// CircuitBreaker fails fast while a backend is unhealthy.
//
// Closed counts consecutive failures; reaching MaxFailures opens the circuit.
// Open rejects calls with ErrCircuitOpen until ResetTimeout has elapsed since
// it opened, then moves to half-open. Half-open admits exactly one trial call:
// success closes the circuit, failure reopens it and restarts the timeout.
// The mutex is never held while the protected call runs.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	lastTransition time.Time
	trialInFlight  bool
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultBreakerThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerReset
	}
	if config.IsFailure == nil {
		config.IsFailure = DefaultIsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		lastTransition: config.Now(),
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen, without calling fn, if the call is not admitted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, ok := cb.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(trial, err)
	return err
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	LastTransition time.Time `json:"last_transition"`
}

// Snapshot returns the breaker's state, failure count and last transition time.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:           cb.config.Name,
		State:          cb.currentState(),
		Failures:       cb.failures,
		LastTransition: cb.lastTransition,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.failures = 0
}

// allowRequest reports whether a call may proceed and whether it is the half-open trial.
func (cb *CircuitBreaker) allowRequest() (trial bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false, false
		}
		cb.trialInFlight = true
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) recordResult(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	switch {
	case err == nil:
		cb.onSuccess(trial)
	case cb.config.IsFailure(err):
		cb.onFailure(trial)
	}
	// Errors that are not failures leave the state untouched; a trial that
	// ended that way frees the slot for the next caller.
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if trial {
			cb.toState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure(trial bool) {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		if trial {
			cb.toState(StateOpen)
		}
	}
}

// currentState returns the state, applying the open -> half-open timeout.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastTransition) >= cb.config.ResetTimeout {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.lastTransition = cb.config.Now()

	switch to {
	case StateClosed:
		cb.failures = 0
		cb.trialInFlight = false
	case StateHalfOpen:
		cb.trialInFlight = false
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
