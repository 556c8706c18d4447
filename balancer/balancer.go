// Package balancer picks one healthy instance of a service per request.
//
// Selection reads the instance cache and never performs I/O:
//
//	b := balancer.New(cache)
//	inst, err := b.Select("orders-svc", balancer.RoundRobin)
package balancer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/meshgate/discovery"
)

// ErrNoHealthyInstances is returned when no instance can be selected.
var ErrNoHealthyInstances = errors.New("no healthy instances")

// Policy is a load-balancing policy name.
type Policy string

const (
	RoundRobin  Policy = "round_robin"
	Random      Policy = "random"
	LeastFailed Policy = "least_failed"
)

// DefaultFailureWindow is how long a reported failure keeps an instance out
// of least_failed selection when the caller gives no window.
const DefaultFailureWindow = 30 * time.Second

// Valid reports whether p names a known policy. The empty policy means RoundRobin.
func (p Policy) Valid() bool {
	switch p {
	case "", RoundRobin, Random, LeastFailed:
		return true
	}
	return false
}

// InstanceSource supplies the current healthy instances of a service.
// *discovery.InstanceCache implements it.
type InstanceSource interface {
	Get(serviceName string) []discovery.ServiceInstance
}

// Option customizes a Balancer.
type Option func(*Balancer)

// WithFailureWindow sets how long least_failed avoids a failed instance.
func WithFailureWindow(d time.Duration) Option {
	return func(b *Balancer) { b.window = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Balancer) { b.now = now }
}

// WithIntN replaces the random source used by the random policy.
func WithIntN(intN func(n int) int) Option {
	return func(b *Balancer) { b.intN = intN }
}

// Balancer selects instances. It is safe for concurrent use.
type Balancer struct {
	source InstanceSource
	window time.Duration
	now    func() time.Time
	intN   func(n int) int

	counters sync.Map // service name -> *atomic.Uint64

	// longest is the largest window selected with; failure records older
	// than it are pruned.
	longest atomic.Int64

	mu       sync.RWMutex
	failures map[string]time.Time // instance ID -> last reported failure
}

// New creates a Balancer reading from source.
func New(source InstanceSource, opts ...Option) *Balancer {
	b := &Balancer{
		source:   source,
		window:   DefaultFailureWindow,
		now:      time.Now,
		intN:     rand.IntN,
		failures: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.longest.Store(int64(b.window))
	return b
}

// Select returns one instance of serviceName chosen by policy, using the
// balancer's failure window for least_failed.
func (b *Balancer) Select(serviceName string, policy Policy) (discovery.ServiceInstance, error) {
	return b.SelectWithin(serviceName, policy, b.window)
}

// SelectWithin is Select with an explicit least_failed window, normally the
// route's breaker reset period. A window <= 0 uses the balancer's window.
func (b *Balancer) SelectWithin(serviceName string, policy Policy, window time.Duration) (discovery.ServiceInstance, error) {
	instances := b.source.Get(serviceName)
	if len(instances) == 0 {
		return discovery.ServiceInstance{}, fmt.Errorf("%w: %s", ErrNoHealthyInstances, serviceName)
	}

	switch policy {
	case Random:
		return instances[b.intN(len(instances))], nil
	case LeastFailed:
		if window <= 0 {
			window = b.window
		}
		b.observeWindow(window)
		return b.leastFailed(serviceName, instances, window)
	default:
		return instances[b.next(serviceName, len(instances))], nil
	}
}

// MarkFailure records a failed call to the instance and prunes records that
// no window still covers.
func (b *Balancer) MarkFailure(instanceID string) {
	now := b.now()
	cutoff := now.Add(-time.Duration(b.longest.Load()))

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, at := range b.failures {
		if !at.After(cutoff) {
			delete(b.failures, id)
		}
	}
	b.failures[instanceID] = now
}

func (b *Balancer) observeWindow(window time.Duration) {
	for {
		cur := b.longest.Load()
		if int64(window) <= cur || b.longest.CompareAndSwap(cur, int64(window)) {
			return
		}
	}
}

// MarkSuccess forgets any failure recorded for the instance.
func (b *Balancer) MarkSuccess(instanceID string) {
	b.mu.RLock()
	_, ok := b.failures[instanceID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, instanceID)
}

// next advances the service's round-robin counter and maps it onto n slots.
func (b *Balancer) next(serviceName string, n int) int {
	v, ok := b.counters.Load(serviceName)
	if !ok {
		v, _ = b.counters.LoadOrStore(serviceName, new(atomic.Uint64))
	}
	idx := v.(*atomic.Uint64).Add(1) - 1
	return int(idx % uint64(n))
}

// leastFailed skips instances that failed within the window and round-robins
// over the rest. A failure older than the window no longer counts.
func (b *Balancer) leastFailed(serviceName string, instances []discovery.ServiceInstance, window time.Duration) (discovery.ServiceInstance, error) {
	cutoff := b.now().Add(-window)

	clean := make([]discovery.ServiceInstance, 0, len(instances))
	b.mu.RLock()
	for _, inst := range instances {
		if at, failed := b.failures[inst.ID]; !failed || !at.After(cutoff) {
			clean = append(clean, inst)
		}
	}
	b.mu.RUnlock()

	if len(clean) == 0 {
		return discovery.ServiceInstance{}, fmt.Errorf("%w: %s (all failed within %s)", ErrNoHealthyInstances, serviceName, window)
	}
	return clean[b.next(serviceName, len(clean))], nil
}
