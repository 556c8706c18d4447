package discovery

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/meshgate/component"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/validation"
)

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultStalenessBound  = 30 * time.Second
)

// CacheConfig configures the instance cache.
type CacheConfig struct {
	// RefreshInterval is the fixed polling period per service.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	// StalenessBound is how long a snapshot may go without a successful
	// refresh before it is cleared.
	StalenessBound time.Duration `yaml:"staleness_bound" mapstructure:"staleness_bound"`
	// Watch additionally follows the provider's watch stream.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// ApplyDefaults fills zero-valued fields.
func (c *CacheConfig) ApplyDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.StalenessBound == 0 {
		c.StalenessBound = DefaultStalenessBound
	}
}

// Validate checks the configuration.
func (c *CacheConfig) Validate() error {
	v := validation.New().
		MinDuration("instance_cache.refresh_interval", c.RefreshInterval, time.Millisecond).
		Custom(c.StalenessBound >= c.RefreshInterval, "instance_cache.staleness_bound", "must not be shorter than refresh_interval")
	return v.Validate()
}

// Transition names a change in a service's cache entry.
type Transition string

const (
	TransitionPopulated Transition = "populated" // empty -> populated
	TransitionEmptied   Transition = "emptied"   // populated -> empty
	TransitionStale     Transition = "stale"     // fresh -> stale (first failed refresh)
	TransitionRecovered Transition = "recovered" // stale -> fresh
	TransitionCleared   Transition = "cleared"   // stale beyond the bound -> empty
)

// CacheOption customizes an InstanceCache.
type CacheOption func(*InstanceCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *InstanceCache) { c.now = now }
}

// WithTransitionHook observes every transition, e.g. to count them.
func WithTransitionHook(fn func(service string, t Transition)) CacheOption {
	return func(c *InstanceCache) { c.onTransition = fn }
}

// cacheSnapshot is published whole and never modified afterwards.
type cacheSnapshot struct {
	instances     []ServiceInstance
	lastRefreshed time.Time
	lastAttempt   time.Time
	failures      int
}

type cacheEntry struct {
	refreshMu sync.Mutex // serializes writers; readers never take it
	snap      atomic.Pointer[cacheSnapshot]
}

// InstanceCache keeps the healthy instances of each tracked service.
// Get is lock-free and always sees a complete snapshot.
type InstanceCache struct {
	disc         Discovery
	cfg          CacheConfig
	log          *logger.Logger
	now          func() time.Time
	onTransition func(string, Transition)

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loops   atomic.Int64 // running refresh loops, one per tracked service
}

var _ component.Component = (*InstanceCache)(nil)

// NewInstanceCache creates a cache reading from disc.
func NewInstanceCache(disc Discovery, cfg CacheConfig, log *logger.Logger, opts ...CacheOption) *InstanceCache {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	c := &InstanceCache{
		disc:    disc,
		cfg:     cfg,
		log:     log.WithComponent("instance-cache"),
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track adds a service. Services tracked after Start get their loops immediately.
func (c *InstanceCache) Track(serviceName string) {
	c.mu.Lock()
	if _, ok := c.entries[serviceName]; ok {
		c.mu.Unlock()
		return
	}
	c.entries[serviceName] = &cacheEntry{}
	runCtx := c.runCtx
	c.mu.Unlock()

	if runCtx != nil {
		c.spawn(runCtx, serviceName)
	}
}

// Services returns the tracked service names, sorted.
func (c *InstanceCache) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the healthy instances of serviceName. The result is shared:
// elements must not be modified, and appending copies. It is empty for unknown services and for
// snapshots older than the staleness bound.
func (c *InstanceCache) Get(serviceName string) []ServiceInstance {
	e := c.entry(serviceName)
	if e == nil {
		return nil
	}
	return c.visible(e.snap.Load(), c.now())
}

func (c *InstanceCache) visible(s *cacheSnapshot, now time.Time) []ServiceInstance {
	if s == nil || len(s.instances) == 0 {
		return nil
	}
	if now.Sub(s.lastRefreshed) > c.cfg.StalenessBound {
		return nil
	}
	return slices.Clip(s.instances)
}

// Refresh queries the registry for serviceName and publishes the result.
// On failure the previous snapshot is kept until it exceeds the staleness bound.
func (c *InstanceCache) Refresh(ctx context.Context, serviceName string) error {
	e := c.ensureEntry(serviceName)
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	instances, err := c.disc.Discover(ctx, serviceName)
	if err != nil {
		c.recordFailure(serviceName, e, err)
		return fmt.Errorf("refresh %s: %w", serviceName, err)
	}
	c.publish(serviceName, e, instances)
	return nil
}

// apply publishes a snapshot received from a watch stream.
func (c *InstanceCache) apply(serviceName string, instances []ServiceInstance) {
	e := c.ensureEntry(serviceName)
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	c.publish(serviceName, e, instances)
}

func (c *InstanceCache) publish(serviceName string, e *cacheEntry, instances []ServiceInstance) {
	now := c.now()
	prev := e.snap.Load()
	healthy := FilterHealthy(instances)

	e.snap.Store(&cacheSnapshot{
		instances:     healthy,
		lastRefreshed: now,
		lastAttempt:   now,
	})

	prevVisible := len(c.visible(prev, now))
	if prev != nil && prev.failures > 0 {
		c.transition(serviceName, TransitionRecovered, logger.Fields("failures", prev.failures))
	}
	switch {
	case prevVisible == 0 && len(healthy) > 0:
		c.transition(serviceName, TransitionPopulated, logger.Fields("instances", len(healthy)))
	case prevVisible > 0 && len(healthy) == 0:
		c.transition(serviceName, TransitionEmptied, logger.Fields("reported", len(instances)))
	}
}

func (c *InstanceCache) recordFailure(serviceName string, e *cacheEntry, err error) {
	now := c.now()
	prev := e.snap.Load()

	next := &cacheSnapshot{}
	if prev != nil {
		*next = *prev
	}
	next.lastAttempt = now
	next.failures++

	stale := prev != nil && prev.failures == 0 && !prev.lastRefreshed.IsZero()
	cleared := len(next.instances) > 0 && now.Sub(next.lastRefreshed) > c.cfg.StalenessBound
	if cleared {
		next.instances = nil
	}
	e.snap.Store(next)

	c.log.Warn("instance refresh failed", logger.MergeWithError(logger.Fields(
		logger.FieldService, serviceName, "failures", next.failures), err))
	if stale {
		c.transition(serviceName, TransitionStale, nil)
	}
	if cleared {
		c.transition(serviceName, TransitionCleared, logger.Fields(
			"since_refresh_ms", now.Sub(next.lastRefreshed).Milliseconds()))
	}
}

func (c *InstanceCache) transition(serviceName string, t Transition, fields map[string]interface{}) {
	f := logger.Fields(logger.FieldService, serviceName, "transition", string(t))
	switch t {
	case TransitionStale, TransitionCleared, TransitionEmptied:
		c.log.Warn("instance cache transition", f, fields)
	default:
		c.log.Info("instance cache transition", f, fields)
	}
	if c.onTransition != nil {
		c.onTransition(serviceName, t)
	}
}

func (c *InstanceCache) entry(serviceName string) *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[serviceName]
}

func (c *InstanceCache) ensureEntry(serviceName string) *cacheEntry {
	if e := c.entry(serviceName); e != nil {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[serviceName]; ok {
		return e
	}
	e := &cacheEntry{}
	c.entries[serviceName] = e
	return e
}

// --- lifecycle ---

// Name returns the component name.
func (c *InstanceCache) Name() string { return "instance-cache" }

// Start refreshes every tracked service once, then launches the background loops.
// A failed initial refresh is logged, not returned: the loops keep trying.
func (c *InstanceCache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := c.runCtx
	// Services tracked from here on are spawned by Track.
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		_ = c.Refresh(ctx, name)
		c.spawn(runCtx, name)
	}
	c.log.Info("instance cache started", logger.Fields(
		"services", len(c.Services()), "refresh_interval", c.cfg.RefreshInterval.String(), "watch", c.cfg.Watch))
	return nil
}

// Stop cancels the loops and waits for them, bounded by ctx.
func (c *InstanceCache) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runCtx = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health is degraded while any tracked service has no instance to serve.
func (c *InstanceCache) Health(_ context.Context) component.Health {
	var empty []string
	for _, name := range c.Services() {
		if len(c.Get(name)) == 0 {
			empty = append(empty, name)
		}
	}
	if len(empty) > 0 {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: "no healthy instances: " + strings.Join(empty, ", "),
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (c *InstanceCache) Describe() component.Description {
	return component.Description{
		Type:    "cache",
		Details: fmt.Sprintf("services=%d loops=%d refresh=%s staleness=%s",
			len(c.Services()), c.loops.Load(), c.cfg.RefreshInterval, c.cfg.StalenessBound),
	}
}

// ServiceStatus is the admin view of one cache entry.
type ServiceStatus struct {
	Service       string            `json:"service"`
	Instances     []ServiceInstance `json:"instances"`
	LastRefreshed time.Time         `json:"last_refreshed"`
	Failures      int               `json:"consecutive_failures"`
}

// Status returns the admin view of every tracked service.
func (c *InstanceCache) Status() []ServiceStatus {
	now := c.now()
	names := c.Services()
	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		st := ServiceStatus{Service: name, Instances: []ServiceInstance{}}
		if e := c.entry(name); e != nil {
			if s := e.snap.Load(); s != nil {
				if v := c.visible(s, now); v != nil {
					st.Instances = v
				}
				st.LastRefreshed = s.lastRefreshed
				st.Failures = s.failures
			}
		}
		out = append(out, st)
	}
	return out
}

func (c *InstanceCache) spawn(ctx context.Context, serviceName string) {
	c.wg.Add(1)
	go c.refreshLoop(ctx, serviceName)
	if c.cfg.Watch {
		c.wg.Add(1)
		go c.watchLoop(ctx, serviceName)
	}
}

func (c *InstanceCache) refreshLoop(ctx context.Context, serviceName string) {
	defer c.wg.Done()
	c.loops.Add(1)
	defer c.loops.Add(-1)
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx, serviceName)
		}
	}
}

// watchLoop follows the provider's stream and re-subscribes with backoff
// when the stream ends early.
func (c *InstanceCache) watchLoop(ctx context.Context, serviceName string) {
	defer c.wg.Done()
	backoff := 100 * time.Millisecond

	for {
		ch, err := c.disc.Watch(ctx, serviceName)
		if err == nil {
			for instances := range ch {
				c.apply(serviceName, instances)
				backoff = 100 * time.Millisecond
			}
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("watch stream ended, resubscribing", logger.Fields(
			logger.FieldService, serviceName, "backoff_ms", backoff.Milliseconds()))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.cfg.RefreshInterval {
			backoff = c.cfg.RefreshInterval
		}
	}
}
