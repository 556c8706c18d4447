package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/kbukum/meshgate/balancer"
	"github.com/kbukum/meshgate/cache"
	"github.com/kbukum/meshgate/discovery"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/observability"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
)

// Selector picks upstream instances and learns from call results.
// *balancer.Balancer implements it.
type Selector interface {
	// SelectWithin picks an instance. least_failed skips instances that
	// failed within window, the route's breaker reset period.
	SelectWithin(service string, policy balancer.Policy, window time.Duration) (discovery.ServiceInstance, error)
	MarkFailure(instanceID string)
	MarkSuccess(instanceID string)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Routes   *route.Table
	Balancer Selector
	Executor *resilience.Executor
	// Transport defaults to NewTransport(cfg.Transport).
	Transport http.RoundTripper
	// Cache enables response caching for routes with a cache TTL. Optional.
	Cache             cache.Store
	CacheMaxEntrySize int64
	Metrics           *observability.Metrics
	Logger            *logger.Logger
	// Via names the gateway in the Via header of upstream requests,
	// e.g. version.UserAgent("meshgate"). Empty adds no Via entry.
	Via string
}

// Dispatcher proxies inbound requests to the instances of the matched route's service.
type Dispatcher struct {
	cfg       Config
	bodyLimit int64
	routes    *route.Table
	balancer  Selector
	executor  *resilience.Executor
	transport http.RoundTripper
	cache     cache.Store
	maxEntry  int64
	metrics   *observability.Metrics
	log       *logger.Logger
	via       string

	failureStatus map[int]bool
	guards        map[string]guard
}

// guard holds the optional admission controls of one route.
type guard struct {
	limiter  *resilience.RateLimiter
	bulkhead *resilience.Bulkhead
}

// exchange records what happened to one request, for the log line and metrics.
type exchange struct {
	route    string
	service  string
	instance string
	status   int
	outcome  string
	attempts int
	written  bool
	err      error
}

// NewDispatcher builds a dispatcher over the compiled route table.
func NewDispatcher(cfg Config, deps Deps) (*Dispatcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Routes == nil || deps.Balancer == nil || deps.Executor == nil {
		return nil, fmt.Errorf("gateway: routes, balancer and executor are required")
	}

	d := &Dispatcher{
		cfg:           cfg,
		bodyLimit:     cfg.BodyLimit(),
		routes:        deps.Routes,
		balancer:      deps.Balancer,
		executor:      deps.Executor,
		transport:     deps.Transport,
		cache:         deps.Cache,
		maxEntry:      deps.CacheMaxEntrySize,
		metrics:       deps.Metrics,
		log:           deps.Logger,
		via:           deps.Via,
		failureStatus: make(map[int]bool, len(cfg.FailureStatuses)),
		guards:        make(map[string]guard),
	}
	if d.transport == nil {
		t, err := NewTransport(cfg.Transport)
		if err != nil {
			return nil, err
		}
		d.transport = t
	}
	if d.metrics == nil {
		d.metrics = observability.NewNopMetrics()
	}
	if d.log == nil {
		d.log = logger.NewNop()
	}
	d.log = d.log.WithComponent("dispatcher")
	if d.maxEntry <= 0 {
		d.maxEntry = cache.DefaultMaxEntrySize
	}
	for _, s := range cfg.FailureStatuses {
		d.failureStatus[s] = true
	}

	for _, rt := range deps.Routes.Routes() {
		var g guard
		if rt.RateLimit > 0 {
			g.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
				Name:  rt.Name,
				Rate:  rt.RateLimit,
				Burst: rt.RateBurst,
			})
		}
		if rt.MaxConcurrent > 0 {
			g.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
				Name:          rt.Name,
				MaxConcurrent: rt.MaxConcurrent,
			})
		}
		d.guards[rt.Name] = g
	}
	return d, nil
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, scope := observability.StartRequest(r, d.metrics)
	r = r.WithContext(ctx)

	x := &exchange{}
	d.dispatch(w, r, scope, x)

	scope.End(ctx, x.status, x.outcome, x.attempts, x.err)
	d.logExchange(r, x, scope.Elapsed())
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, scope *observability.RequestScope, x *exchange) {
	rt, ok := d.routes.Match(r.URL.Path, r.Host)
	if !ok {
		d.fail(w, r, rt, x, fmt.Errorf("%w: %s %s", route.ErrRouteNotFound, r.Method, r.URL.Path))
		return
	}
	x.route, x.service = rt.Name, rt.Service
	scope.SetRoute(rt.Name, rt.Service)

	g := d.guards[rt.Name]
	if g.limiter != nil && !g.limiter.Allow() {
		d.fail(w, r, rt, x, resilience.ErrRateLimited)
		return
	}
	if g.bulkhead == nil {
		d.proxy(w, r, rt, scope, x)
		return
	}
	if err := g.bulkhead.Execute(r.Context(), func() error {
		d.proxy(w, r, rt, scope, x)
		return nil
	}); err != nil {
		d.fail(w, r, rt, x, err)
	}
}

func (d *Dispatcher) proxy(w http.ResponseWriter, r *http.Request, rt route.Route, scope *observability.RequestScope, x *exchange) {
	ctx := r.Context()

	useCache := d.cache != nil && rt.Cacheable() && cache.Cacheable(r)
	var key string
	if useCache {
		key = cache.Key(rt.Name, r)
		if d.serveCached(w, r, rt, key, x) {
			return
		}
	}

	first, err := d.balancer.SelectWithin(rt.Service, rt.Balancer, rt.Policy.BreakerResetPeriod)
	if err != nil {
		d.fail(w, r, rt, x, err)
		return
	}

	retryable := idempotent(r.Method)
	var body []byte
	if retryable {
		if body, err = readBody(r, d.bodyLimit); err != nil {
			d.fail(w, r, rt, x, err)
			return
		}
	}

	maxAttempts := 1
	if retryable {
		maxAttempts += rt.Policy.MaxRetries
	}

	var captured *capture
	err = d.executor.Execute(ctx, rt.Name, rt.Policy, retryable, func(actx context.Context, attempt int) error {
		inst := first
		if attempt > 1 {
			next, err := d.balancer.SelectWithin(rt.Service, rt.Balancer, rt.Policy.BreakerResetPeriod)
			if err != nil {
				return resilience.Permanent(err)
			}
			inst = next
		}
		x.instance, x.attempts = inst.ID, attempt
		scope.SetInstance(inst.ID)

		out, err := d.outbound(actx, r, rt, inst, body, retryable)
		if err != nil {
			return resilience.Permanent(err)
		}
		resp, err := d.transport.RoundTrip(out)
		if err != nil {
			if ctx.Err() == nil {
				d.balancer.MarkFailure(inst.ID)
			}
			return err
		}
		defer resp.Body.Close()

		failed := d.failureStatus[resp.StatusCode]
		if failed {
			d.balancer.MarkFailure(inst.ID)
			if attempt < maxAttempts {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				return &statusError{code: resp.StatusCode}
			}
		} else {
			d.balancer.MarkSuccess(inst.ID)
		}

		if useCache && !failed && cache.Storable(r, resp.StatusCode, resp.Header) && resp.ContentLength <= d.maxEntry {
			captured = &capture{limit: d.maxEntry}
		}
		if err := d.writeResponse(w, resp, useCache, captured, x); err != nil {
			return resilience.Permanent(err)
		}
		if failed {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})

	switch {
	case err == nil:
		x.outcome = OutcomeOK
		if captured != nil && !captured.overflow {
			d.store(r, rt, key, captured)
		}
	case x.written:
		x.err = err
		var se *statusError
		if errors.As(err, &se) {
			x.outcome = OutcomeUpstreamError
		} else if errors.Is(err, resilience.ErrCallerAborted) || errors.Is(err, context.Canceled) {
			x.outcome = OutcomeCanceled
		} else {
			x.outcome = OutcomeStreamError
		}
	default:
		d.fail(w, r, rt, x, err)
	}
}

// outbound builds the upstream request for one attempt.
func (d *Dispatcher) outbound(ctx context.Context, in *http.Request, rt route.Route, inst discovery.ServiceInstance, body []byte, buffered bool) (*http.Request, error) {
	u := url.URL{
		Scheme:   rt.Scheme,
		Host:     inst.HostPort(),
		Path:     rt.UpstreamPath(in.URL.Path),
		RawQuery: in.URL.RawQuery,
	}
	if !rt.StripPrefix {
		u.RawPath = in.URL.RawPath
	}

	var reader io.Reader = http.NoBody
	contentLength := int64(0)
	switch {
	case buffered && len(body) > 0:
		reader, contentLength = bytes.NewReader(body), int64(len(body))
	case !buffered && in.Body != nil && in.Body != http.NoBody:
		reader, contentLength = in.Body, in.ContentLength
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	out.ContentLength = contentLength

	out.Header = in.Header.Clone()
	keepTrailers := in.Header.Get("Te") == "trailers"
	removeHopHeaders(out.Header)
	if keepTrailers {
		out.Header.Set("Te", "trailers")
	}
	if _, ok := out.Header["User-Agent"]; !ok {
		out.Header.Set("User-Agent", "")
	}
	setForwarded(out.Header, in)
	if d.via != "" {
		addVia(out.Header, in.ProtoMajor, in.ProtoMinor, d.via)
	}
	if out.Header.Get(HeaderRequestID) == "" {
		if id := logger.RequestIDFromContext(ctx); id != "" {
			out.Header.Set(HeaderRequestID, id)
		}
	}
	observability.InjectHeaders(ctx, out.Header)
	return out, nil
}

// writeResponse streams an upstream response to the client unchanged apart
// from hop-by-hop headers.
func (d *Dispatcher) writeResponse(w http.ResponseWriter, resp *http.Response, cacheable bool, captured *capture, x *exchange) error {
	removeHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	if captured != nil {
		captured.status, captured.header = resp.StatusCode, resp.Header.Clone()
	}
	if cacheable {
		w.Header().Set(HeaderCache, "MISS")
	}

	w.WriteHeader(resp.StatusCode)
	x.written, x.status = true, resp.StatusCode

	if err := copyBody(w, resp.Body, resp.ContentLength == -1, captured); err != nil {
		return err
	}
	for k, vv := range resp.Trailer {
		w.Header()[http.TrailerPrefix+k] = vv
	}
	return nil
}

func (d *Dispatcher) serveCached(w http.ResponseWriter, r *http.Request, rt route.Route, key string, x *exchange) bool {
	entry, err := d.cache.Get(r.Context(), key)
	if err == nil && entry != nil && entry.IsIndex() {
		entry, err = d.cache.Get(r.Context(), cache.VariantKey(key, entry.Vary, r))
	}
	if err != nil {
		d.log.WithContext(r.Context()).Warn("response cache lookup failed", logger.MergeWithError(logger.Fields(logger.FieldRoute, rt.Name), err))
	}
	if entry == nil || entry.IsIndex() {
		d.metrics.ResponseCache(r.Context(), rt.Name, "miss")
		return false
	}
	d.metrics.ResponseCache(r.Context(), rt.Name, "hit")

	copyHeader(w.Header(), entry.Header)
	w.Header().Set(HeaderCache, "HIT")
	w.Header().Set("Age", strconv.Itoa(int(time.Since(entry.StoredAt).Seconds())))
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)

	x.status, x.outcome, x.written = entry.Status, OutcomeCacheHit, true
	return true
}

// store saves the captured response. A response with Vary is stored under
// its variant key, and an index entry under key records the vary headers.
func (d *Dispatcher) store(r *http.Request, rt route.Route, key string, c *capture) {
	ctx := context.WithoutCancel(r.Context())
	now := time.Now()
	entry := &cache.Entry{Status: c.status, Header: c.header, Body: c.buf.Bytes(), StoredAt: now}
	vary, _ := cache.VaryHeaders(c.header)
	if len(vary) > 0 {
		entry.Vary = vary
		index := &cache.Entry{Vary: vary, StoredAt: now}
		if err := d.cache.Set(ctx, key, index, rt.CacheTTL); err != nil {
			d.log.WithContext(ctx).Warn("response cache store failed", logger.MergeWithError(logger.Fields(logger.FieldRoute, rt.Name), err))
			return
		}
		key = cache.VariantKey(key, vary, r)
	}
	if err := d.cache.Set(ctx, key, entry, rt.CacheTTL); err != nil {
		d.log.WithContext(ctx).Warn("response cache store failed", logger.MergeWithError(logger.Fields(logger.FieldRoute, rt.Name), err))
		return
	}
	d.metrics.ResponseCache(ctx, rt.Name, "store")
}

func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, rt route.Route, x *exchange, err error) {
	appErr, outcome := classify(rt, r, d.bodyLimit, err)
	x.outcome, x.err = outcome, err
	if appErr == nil {
		x.status = StatusClientClosed
		return
	}
	x.status = appErr.HTTPStatus
	writeError(w, appErr)
}

func (d *Dispatcher) logExchange(r *http.Request, x *exchange, elapsed time.Duration) {
	fields := logger.Fields(
		logger.FieldRoute, x.route,
		logger.FieldService, x.service,
		logger.FieldInstance, x.instance,
		"method", r.Method,
		"path", r.URL.Path,
		logger.FieldStatus, x.status,
		logger.FieldOutcome, x.outcome,
		logger.FieldAttempts, x.attempts,
		logger.FieldDuration, elapsed.Milliseconds(),
	)
	log := d.log.WithContext(r.Context())
	switch {
	case x.outcome == OutcomeCanceled:
		log.Info("request canceled by client", logger.MergeWithError(fields, x.err))
	case x.err != nil && x.status >= http.StatusInternalServerError:
		log.Error("request failed", logger.MergeWithError(fields, x.err))
	case x.err != nil:
		log.Warn("request rejected", logger.MergeWithError(fields, x.err))
	default:
		log.Info("request proxied", fields)
	}
}

// readBody buffers a replayable request body up to limit bytes.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > limit {
		return nil, errPayloadTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read request body: %w", resilience.ErrCallerAborted, err)
	}
	if int64(len(data)) > limit {
		return nil, errPayloadTooLarge
	}
	return data, nil
}

// capture keeps a copy of a streamed body for the response cache.
type capture struct {
	status   int
	header   http.Header
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (c *capture) write(p []byte) {
	if c == nil || c.overflow {
		return
	}
	if int64(c.buf.Len()+len(p)) > c.limit {
		c.overflow = true
		c.buf.Reset()
		return
	}
	c.buf.Write(p)
}

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32<<10)
		return &b
	},
}

// copyBody streams src to w. Read errors are upstream failures; write errors
// mean the client went away and wrap resilience.ErrCallerAborted.
func copyBody(w http.ResponseWriter, src io.Reader, flush bool, captured *capture) error {
	rc := http.NewResponseController(w)
	bp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bp)
	buf := *bp

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: write response: %w", resilience.ErrCallerAborted, werr)
			}
			captured.write(buf[:n])
			if flush {
				_ = rc.Flush()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read upstream body: %w", rerr)
		}
	}
}
