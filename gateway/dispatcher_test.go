package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshgate/balancer"
	"github.com/kbukum/meshgate/cache"
	"github.com/kbukum/meshgate/discovery"
	"github.com/kbukum/meshgate/discovery/static"
	apperrors "github.com/kbukum/meshgate/errors"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
)

// --- helpers ---

type backend struct {
	id   string
	srv  *httptest.Server
	hits atomic.Int32
}

func newBackend(t *testing.T, id string, h http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{id: id}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

// echo answers with the backend id and the path it saw.
func echo(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", id)
		fmt.Fprintf(w, "%s %s", id, r.URL.RequestURI())
	}
}

func (b *backend) instance() discovery.ServiceInstance {
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(b.srv.URL, "http://"))
	p, _ := strconv.Atoi(port)
	return discovery.ServiceInstance{ID: b.id, Address: host, Port: p, Healthy: true}
}

// countingTransport counts every upstream call.
type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

type fixture struct {
	dispatcher *Dispatcher
	executor   *resilience.Executor
	transport  *countingTransport
}

type fixtureOpts struct {
	cfg       Config
	defaults  resilience.Policy
	cache     cache.Store
	transport http.RoundTripper
	via       string
}

func newFixture(t *testing.T, routes []route.Config, instances map[string][]discovery.ServiceInstance, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.defaults == (resilience.Policy{}) {
		opts.defaults = resilience.Policy{
			Timeout:            time.Second,
			MaxRetries:         0,
			BreakerThreshold:   5,
			BreakerResetPeriod: time.Minute,
			BackoffBase:        time.Millisecond,
			BackoffMax:         2 * time.Millisecond,
		}
	}
	table, err := route.New(routes, opts.defaults)
	if err != nil {
		t.Fatalf("route.New: %v", err)
	}

	provider := static.NewProvider(nil)
	for svc, insts := range instances {
		provider.SetInstances(svc, insts)
	}
	ic := discovery.NewInstanceCache(provider, discovery.CacheConfig{}, logger.NewNop())
	for _, svc := range table.Services() {
		ic.Track(svc)
		if err := ic.Refresh(context.Background(), svc); err != nil {
			t.Fatalf("refresh %s: %v", svc, err)
		}
	}

	exec := resilience.NewExecutor(resilience.ExecutorConfig{IsFailure: IsBreakerFailure})
	next := opts.transport
	if next == nil {
		next = http.DefaultTransport
	}
	transport := &countingTransport{next: next}
	d, err := NewDispatcher(opts.cfg, Deps{
		Routes:    table,
		Balancer:  balancer.New(ic),
		Executor:  exec,
		Transport: transport,
		Cache:     opts.cache,
		Logger:    logger.NewNop(),
		Via:       opts.via,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return &fixture{dispatcher: d, executor: exec, transport: transport}
}

func (f *fixture) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	f.dispatcher.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorCode {
	t.Helper()
	var resp apperrors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON error body, got %q", rec.Body.String())
	}
	return resp.Error.Code
}

func ordersRoute() route.Config {
	return route.Config{Name: "orders", Path: "/orders/*", Service: "orders-svc"}
}

// --- scenarios ---

func TestDispatcher_RoundRobinAcrossInstances(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	b := newBackend(t, "B", echo("B"))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance(), b.instance()}}, fixtureOpts{})

	var got []string
	for i := 0; i < 4; i++ {
		rec := f.do(http.MethodGet, "/orders/42?expand=items", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
		id, path, _ := strings.Cut(rec.Body.String(), " ")
		if path != "/orders/42?expand=items" {
			t.Errorf("expected path and query forwarded unchanged, got %q", path)
		}
		got = append(got, id)
	}
	if want := "A,B,A,B"; strings.Join(got, ",") != want {
		t.Errorf("expected %s, got %s", want, strings.Join(got, ","))
	}
}

func TestDispatcher_EmptyRegistry(t *testing.T) {
	f := newFixture(t, []route.Config{ordersRoute()}, nil, fixtureOpts{})

	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeNoHealthyInstances {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeNoHealthyInstances, code)
	}
	if n := f.transport.calls.Load(); n != 0 {
		t.Errorf("expected no backend contact, got %d calls", n)
	}
	if st := f.executor.State("orders"); st != resilience.StateClosed {
		t.Errorf("expected the breaker untouched, got %v", st)
	}
}

func TestDispatcher_CircuitOpensAfterTimeouts(t *testing.T) {
	slow := newBackend(t, "slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {slow.instance()}},
		fixtureOpts{defaults: resilience.Policy{
			Timeout:            50 * time.Millisecond,
			MaxRetries:         0,
			BreakerThreshold:   3,
			BreakerResetPeriod: time.Minute,
		}})

	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodGet, "/orders/1", nil)
		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("request %d: expected 504, got %d", i, rec.Code)
		}
		if code := errorCode(t, rec); code != apperrors.ErrCodeUpstreamUnavailable {
			t.Errorf("request %d: expected %s, got %s", i, apperrors.ErrCodeUpstreamUnavailable, code)
		}
	}
	if n := f.transport.calls.Load(); n != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", n)
	}

	start := time.Now()
	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the circuit is open, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeCircuitOpen {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeCircuitOpen, code)
	}
	if n := f.transport.calls.Load(); n != 3 {
		t.Errorf("expected no upstream call while open, got %d calls", n)
	}
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("expected an immediate failure, took %v", elapsed)
	}
}

func TestDispatcher_LeastFailedUsesRouteResetPeriod(t *testing.T) {
	var failed atomic.Bool
	a := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		if failed.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		echo("A")(w, r)
	})
	b := newBackend(t, "B", echo("B"))

	reset := 50 * time.Millisecond
	rc := ordersRoute()
	rc.LoadBalancer = "least_failed"
	rc.Resilience.BreakerResetPeriod = &reset
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance(), b.instance()}}, fixtureOpts{})

	if rec := f.do(http.MethodGet, "/orders/1", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected the first call to reach A and fail, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/orders/1", nil); rec.Header().Get("X-Backend") != "B" {
		t.Errorf("expected A to be skipped right after its failure, got %q", rec.Header().Get("X-Backend"))
	}

	time.Sleep(2 * reset)
	if rec := f.do(http.MethodGet, "/orders/1", nil); rec.Header().Get("X-Backend") != "A" {
		t.Errorf("expected A back in rotation after the reset period, got %q", rec.Header().Get("X-Backend"))
	}
}

func TestDispatcher_RouteNotFound(t *testing.T) {
	f := newFixture(t, []route.Config{ordersRoute()}, nil, fixtureOpts{})

	rec := f.do(http.MethodGet, "/users/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeRouteNotFound {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeRouteNotFound, code)
	}
}

func TestDispatcher_RetriesFailureStatusOnNextInstance(t *testing.T) {
	bad := newBackend(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	good := newBackend(t, "good", echo("good"))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {bad.instance(), good.instance()}},
		fixtureOpts{defaults: resilience.Policy{Timeout: time.Second, MaxRetries: 1, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}})

	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the retry to succeed, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "good") {
		t.Errorf("expected the good backend to answer, got %q", rec.Body.String())
	}
	if bad.hits.Load() != 1 || good.hits.Load() != 1 {
		t.Errorf("expected one call each, got bad=%d good=%d", bad.hits.Load(), good.hits.Load())
	}
}

func TestDispatcher_NonIdempotentNotRetried(t *testing.T) {
	bad := newBackend(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "bad")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "backend says no")
	})
	good := newBackend(t, "good", echo("good"))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {bad.instance(), good.instance()}},
		fixtureOpts{defaults: resilience.Policy{Timeout: time.Second, MaxRetries: 3}})

	rec := f.do(http.MethodPost, "/orders", strings.NewReader(`{"item":1}`))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected the upstream 502 forwarded, got %d", rec.Code)
	}
	if rec.Body.String() != "backend says no" || rec.Header().Get("X-Backend") != "bad" {
		t.Errorf("expected the upstream response unchanged, got %q", rec.Body.String())
	}
	if good.hits.Load() != 0 {
		t.Errorf("expected no retry for POST, got %d calls to the second instance", good.hits.Load())
	}
}

func TestDispatcher_LastFailureStatusForwarded(t *testing.T) {
	bad := newBackend(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "maintenance")
	})
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {bad.instance()}},
		fixtureOpts{defaults: resilience.Policy{Timeout: time.Second, MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}})

	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "maintenance" {
		t.Errorf("expected the last upstream response, got %d %q", rec.Code, rec.Body.String())
	}
	if n := bad.hits.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDispatcher_UnreachableInstance(t *testing.T) {
	gone := newBackend(t, "gone", echo("gone"))
	inst := gone.instance()
	gone.srv.Close()

	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {inst}}, fixtureOpts{})

	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeUpstreamUnavailable, code)
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	rc := ordersRoute()
	rc.RateLimit, rc.RateBurst = 0.001, 1
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}}, fixtureOpts{})

	if rec := f.do(http.MethodGet, "/orders/1", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := f.do(http.MethodGet, "/orders/1", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeRateLimited {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeRateLimited, code)
	}
	if a.hits.Load() != 1 {
		t.Errorf("expected the limited request not to reach the backend")
	}
}

func TestDispatcher_BulkheadFull(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	a := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	})
	rc := ordersRoute()
	rc.MaxConcurrent = 1
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}}, fixtureOpts{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.do(http.MethodGet, "/orders/1", nil)
	}()
	<-entered

	rec := f.do(http.MethodGet, "/orders/2", nil)
	close(release)
	wg.Wait()

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperrors.ErrCodeServiceUnavailable {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeServiceUnavailable, code)
	}
}

func TestDispatcher_ResponseCache(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	rc := ordersRoute()
	rc.CacheTTL = time.Minute
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}},
		fixtureOpts{cache: cache.NewMemoryStore(100)})

	first := f.do(http.MethodGet, "/orders/1", nil)
	if first.Header().Get(HeaderCache) != "MISS" {
		t.Errorf("expected MISS on first request, got %q", first.Header().Get(HeaderCache))
	}
	second := f.do(http.MethodGet, "/orders/1", nil)
	if second.Header().Get(HeaderCache) != "HIT" {
		t.Errorf("expected HIT on second request, got %q", second.Header().Get(HeaderCache))
	}
	if second.Body.String() != first.Body.String() || second.Header().Get("X-Backend") != "A" {
		t.Errorf("expected the cached response replayed, got %q", second.Body.String())
	}
	if a.hits.Load() != 1 {
		t.Errorf("expected one backend call, got %d", a.hits.Load())
	}

	f.do(http.MethodGet, "/orders/2", nil)
	if a.hits.Load() != 2 {
		t.Errorf("expected a different path to miss the cache")
	}
}

func (f *fixture) doWithHeader(target, name, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(name, value)
	rec := httptest.NewRecorder()
	f.dispatcher.ServeHTTP(rec, req)
	return rec
}

func TestDispatcher_ResponseCacheSkipsAuthorized(t *testing.T) {
	profile := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "profile of %s", r.Header.Get("Authorization"))
	})
	rc := route.Config{Name: "me", Path: "/me", Service: "profile-svc", CacheTTL: time.Minute}
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"profile-svc": {profile.instance()}},
		fixtureOpts{cache: cache.NewMemoryStore(100)})

	alice := f.doWithHeader("/me", "Authorization", "Bearer alice")
	bob := f.doWithHeader("/me", "Authorization", "Bearer bob")

	if alice.Body.String() != "profile of Bearer alice" {
		t.Errorf("expected alice's profile, got %q", alice.Body.String())
	}
	if bob.Header().Get(HeaderCache) == "HIT" {
		t.Error("expected an authorized response not to be served from the cache")
	}
	if bob.Body.String() != "profile of Bearer bob" {
		t.Errorf("expected bob's profile, got %q", bob.Body.String())
	}
	if profile.hits.Load() != 2 {
		t.Errorf("expected two backend calls, got %d", profile.hits.Load())
	}
}

func TestDispatcher_ResponseCachePublicAuthorized(t *testing.T) {
	catalog := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		_, _ = io.WriteString(w, "catalog")
	})
	rc := route.Config{Name: "catalog", Path: "/catalog", Service: "catalog-svc", CacheTTL: time.Minute}
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"catalog-svc": {catalog.instance()}},
		fixtureOpts{cache: cache.NewMemoryStore(100)})

	f.doWithHeader("/catalog", "Authorization", "Bearer alice")
	second := f.doWithHeader("/catalog", "Authorization", "Bearer bob")
	if second.Header().Get(HeaderCache) != "HIT" {
		t.Errorf("expected a public response to be cached, got %q", second.Header().Get(HeaderCache))
	}
}

func TestDispatcher_ResponseCacheVary(t *testing.T) {
	greeting := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Accept-Language")
		fmt.Fprintf(w, "lang=%s", r.Header.Get("Accept-Language"))
	})
	rc := route.Config{Name: "greeting", Path: "/greeting", Service: "greeting-svc", CacheTTL: time.Minute}
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"greeting-svc": {greeting.instance()}},
		fixtureOpts{cache: cache.NewMemoryStore(100)})

	f.doWithHeader("/greeting", "Accept-Language", "en")
	de := f.doWithHeader("/greeting", "Accept-Language", "de")
	if de.Header().Get(HeaderCache) == "HIT" || de.Body.String() != "lang=de" {
		t.Errorf("expected a miss with lang=de, got %s %q", de.Header().Get(HeaderCache), de.Body.String())
	}

	en := f.doWithHeader("/greeting", "Accept-Language", "en")
	if en.Header().Get(HeaderCache) != "HIT" || en.Body.String() != "lang=en" {
		t.Errorf("expected a hit with lang=en, got %s %q", en.Header().Get(HeaderCache), en.Body.String())
	}
	de = f.doWithHeader("/greeting", "Accept-Language", "de")
	if de.Header().Get(HeaderCache) != "HIT" || de.Body.String() != "lang=de" {
		t.Errorf("expected a hit with lang=de, got %s %q", de.Header().Get(HeaderCache), de.Body.String())
	}
	if greeting.hits.Load() != 2 {
		t.Errorf("expected one backend call per language, got %d", greeting.hits.Load())
	}
}

func TestDispatcher_ResponseCacheVaryStar(t *testing.T) {
	a := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "*")
		_, _ = io.WriteString(w, "anything")
	})
	rc := ordersRoute()
	rc.CacheTTL = time.Minute
	f := newFixture(t, []route.Config{rc},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}},
		fixtureOpts{cache: cache.NewMemoryStore(100)})

	f.do(http.MethodGet, "/orders/1", nil)
	f.do(http.MethodGet, "/orders/1", nil)
	if a.hits.Load() != 2 {
		t.Errorf("expected Vary: * responses never to be cached, got %d backend calls", a.hits.Load())
	}
}

func TestDispatcher_StripPrefix(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	f := newFixture(t, []route.Config{{Name: "api-orders", Path: "/api/orders/{everything}", Service: "orders-svc", StripPrefix: true}},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}}, fixtureOpts{})

	rec := f.do(http.MethodGet, "/api/orders/42/items?x=1", nil)
	if got := rec.Body.String(); got != "A /42/items?x=1" {
		t.Errorf("expected the prefix stripped, got %q", got)
	}
}

func TestDispatcher_PayloadTooLarge(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}},
		fixtureOpts{cfg: Config{MaxBodySize: "8"}})

	rec := f.do(http.MethodPut, "/orders/1", strings.NewReader(strings.Repeat("x", 16)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if a.hits.Load() != 0 {
		t.Errorf("expected the backend not to be called")
	}
}

func TestDispatcher_ReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	record := func(status int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(data))
			mu.Unlock()
			w.WriteHeader(status)
		}
	}
	bad := newBackend(t, "bad", record(http.StatusBadGateway))
	good := newBackend(t, "good", record(http.StatusNoContent))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {bad.instance(), good.instance()}},
		fixtureOpts{defaults: resilience.Policy{Timeout: time.Second, MaxRetries: 1, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}})

	rec := f.do(http.MethodPut, "/orders/1", strings.NewReader("payload"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(bodies) != 2 || bodies[0] != "payload" || bodies[1] != "payload" {
		t.Errorf("expected the body replayed on both attempts, got %q", bodies)
	}
}

func TestDispatcher_ForwardedHeaders(t *testing.T) {
	var seen http.Header
	a := newBackend(t, "A", func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("X-Visible", "yes")
	})
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}}, fixtureOpts{})

	req := httptest.NewRequest(http.MethodGet, "http://gw.example.com/orders/1", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "drop-me")
	req.Header.Set("Proxy-Authorization", "Basic x")
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	f.dispatcher.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tests := []struct {
		header string
		want   string
	}{
		{"X-Hop", ""},
		{"Proxy-Authorization", ""},
		{"Authorization", "Bearer token"},
		{HeaderRequestID, "req-1"},
		{"X-Forwarded-For", "203.0.113.7"},
		{"X-Forwarded-Host", "gw.example.com"},
		{"X-Forwarded-Proto", "http"},
	}
	for _, tc := range tests {
		if got := seen.Get(tc.header); got != tc.want {
			t.Errorf("upstream %s = %q, expected %q", tc.header, got, tc.want)
		}
	}
	if rec.Header().Get("X-Visible") != "yes" {
		t.Error("expected end-to-end response header forwarded")
	}
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Internal, keep-alive")
	h.Set("X-Internal", "secret")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "h2c")
	h.Set("Content-Type", "text/plain")

	removeHopHeaders(h)

	for _, name := range []string{"Connection", "X-Internal", "Keep-Alive", "Transfer-Encoding", "Upgrade"} {
		if h.Get(name) != "" {
			t.Errorf("expected %s removed", name)
		}
	}
	if h.Get("Content-Type") != "text/plain" {
		t.Error("expected end-to-end headers kept")
	}
}

func TestAddVia(t *testing.T) {
	tests := []struct {
		name  string
		prior string
		major int
		minor int
		want  string
	}{
		{"first hop", "", 1, 1, "1.1 meshgate/1.0"},
		{"appends", "1.0 edge", 2, 0, "1.0 edge, 2.0 meshgate/1.0"},
		{"unknown proto", "", 0, 0, "1.1 meshgate/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.prior != "" {
				h.Set("Via", tt.prior)
			}
			addVia(h, tt.major, tt.minor, "meshgate/1.0")
			if got := h.Get("Via"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIdempotent(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{http.MethodGet, true},
		{http.MethodHead, true},
		{http.MethodPut, true},
		{http.MethodDelete, true},
		{http.MethodOptions, true},
		{http.MethodPost, false},
		{http.MethodPatch, false},
	}
	for _, tc := range tests {
		if got := idempotent(tc.method); got != tc.want {
			t.Errorf("idempotent(%s) = %v, expected %v", tc.method, got, tc.want)
		}
	}
}

func TestDispatcher_ClientCanceled(t *testing.T) {
	a := newBackend(t, "A", echo("A"))
	f := newFixture(t, []route.Config{ordersRoute()},
		map[string][]discovery.ServiceInstance{"orders-svc": {a.instance()}}, fixtureOpts{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.dispatcher.ServeHTTP(rec, req)

	if rec.Body.Len() != 0 {
		t.Errorf("expected nothing written for a canceled request, got %q", rec.Body.String())
	}
	if st := f.executor.State("orders"); st != resilience.StateClosed {
		t.Errorf("expected cancellation not to count against the breaker, got %v", st)
	}
}

func TestNewDispatcherRequiresDeps(t *testing.T) {
	if _, err := NewDispatcher(Config{}, Deps{}); err == nil {
		t.Error("expected an error without routes, balancer and executor")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"size with unit", Config{MaxBodySize: "512KB"}, false},
		{"bad size", Config{MaxBodySize: "lots"}, true},
		{"non-5xx failure status", Config{FailureStatuses: []int{404}}, true},
		{"negative max conns", Config{Transport: TransportConfig{MaxConnsPerHost: -1}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.ApplyDefaults()
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
