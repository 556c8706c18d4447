package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/kbukum/meshgate/errors"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/server"
	"github.com/kbukum/meshgate/server/middleware"
)

func newServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	s := server.New(cfg, logger.NewNop())
	s.RegisterAdminEndpoints("meshgate", server.AdminSources{})
	return s
}

func errorCode(t *testing.T, body []byte) apperrors.ErrorCode {
	t.Helper()
	var resp apperrors.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v (%q)", err, body)
	}
	return resp.Error.Code
}

func TestServer_SplitsAdminAndProxy(t *testing.T) {
	s := newServer(t, server.Config{})
	var proxied []string
	s.Mount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = append(proxied, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		path     string
		wantCode int
		proxied  bool
	}{
		{"/_gateway/health", http.StatusOK, false},
		{"/_gateway/info", http.StatusOK, false},
		{"/orders/1", http.StatusTeapot, true},
		{"/_gatewayx", http.StatusTeapot, true},
		{"/health", http.StatusTeapot, true},
		{"/orders/", http.StatusTeapot, true},
	}

	for _, tt := range tests {
		proxied = nil
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if rr.Code != tt.wantCode {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.wantCode, rr.Code)
		}
		if got := len(proxied) == 1; got != tt.proxied {
			t.Errorf("%s: expected proxied=%v, got %v", tt.path, tt.proxied, got)
		}
		if tt.proxied && proxied[0] != tt.path {
			t.Errorf("%s: proxy saw path %q", tt.path, proxied[0])
		}
		if rr.Header().Get(middleware.HeaderRequestID) == "" {
			t.Errorf("%s: expected request id header", tt.path)
		}
	}
}

func TestServer_UnknownAdminPath(t *testing.T) {
	s := newServer(t, server.Config{})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/_gateway/nope", http.NoBody))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := errorCode(t, rr.Body.Bytes()); code != apperrors.ErrCodeNotFound {
		t.Errorf("expected %s, got %s", apperrors.ErrCodeNotFound, code)
	}
}

func TestServer_NothingMounted(t *testing.T) {
	s := newServer(t, server.Config{})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/1", http.NoBody))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestServer_CustomAdminPrefix(t *testing.T) {
	s := newServer(t, server.Config{AdminPrefix: "admin/"})
	if s.HealthPath() != "/admin/health" {
		t.Errorf("expected /admin/health, got %s", s.HealthPath())
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/live", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestServer_RecoversProxyPanic(t *testing.T) {
	s := newServer(t, server.Config{})
	s.Mount(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/1", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestServer_ClientRateLimit(t *testing.T) {
	cfg := server.Config{ClientRateLimit: middleware.ClientRateLimitConfig{Enabled: true, RequestsPerMinute: 1}}
	s := newServer(t, cfg)
	s.Mount(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer func() { _ = s.Stop(context.Background()) }()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/1", http.NoBody))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [200 429], got %v", codes)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func TestServer_StartStop(t *testing.T) {
	s := newServer(t, server.Config{Host: "127.0.0.1", Port: freePort(t)})
	c := server.NewComponent(s)

	if h := c.Health(context.Background()); h.Status != "unhealthy" {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := c.Health(context.Background()); h.Status != "healthy" {
		t.Errorf("expected healthy after start, got %s", h.Status)
	}

	resp, err := http.Get("http://" + s.Addr() + "/_gateway/live")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/_gateway/live"); err == nil {
		t.Error("expected connection failure after stop")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*server.Config)
		wantErr bool
	}{
		{"defaults", func(*server.Config) {}, false},
		{"bad port", func(c *server.Config) { c.Port = 70000 }, true},
		{"negative timeout", func(c *server.Config) { c.WriteTimeout = -1 }, true},
		{"root admin prefix", func(c *server.Config) { c.AdminPrefix = "/" }, true},
		{"rate limit without budget", func(c *server.Config) {
			c.ClientRateLimit.Enabled = true
			c.ClientRateLimit.RequestsPerMinute = -1
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := server.Config{}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
