package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apperrors "github.com/kbukum/meshgate/errors"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/server/endpoint"
	"github.com/kbukum/meshgate/server/middleware"
)

// Server is the inbound HTTP server of the gateway. Paths under the admin
// prefix are served by a Gin engine; everything else goes to the mounted
// proxy handler. Both sit behind one middleware chain and accept HTTP/1.1
// and cleartext HTTP/2 on the same port.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	admin      *gin.RouterGroup
	config     Config
	log        *logger.Logger
	created    time.Time

	mu       sync.RWMutex
	proxy    http.Handler
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new Server with the standard middleware chain applied:
// recovery, request id, optional CORS, optional per-client rate limit and
// logging of admin requests.
func New(cfg Config, log *logger.Logger) *Server {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	// Set Gin mode based on global zerolog level.
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, apperrors.NotFound("admin endpoint", c.Request.URL.Path).ToResponse())
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		admin:   engine.Group(cfg.AdminPrefix),
		config:  cfg,
		log:     log.WithComponent("server"),
		created: time.Now(),
		cancel:  cancel,
	}

	chain := []middleware.Middleware{
		middleware.Recovery(s.log),
		middleware.RequestID(),
	}
	if cfg.CORS.Enabled {
		chain = append(chain, middleware.CORS(&cfg.CORS))
	}
	if cfg.ClientRateLimit.Enabled {
		chain = append(chain, middleware.ClientRateLimit(ctx, cfg.ClientRateLimit))
	}
	chain = append(chain, middleware.RequestLogger(s.log, func(path string) bool {
		return !cfg.isAdminPath(path)
	}))
	handler := middleware.Chain(chain...)(http.HandlerFunc(s.route))

	// Wrap with h2c for HTTP/2 cleartext.
	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          time.Duration(cfg.IdleTimeout) * time.Second,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           h2c.NewHandler(handler, h2s),
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

// route sends admin paths to Gin and everything else to the proxy.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if s.config.isAdminPath(r.URL.Path) {
		s.engine.ServeHTTP(w, r)
		return
	}
	s.mu.RLock()
	proxy := s.proxy
	s.mu.RUnlock()
	if proxy == nil {
		appErr := apperrors.ServiceUnavailable("gateway")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(appErr.HTTPStatus)
		_ = json.NewEncoder(w).Encode(appErr.ToResponse())
		return
	}
	proxy.ServeHTTP(w, r)
}

// Mount sets the handler for every path outside the admin prefix.
func (s *Server) Mount(proxy http.Handler) {
	s.mu.Lock()
	s.proxy = proxy
	s.mu.Unlock()
}

// Engine returns the Gin engine serving the admin prefix.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Admin returns the router group mounted at the admin prefix.
func (s *Server) Admin() *gin.RouterGroup {
	return s.admin
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AdminSources feed the admin endpoints. Nil sources leave their endpoint out.
type AdminSources struct {
	Health   endpoint.HealthChecker
	Routes   endpoint.RouteSource
	Breakers endpoint.BreakerSource
	Services endpoint.ServiceSource
}

// RegisterAdminEndpoints registers health, liveness, readiness, info, routes
// and services under the admin prefix.
func (s *Server) RegisterAdminEndpoints(serviceName string, src AdminSources) {
	s.admin.GET("/health", endpoint.Health(serviceName, src.Health))
	s.admin.GET("/live", endpoint.Liveness(serviceName, s.created))
	s.admin.GET("/ready", endpoint.Readiness(serviceName, src.Health))
	s.admin.GET("/info", endpoint.Info(serviceName))
	if src.Routes != nil {
		s.admin.GET("/routes", endpoint.Routes(src.Routes, src.Breakers))
	}
	if src.Services != nil {
		s.admin.GET("/services", endpoint.Services(src.Services))
	}
}

// HealthPath returns the path of the health endpoint, used for the
// registry's health check.
func (s *Server) HealthPath() string {
	return s.config.AdminPrefix + "/health"
}

// Start binds the port and begins serving. It returns once the listener is
// bound so the caller knows the port is ready; serving continues in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", logger.ErrorFields("serve", err))
		}
	}()

	s.log.Info("HTTP server started", logger.Fields("addr", listener.Addr().String(), "admin_prefix", s.config.AdminPrefix))
	return nil
}

// Stop gracefully shuts down the server, waiting for in-flight requests up
// to the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	defer s.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("server shutdown error", logger.ErrorFields("shutdown", err))
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.log.Info("HTTP server shut down")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Listening reports whether Start has bound the port.
func (s *Server) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}
