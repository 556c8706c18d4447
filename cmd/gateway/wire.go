package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/meshgate/balancer"
	"github.com/kbukum/meshgate/bootstrap"
	"github.com/kbukum/meshgate/cache"
	"github.com/kbukum/meshgate/discovery"
	_ "github.com/kbukum/meshgate/discovery/consul"
	_ "github.com/kbukum/meshgate/discovery/static"
	"github.com/kbukum/meshgate/gateway"
	"github.com/kbukum/meshgate/logger"
	"github.com/kbukum/meshgate/observability"
	"github.com/kbukum/meshgate/redis"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
	"github.com/kbukum/meshgate/server"
	"github.com/kbukum/meshgate/version"
)

// gatewayApp is the assembled process.
type gatewayApp struct {
	app        *bootstrap.App[*AppConfig]
	server     *server.Server
	routes     *route.Table
	instances  *discovery.InstanceCache
	executor   *resilience.Executor
	dispatcher *gateway.Dispatcher
}

// assemble constructs every part in dependency order and registers the
// lifecycle components. Components stop in reverse: server, instance cache,
// discovery, redis, observability.
func assemble(cfg *AppConfig, opts ...bootstrap.Option) (*gatewayApp, error) {
	app, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return nil, err
	}
	log := app.Logger

	obs := observability.NewComponent(cfg.Observability, observability.ServiceInfo{
		Name:        cfg.Name,
		Version:     version.GetShortVersion(),
		Environment: cfg.Environment,
	})
	metrics, err := observability.NewMetrics(observability.Meter())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	routes, err := route.New(cfg.Routes, cfg.Defaults)
	if err != nil {
		return nil, err
	}

	disc, err := discovery.NewComponent(cfg.Discovery, &cfg.Consul, log)
	if err != nil {
		return nil, err
	}

	instances := discovery.NewInstanceCache(disc.Discovery(), cfg.InstanceCache, log,
		discovery.WithTransitionHook(func(service string, t discovery.Transition) {
			metrics.CacheTransition(service, string(t))
		}))
	for _, svc := range routes.Services() {
		instances.Track(svc)
	}

	executor := resilience.NewExecutor(resilience.ExecutorConfig{
		Logger: log,
		OnStateChange: func(key string, from, to resilience.State) {
			metrics.BreakerTransition(key, from.String(), to.String())
		},
		OnRetry: func(key string, _ int, _ error, _ time.Duration) {
			metrics.UpstreamRetry(key)
		},
		IsFailure: gateway.IsBreakerFailure,
	})

	var (
		store    cache.Store
		redisCmp *redis.Component
	)
	if cfg.ResponseCache.Enabled {
		if cfg.usesRedis() {
			redisCmp, err = redis.NewComponent(cfg.Redis, log)
			if err != nil {
				return nil, err
			}
			store, err = cache.NewStore(cfg.ResponseCache, redisCmp.Client())
		} else {
			store, err = cache.NewStore(cfg.ResponseCache, nil)
		}
		if err != nil {
			return nil, err
		}
	}

	dispatcher, err := gateway.NewDispatcher(cfg.Proxy, gateway.Deps{
		Routes:            routes,
		Balancer:          balancer.New(instances, balancer.WithFailureWindow(cfg.Defaults.BreakerResetPeriod)),
		Executor:          executor,
		Cache:             store,
		CacheMaxEntrySize: cfg.ResponseCache.MaxEntrySize,
		Metrics:           metrics,
		Logger:            log,
		Via:               version.UserAgent(cfg.Name),
	})
	if err != nil {
		return nil, err
	}

	srv := server.New(cfg.Server, log)
	srv.Mount(dispatcher)
	srv.RegisterAdminEndpoints(cfg.Name, server.AdminSources{
		Health:   app.Components.HealthAll,
		Routes:   routes,
		Breakers: executor,
		Services: instances,
	})

	if err := app.RegisterComponent(obs); err != nil {
		return nil, err
	}
	if redisCmp != nil {
		if err := app.RegisterComponent(redisCmp); err != nil {
			return nil, err
		}
	}
	if err := app.RegisterComponent(disc); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(instances); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return nil, err
	}

	app.OnReady(func(context.Context) error {
		log.Info("gateway ready", logger.Fields(
			"addr", srv.Addr(), "admin", cfg.Server.AdminPrefix, "routes", len(routes.Routes())))
		return nil
	})

	for _, rt := range routes.Routes() {
		app.Summary.TrackRoute(rt.Name, rt.PathTemplate, rt.Service)
	}
	log.Debug("gateway assembled", logger.Fields("routes", len(routes.Routes()), "services", len(routes.Services())))

	return &gatewayApp{
		app:        app,
		server:     srv,
		routes:     routes,
		instances:  instances,
		executor:   executor,
		dispatcher: dispatcher,
	}, nil
}
