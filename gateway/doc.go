// Package gateway proxies inbound HTTP requests to service instances found
// through discovery.
//
// The Dispatcher matches a request against the route table, applies the
// route's admission controls (rate limit, concurrency limit), answers from
// the response cache when it can, and otherwise calls an instance of the
// route's service through the resilience executor. Retries pick a fresh
// instance and replay the buffered request body. Upstream responses are
// streamed back with only hop-by-hop headers removed; gateway-generated
// failures are written as JSON error bodies.
//
//	d, err := gateway.NewDispatcher(cfg, gateway.Deps{
//	    Routes:   table,
//	    Balancer: balancer.New(instanceCache),
//	    Executor: resilience.NewExecutor(resilience.ExecutorConfig{IsFailure: gateway.IsBreakerFailure}),
//	})
package gateway
