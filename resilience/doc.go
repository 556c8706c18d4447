// Package resilience wraps calls to backend instances.
//
//   - CircuitBreaker: per-route closed/open/half-open state machine
//   - Retry: exponential backoff with jitter
//   - Executor: breaker + retry + per-attempt timeout, keyed by route
//   - Bulkhead and RateLimiter: per-route admission guards
//
// A route's call goes through the Executor:
//
//	err := exec.Execute(ctx, route.Name, route.Policy, idempotent, func(ctx context.Context, attempt int) error {
//	    return proxy(ctx)
//	})
//	switch {
//	case errors.Is(err, resilience.ErrCircuitOpen): // 503
//	case errors.Is(err, resilience.ErrUpstreamUnavailable): // 502/504
//	}
package resilience
