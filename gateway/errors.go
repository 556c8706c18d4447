package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kbukum/meshgate/balancer"
	apperrors "github.com/kbukum/meshgate/errors"
	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
)

// StatusClientClosed is logged, never written, when the client went away.
const StatusClientClosed = 499

// Request outcomes, as logged and recorded in metrics.
const (
	OutcomeOK                  = "ok"
	OutcomeCacheHit            = "cache_hit"
	OutcomeUpstreamError       = "upstream_error"
	OutcomeStreamError         = "stream_error"
	OutcomeRouteNotFound       = "route_not_found"
	OutcomeNoHealthyInstances  = "no_healthy_instances"
	OutcomeCircuitOpen         = "circuit_open"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeTimeout             = "timeout"
	OutcomeRateLimited         = "rate_limited"
	OutcomeBulkheadFull        = "bulkhead_full"
	OutcomePayloadTooLarge     = "payload_too_large"
	OutcomeCanceled            = "canceled"
	OutcomeInternal            = "internal_error"
)

var errPayloadTooLarge = errors.New("request body too large")

// statusError is an attempt whose upstream answered with a failure status.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.code)
}

// IsBreakerFailure decides which attempt errors count against a route's
// breaker. Running out of instances says nothing about backend health.
func IsBreakerFailure(err error) bool {
	return !errors.Is(err, balancer.ErrNoHealthyInstances) && resilience.DefaultIsFailure(err)
}

// classify maps a dispatch error to the client-facing error and the outcome.
// A nil AppError means nothing is written.
func classify(rt route.Route, r *http.Request, limit int64, err error) (*apperrors.AppError, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, resilience.ErrCallerAborted):
		return nil, OutcomeCanceled
	case errors.Is(err, route.ErrRouteNotFound):
		return apperrors.RouteNotFound(r.Method, r.URL.Path), OutcomeRouteNotFound
	case errors.Is(err, errPayloadTooLarge):
		return apperrors.PayloadTooLarge(limit), OutcomePayloadTooLarge
	case errors.Is(err, resilience.ErrRateLimited):
		return apperrors.RateLimited().WithDetail("route", rt.Name), OutcomeRateLimited
	case errors.Is(err, resilience.ErrBulkheadFull):
		return apperrors.ServiceUnavailable(rt.Service).WithDetail("route", rt.Name), OutcomeBulkheadFull
	case errors.Is(err, balancer.ErrNoHealthyInstances):
		return apperrors.NoHealthyInstances(rt.Service), OutcomeNoHealthyInstances
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.CircuitOpen(rt.Name), OutcomeCircuitOpen
	case errors.Is(err, resilience.ErrUpstreamUnavailable):
		if resilience.IsTimeout(err) {
			return apperrors.UpstreamUnavailable(rt.Service, true, err), OutcomeTimeout
		}
		return apperrors.UpstreamUnavailable(rt.Service, false, err), OutcomeUpstreamUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("proxy"), OutcomeTimeout
	default:
		return apperrors.Internal(err), OutcomeInternal
	}
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(appErr.ToResponse())
}
