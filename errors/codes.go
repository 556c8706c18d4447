package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Gateway routing and upstream errors.
const (
	// ErrCodeRouteNotFound indicates no route matched the inbound request.
	ErrCodeRouteNotFound ErrorCode = "ROUTE_NOT_FOUND"
	// ErrCodeNoHealthyInstances indicates the target service has no usable instance.
	ErrCodeNoHealthyInstances ErrorCode = "NO_HEALTHY_INSTANCES"
	// ErrCodeCircuitOpen indicates the route's circuit breaker rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeUpstreamUnavailable indicates every attempt against the backend failed.
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// Availability errors (retryable)
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// Request and configuration errors
const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeNoHealthyInstances:  true,
	ErrCodeCircuitOpen:         true,
	ErrCodeUpstreamUnavailable: true,
	ErrCodeServiceUnavailable:  true,
	ErrCodeTimeout:             true,
	ErrCodeRateLimited:         true,
}

// IsRetryableCode returns true if a client may retry a request that failed with code.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
