package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestScope tracks one proxied request: a server span plus the request
// metrics. Metrics may be nil.
type RequestScope struct {
	Route   string
	Method  string
	start   time.Time
	span    trace.Span
	metrics *Metrics
}

// StartRequest extracts the inbound trace context from r, starts the proxy
// span and counts the request as in flight.
func StartRequest(r *http.Request, metrics *Metrics) (context.Context, *RequestScope) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := Tracer().Start(ctx, SpanProxy,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrMethod, r.Method),
			attribute.String(AttrPath, r.URL.Path),
		),
	)
	if metrics != nil {
		metrics.RequestStart(ctx)
	}
	return ctx, &RequestScope{Method: r.Method, start: time.Now(), span: span, metrics: metrics}
}

// SetRoute records the matched route.
func (s *RequestScope) SetRoute(route, service string) {
	s.Route = route
	s.span.SetAttributes(attribute.String(AttrRoute, route), attribute.String(AttrService, service))
}

// SetInstance records the upstream instance of the latest attempt.
func (s *RequestScope) SetInstance(id string) {
	s.span.SetAttributes(attribute.String(AttrInstance, id))
}

// Elapsed returns the time since the request started.
func (s *RequestScope) Elapsed() time.Duration {
	return time.Since(s.start)
}

// End closes the span and records the request metrics.
func (s *RequestScope) End(ctx context.Context, status int, outcome string, attempts int, err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, outcome)
	}
	s.span.SetAttributes(
		attribute.Int(AttrStatus, status),
		attribute.String(AttrOutcome, outcome),
		attribute.Int(AttrAttempts, attempts),
	)
	s.span.End()

	if s.metrics != nil {
		route := s.Route
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestEnd(ctx, route, s.Method, status, outcome, s.Elapsed())
	}
}

// InjectHeaders writes the current trace context into outbound headers.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
