// Package observability wires OpenTelemetry tracing and metrics into the
// gateway.
//
// Instruments are created from the global providers and start exporting
// once Component.Start installs the OTLP providers:
//
//	metrics, _ := observability.NewMetrics(observability.Meter())
//	ctx, scope := observability.StartRequest(r, metrics)
//	scope.SetRoute("orders", "orders-svc")
//	scope.End(ctx, 200, "success", 1, nil)
package observability
