// Package observability wires OpenTelemetry tracing: an OTLP/HTTP tracer
// provider when enabled and W3C trace-context propagation on every hop.
//
//	shutdown, err := observability.InitTracer(ctx, cfg.Tracing)
//	defer shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, "gateway.forward")
//	defer span.End()
//	observability.InjectHTTP(ctx, outReq.Header)
//
// Metrics are exported through Prometheus, see server/endpoint.
package observability
