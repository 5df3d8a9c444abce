// Package observability provides logging, metrics, and tracing
// functionality for the rate limiter.
//
// # Logging
//
// The Logger interface provides structured logging over zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.WithContext(r.Context()).Warn("counter store unavailable",
//	    observability.String("mode", "open"),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry and records admission
// decisions, bypassed requests and counter store round trips:
//
//	metrics := observability.NewMetrics()
//	mux.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// OpenTelemetry tracing with optional OTLP gRPC export:
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
