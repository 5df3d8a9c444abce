// Package health provides the health, readiness and liveness endpoints of
// avalimit.
//
// Readiness aggregates registered checks. The Counter Store check reports
// degraded while rate limiting runs in BYPASS, and unhealthy when the
// failure mode is fail-closed because every limited request is refused:
//
//	checker := health.NewChecker(version)
//	checker.RegisterCheck("counter_store", health.CounterStoreCheck(limiter, time.Second))
//
//	mux.HandleFunc("/health", checker.HealthHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
//	mux.HandleFunc("/live", checker.LivenessHandler())
package health
