package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/avalimit/internal/config"
	"github.com/vyrodovalexey/avalimit/internal/health"
	"github.com/vyrodovalexey/avalimit/internal/middleware"
	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit/store"
)

// application holds all application components.
type application struct {
	config  *config.Config
	obs     *observability.Observability
	logger  observability.Logger
	store   *store.RedisStore
	limiter *ratelimit.Limiter
	health  *health.Checker
	handler http.Handler
	server  *http.Server
}

// newApplication wires observability, the Counter Store, the limiter and
// the HTTP handler. An unreachable Redis does not fail startup; the
// limiter starts in BYPASS and recovers through its probe.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	obs, err := observability.New(observabilityConfig(cfg))
	if err != nil {
		return nil, err
	}

	app := &application{
		config: cfg,
		obs:    obs,
		logger: obs.Logger(),
		health: health.NewChecker(version),
	}

	if m := obs.Metrics(); m != nil {
		m.SetBuildInfo(version, gitCommit, buildTime)
	}

	if cfg.RateLimit.Enabled {
		if err := app.initRateLimiting(ctx); err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
	} else {
		app.logger.Warn("rate limiting disabled")
		app.health.RegisterCheck("rate_limit",
			health.StaticCheck(health.StatusHealthy, "rate limiting disabled"))
	}

	app.handler = app.buildHandler()
	app.server = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration(),
		ReadTimeout:       cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:      cfg.Server.WriteTimeout.Duration(),
	}

	return app, nil
}

func (a *application) initRateLimiting(ctx context.Context) error {
	metrics := a.obs.Metrics()

	storeCfg := redisStoreConfig(a.config.Redis)
	storeCfg.Logger = observability.Zap(a.logger)
	if metrics != nil {
		storeCfg.Metrics = metrics
	}
	a.store = store.NewRedisStore(storeCfg)

	opts := []ratelimit.Option{
		ratelimit.WithLogger(a.logger),
		ratelimit.WithTracer(a.obs.Tracer()),
	}
	if metrics != nil {
		opts = append(opts, ratelimit.WithRecorder(metrics))
	}

	limiter, err := ratelimit.New(a.store, rateLimitConfig(a.config.RateLimit), opts...)
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	a.limiter = limiter

	if err := a.store.WaitForConnection(ctx); err != nil {
		a.logger.Error("counter store unreachable at startup; starting in bypass",
			observability.String("address", a.config.Redis.Address),
			observability.Error(err),
		)
		limiter.MarkUnavailable(err)
	} else {
		a.logger.Info("counter store connected",
			observability.String("address", a.config.Redis.Address),
		)
	}

	a.health.RegisterCheck("counter_store",
		health.CounterStoreCheck(limiter, health.DefaultCheckTimeout))
	return nil
}

// buildHandler mounts the service endpoints and the demo application
// behind the middleware chain.
func (a *application) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.health.HealthHandler())
	mux.HandleFunc("/ready", a.health.ReadinessHandler())
	mux.HandleFunc("/live", a.health.LivenessHandler())
	if m := a.obs.Metrics(); m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	mux.HandleFunc("/api/", echoHandler)

	return buildMiddlewareChain(mux, a.limiter, a.obs)
}

// buildMiddlewareChain applies middleware outermost first: recovery,
// request ID, logging, tracing, metrics, then admission.
func buildMiddlewareChain(
	h http.Handler,
	limiter *ratelimit.Limiter,
	obs *observability.Observability,
) http.Handler {
	logger := obs.Logger()

	admission := middleware.PassThrough()
	if limiter != nil {
		admission = middleware.RateLimit(limiter, logger)
	}
	h = admission(h)

	if m := obs.Metrics(); m != nil {
		h = observability.MetricsMiddleware(m)(h)
	}
	h = observability.TracingMiddleware(obs.Tracer())(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(logger)(h)

	return h
}

// echoResponse is the body of the demo application.
type echoResponse struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(echoResponse{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: observability.RequestIDFromContext(r.Context()),
	})
}

// applyRateLimitConfig is the config watcher callback. Only policy tables
// take effect without a restart.
func (a *application) applyRateLimitConfig(rl config.RateLimitConfig) {
	if a.limiter == nil {
		if rl.Enabled {
			a.logger.Warn("rate limiting enabled in configuration; restart to apply")
		}
		return
	}
	if !rl.Enabled {
		a.logger.Warn("rate limiting disabled in configuration; restart to apply")
		return
	}

	cfg := rateLimitConfig(rl)
	a.limiter.SetPolicies(cfg.Default, cfg.Routes)
}

func observabilityConfig(cfg *config.Config) *observability.Config {
	obs := cfg.Observability

	logCfg := observability.DefaultLogConfig()
	if obs.LogLevel != "" {
		logCfg.Level = obs.LogLevel
	}
	if obs.LogFormat != "" {
		logCfg.Format = obs.LogFormat
	}

	return &observability.Config{
		ServiceName:    obs.Tracing.ServiceName,
		ServiceVersion: version,
		Log:            logCfg,
		MetricsEnabled: obs.MetricsEnabled,
		Tracing: observability.TracerConfig{
			ServiceName:  obs.Tracing.ServiceName,
			OTLPEndpoint: obs.Tracing.OTLPEndpoint,
			SamplingRate: obs.Tracing.SamplingRate,
			Enabled:      obs.Tracing.Enabled,
		},
	}
}

func redisStoreConfig(rc config.RedisConfig) *store.RedisConfig {
	cfg := store.DefaultRedisConfig()
	cfg.Address = rc.Address
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	if rc.PoolSize > 0 {
		cfg.PoolSize = rc.PoolSize
	}
	if d := rc.DialTimeout.Duration(); d > 0 {
		cfg.DialTimeout = d
	}
	cfg.ConnectionRetries = rc.ConnectionRetries
	return cfg
}

func rateLimitConfig(rl config.RateLimitConfig) ratelimit.Config {
	routes := make([]ratelimit.Policy, 0, len(rl.Routes))
	for _, r := range rl.Routes {
		routes = append(routes, ratelimit.Policy{
			Name:              r.Path,
			RequestsPerMinute: r.Limits.RequestsPerMinute,
			RequestsPerHour:   r.Limits.RequestsPerHour,
		})
	}

	return ratelimit.Config{
		Default: ratelimit.Policy{
			Name:              ratelimit.DefaultPolicyName,
			RequestsPerMinute: rl.Default.RequestsPerMinute,
			RequestsPerHour:   rl.Default.RequestsPerHour,
		},
		Routes:            routes,
		ExemptPrefixes:    rl.ExemptPaths,
		TrustForwardedFor: rl.TrustForwardedFor,
		TrustedProxies:    rl.TrustedProxies,
		FailureMode:       ratelimit.FailureMode(rl.FailureMode),
		ProbeInterval:     rl.ProbeInterval.Duration(),
		StoreTimeout:      rl.StoreTimeout.Duration(),
	}
}
