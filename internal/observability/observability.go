package observability

import (
	"context"
	"errors"
	"fmt"
)

// Config holds configuration for observability.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Log LogConfig

	MetricsEnabled bool

	Tracing TracerConfig
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "avalimit",
		ServiceVersion: "dev",
		Log:            DefaultLogConfig(),
		MetricsEnabled: true,
		Tracing: TracerConfig{
			ServiceName:  "avalimit",
			SamplingRate: 1.0,
		},
	}
}

// Observability bundles the logger, metrics and tracer of one process.
type Observability struct {
	config  *Config
	logger  Logger
	metrics *Metrics
	tracer  *Tracer
}

// New initializes logging, metrics and tracing. Metrics is nil when
// disabled.
func New(config *Config) (*Observability, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger = logger.With(
		String("service", config.ServiceName),
		String("version", config.ServiceVersion),
	)

	o := &Observability{
		config: config,
		logger: logger,
	}

	if config.MetricsEnabled {
		o.metrics = NewMetrics()
	}

	tracingCfg := config.Tracing
	if tracingCfg.ServiceName == "" {
		tracingCfg.ServiceName = config.ServiceName
	}
	o.tracer, err = NewTracer(tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Info("observability initialized",
		Bool("metrics_enabled", config.MetricsEnabled),
		Bool("tracing_enabled", tracingCfg.Enabled),
	)

	return o, nil
}

// Logger returns the logger.
func (o *Observability) Logger() Logger {
	return o.logger
}

// Metrics returns the metrics, or nil when disabled.
func (o *Observability) Metrics() *Metrics {
	return o.metrics
}

// Tracer returns the tracer.
func (o *Observability) Tracer() *Tracer {
	return o.tracer
}

// Shutdown flushes the tracer and the logger.
func (o *Observability) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracer != nil {
		if err := o.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop tracing provider: %w", err))
		}
	}

	// Sync errors on stdout/stderr are expected and ignored.
	_ = o.logger.Sync()

	return errors.Join(errs...)
}
