package config

import "time"

// Config is the root configuration of the avalimit service.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rateLimit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address           string   `yaml:"address" json:"address"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout,omitempty" json:"readHeaderTimeout,omitempty"`
	ReadTimeout       Duration `yaml:"read_timeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout      Duration `yaml:"write_timeout,omitempty" json:"writeTimeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout" json:"shutdownTimeout"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel       string        `yaml:"log_level" json:"logLevel"`
	LogFormat      string        `yaml:"log_format" json:"logFormat"`
	MetricsEnabled bool          `yaml:"metrics_enabled" json:"metricsEnabled"`
	Tracing        TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate" json:"samplingRate"`
	ServiceName  string  `yaml:"service_name" json:"serviceName"`
}

// RedisConfig configures the shared Counter Store.
type RedisConfig struct {
	Address           string   `yaml:"address" json:"address"`
	Password          string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB                int      `yaml:"db" json:"db"`
	PoolSize          int      `yaml:"pool_size" json:"poolSize"`
	DialTimeout       Duration `yaml:"dial_timeout" json:"dialTimeout"`
	ConnectionRetries int      `yaml:"connection_retries" json:"connectionRetries"`
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	// Enabled set to false installs a pass-through middleware.
	Enabled bool `yaml:"enabled" json:"enabled"`

	Default LimitConfig   `yaml:"default" json:"default"`
	Routes  []RouteConfig `yaml:"routes,omitempty" json:"routes,omitempty"`

	// ExemptPaths replaces the built-in exempt prefixes when set.
	ExemptPaths []string `yaml:"exempt_paths,omitempty" json:"exemptPaths,omitempty"`

	TrustForwardedFor bool     `yaml:"trust_forwarded_for" json:"trustForwardedFor"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty" json:"trustedProxies,omitempty"`

	StoreTimeout  Duration `yaml:"store_timeout" json:"storeTimeout"`
	FailureMode   string   `yaml:"failure_mode" json:"failureMode"`
	ProbeInterval Duration `yaml:"probe_interval" json:"probeInterval"`
}

// LimitConfig holds per-window thresholds.
type LimitConfig struct {
	RequestsPerMinute uint64 `yaml:"requests_per_minute" json:"requestsPerMinute"`
	RequestsPerHour   uint64 `yaml:"requests_per_hour" json:"requestsPerHour"`
}

// RouteConfig overrides the default limits for a path.
type RouteConfig struct {
	Path   string      `yaml:"path" json:"path"`
	Limits LimitConfig `yaml:",inline" json:"limits"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadHeaderTimeout: Duration(5 * time.Second),
			ReadTimeout:       Duration(30 * time.Second),
			WriteTimeout:      Duration(30 * time.Second),
			ShutdownTimeout:   Duration(30 * time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			Tracing: TracingConfig{
				SamplingRate: 1.0,
				ServiceName:  "avalimit",
			},
		},
		Redis: RedisConfig{
			Address:           "localhost:6379",
			PoolSize:          10,
			DialTimeout:       Duration(2 * time.Second),
			ConnectionRetries: 3,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Default: LimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
			StoreTimeout: Duration(50 * time.Millisecond),
			FailureMode:  "open",
		},
	}
}
