package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfigYAML = `
server:
  address: ":9000"
  shutdown_timeout: "10s"
observability:
  log_level: debug
  log_format: console
  metrics_enabled: false
  tracing:
    enabled: true
    otlp_endpoint: "collector:4317"
    sampling_rate: 0.25
    service_name: edge
redis:
  address: "redis:6379"
  password: secret
  db: 2
  pool_size: 20
  dial_timeout: "1s"
  connection_retries: 5
rate_limit:
  enabled: true
  default:
    requests_per_minute: 100
    requests_per_hour: 2000
  routes:
    - path: /api/auth/login
      requests_per_minute: 5
      requests_per_hour: 20
  exempt_paths: [/health, /metrics]
  trust_forwarded_for: true
  trusted_proxies: [10.0.0.0/8]
  store_timeout: "75ms"
  failure_mode: memory
  probe_interval: "5s"
`

func TestLoader_LoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadHeaderTimeout.Duration(), "unset keys keep defaults")

	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Observability.Tracing.SamplingRate)

	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 5, cfg.Redis.ConnectionRetries)

	rl := cfg.RateLimit
	assert.Equal(t, uint64(100), rl.Default.RequestsPerMinute)
	require.Len(t, rl.Routes, 1)
	assert.Equal(t, "/api/auth/login", rl.Routes[0].Path)
	assert.Equal(t, uint64(5), rl.Routes[0].Limits.RequestsPerMinute)
	assert.Equal(t, uint64(20), rl.Routes[0].Limits.RequestsPerHour)
	assert.Equal(t, []string{"/health", "/metrics"}, rl.ExemptPaths)
	assert.True(t, rl.TrustForwardedFor)
	assert.Equal(t, []string{"10.0.0.0/8"}, rl.TrustedProxies)
	assert.Equal(t, 75*time.Millisecond, rl.StoreTimeout.Duration())
	assert.Equal(t, "memory", rl.FailureMode)
	assert.Equal(t, 5*time.Second, rl.ProbeInterval.Duration())

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoader_EmptyInputYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("rate_limit:\n  requests_per_second: 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoader_InvalidDuration(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("rate_limit:\n  store_timeout: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avalimit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
}

func TestLoader_Load_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig("/nonexistent/path/avalimit.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoader_SubstituteEnvVars(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"REDIS_ADDR": "cache:6380",
		"EMPTY":      "",
	}
	loader := NewLoader(WithLookupEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set", input: "${REDIS_ADDR}", want: "cache:6380"},
		{name: "set ignores default", input: "${REDIS_ADDR:-localhost:6379}", want: "cache:6380"},
		{name: "unset uses default", input: "${MISSING:-open}", want: "open"},
		{name: "unset without default", input: "x${MISSING}y", want: "xy"},
		{name: "set but empty", input: "${EMPTY:-fallback}", want: ""},
		{name: "escaped dollar", input: "$${REDIS_ADDR}", want: "${REDIS_ADDR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, loader.substituteEnvVars(tt.input))
		})
	}
}

func TestLoader_EnvInYAML(t *testing.T) {
	t.Parallel()

	loader := NewLoader(WithLookupEnv(func(key string) (string, bool) {
		if key == "AVALIMIT_FAILURE_MODE" {
			return "closed", true
		}
		return "", false
	}))

	cfg, err := loader.LoadFromReader(strings.NewReader(
		"rate_limit:\n  failure_mode: ${AVALIMIT_FAILURE_MODE:-open}\n  probe_interval: ${PROBE:-2s}\n"))
	require.NoError(t, err)
	assert.Equal(t, "closed", cfg.RateLimit.FailureMode)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.ProbeInterval.Duration())
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avalimit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	got, err := ResolveConfigPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveConfigPath("/nonexistent/avalimit.yaml")
	assert.Error(t, err)

	_, err = ResolveConfigPath("definitely-missing-avalimit.yaml")
	assert.Error(t, err)
}

func TestLoader_ShippedConfig(t *testing.T) {
	t.Parallel()

	loader := NewLoader(WithLookupEnv(func(string) (string, bool) { return "", false }))
	cfg, err := loader.Load(filepath.Join("..", "..", "configs", "avalimit.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, "open", cfg.RateLimit.FailureMode)
	assert.Equal(t, LimitConfig{RequestsPerMinute: 60, RequestsPerHour: 1000}, cfg.RateLimit.Default)

	routes := make(map[string]LimitConfig, len(cfg.RateLimit.Routes))
	for _, r := range cfg.RateLimit.Routes {
		routes[r.Path] = r.Limits
	}
	assert.Equal(t, map[string]LimitConfig{
		"/api/auth/login":           {RequestsPerMinute: 5, RequestsPerHour: 20},
		"/api/auth/register":        {RequestsPerMinute: 3, RequestsPerHour: 10},
		"/api/auth/forgot-password": {RequestsPerMinute: 2, RequestsPerHour: 5},
		"/api/users/":               {RequestsPerMinute: 30, RequestsPerHour: 1000},
	}, routes)
	assert.Equal(t, 50*time.Millisecond, cfg.RateLimit.StoreTimeout.Duration())
}
