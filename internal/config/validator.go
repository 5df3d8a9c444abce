package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/avalimit/internal/util"
)

// Failure modes accepted in rate_limit.failure_mode.
var validFailureModes = map[string]bool{
	"":       true,
	"open":   true,
	"closed": true,
	"memory": true,
}

// Log settings accepted in observability.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Unwrap lets errors.Is match util.ErrConfigInvalid.
func (e ValidationErrors) Unwrap() error {
	return util.ErrConfigInvalid
}

// Validator validates avalimit configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a configuration.
func ValidateConfig(config *Config) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateObservability(&config.Observability)
	v.validateRedis(&config.Redis)
	v.validateRateLimit(&config.RateLimit)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(server *ServerConfig) {
	if err := util.ValidateNonEmpty(server.Address, "address"); err != nil {
		v.addError("server.address", err.Error())
	}
	if err := util.ValidateDuration(server.ShutdownTimeout.Duration()); err != nil {
		v.addError("server.shutdown_timeout", err.Error())
	}
}

func (v *Validator) validateObservability(obs *ObservabilityConfig) {
	if obs.LogLevel != "" && !validLogLevels[strings.ToLower(obs.LogLevel)] {
		v.addError("observability.log_level", "log level must be debug, info, warn, or error")
	}
	if obs.LogFormat != "" && !validLogFormats[strings.ToLower(obs.LogFormat)] {
		v.addError("observability.log_format", "log format must be json or console")
	}
	if err := util.ValidatePercentage(obs.Tracing.SamplingRate * 100); err != nil {
		v.addError("observability.tracing.sampling_rate", "sampling rate must be between 0 and 1")
	}
}

func (v *Validator) validateRedis(redis *RedisConfig) {
	if _, _, err := net.SplitHostPort(redis.Address); err != nil {
		v.addError("redis.address", fmt.Sprintf("address must be host:port: %v", err))
	}
	if redis.DB < 0 {
		v.addError("redis.db", "db cannot be negative")
	}
	if redis.PoolSize < 0 {
		v.addError("redis.pool_size", "pool size cannot be negative")
	}
	if redis.ConnectionRetries < 0 {
		v.addError("redis.connection_retries", "connection retries cannot be negative")
	}
	if err := util.ValidateDuration(redis.DialTimeout.Duration()); err != nil {
		v.addError("redis.dial_timeout", err.Error())
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	const path = "rate_limit"

	if !validFailureModes[rl.FailureMode] {
		v.addError(path+".failure_mode", "failure mode must be open, closed, or memory")
	}
	if err := util.ValidatePositiveDuration(rl.StoreTimeout.Duration()); err != nil {
		v.addError(path+".store_timeout", err.Error())
	}
	if err := util.ValidateDuration(rl.ProbeInterval.Duration()); err != nil {
		v.addError(path+".probe_interval", err.Error())
	}

	v.validateLimits(rl.Default, path+".default")

	seen := make(map[string]bool, len(rl.Routes))
	for i := range rl.Routes {
		route := &rl.Routes[i]
		routePath := fmt.Sprintf("%s.routes[%d]", path, i)

		if !strings.HasPrefix(route.Path, "/") {
			v.addError(routePath+".path", "path must start with '/'")
		} else if seen[route.Path] {
			v.addError(routePath+".path", fmt.Sprintf("duplicate route path: %s", route.Path))
		}
		seen[route.Path] = true

		v.validateLimits(route.Limits, routePath)
	}

	for i, prefix := range rl.ExemptPaths {
		if !strings.HasPrefix(prefix, "/") {
			v.addError(fmt.Sprintf("%s.exempt_paths[%d]", path, i), "path must start with '/'")
		}
	}

	for i, proxy := range rl.TrustedProxies {
		if !validProxy(proxy) {
			v.addError(fmt.Sprintf("%s.trusted_proxies[%d]", path, i),
				fmt.Sprintf("invalid IP address or CIDR: %s", proxy))
		}
	}
}

func (v *Validator) validateLimits(limits LimitConfig, path string) {
	if limits.RequestsPerMinute == 0 {
		v.addError(path+".requests_per_minute", "requests per minute must be positive")
	}
	if limits.RequestsPerHour == 0 {
		v.addError(path+".requests_per_hour", "requests per hour must be positive")
	}
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
