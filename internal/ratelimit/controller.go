package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avalimit/internal/observability"
)

// FailureMode selects what happens to requests while the Counter Store is
// unavailable.
type FailureMode string

const (
	// FailOpen allows every request without counting.
	FailOpen FailureMode = "open"

	// FailClosed rejects every request with 503.
	FailClosed FailureMode = "closed"

	// FailMemory counts in process memory with the same algorithm.
	// Limits then hold per process only.
	FailMemory FailureMode = "memory"
)

// ParseFailureMode parses a configured failure mode. The empty string
// selects FailOpen.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	case FailMemory:
		return FailMemory, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q (want open, closed or memory)", s)
	}
}

// State is the Controller's view of the Counter Store.
type State int

const (
	// StateEnabled means counting happens in the Counter Store.
	StateEnabled State = iota

	// StateBypass means the Counter Store is considered unavailable and
	// the FailureMode applies.
	StateBypass
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// bypassWarnInterval throttles the per-request bypass warning.
const bypassWarnInterval = 5 * time.Second

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// FailureMode applies while in BYPASS.
	FailureMode FailureMode

	// ProbeInterval is the minimum time spent in BYPASS before the next
	// request probes the store. Zero probes on the very next request.
	ProbeInterval time.Duration

	// Fallback counts requests when FailureMode is FailMemory.
	Fallback *Evaluator

	Logger   observability.Logger
	Recorder Recorder
}

// Controller switches between counting in the Counter Store (ENABLED) and
// the configured FailureMode (BYPASS). The transition out of ENABLED
// happens on the first failed round trip; the way back is a PING probe
// made lazily by a request, one at a time.
type Controller struct {
	primary       *Evaluator
	fallback      *Evaluator
	mode          FailureMode
	probeInterval time.Duration
	breaker       *gobreaker.CircuitBreaker
	warn          *rate.Limiter
	logger        observability.Logger
	recorder      Recorder
}

// NewController creates a Controller in the ENABLED state.
func NewController(primary *Evaluator, cfg ControllerConfig) (*Controller, error) {
	if primary == nil {
		return nil, errors.New("controller requires a primary evaluator")
	}

	mode, err := ParseFailureMode(string(cfg.FailureMode))
	if err != nil {
		return nil, err
	}
	if mode == FailMemory && cfg.Fallback == nil {
		return nil, errors.New("memory failure mode requires a fallback evaluator")
	}

	c := &Controller{
		primary:       primary,
		fallback:      cfg.Fallback,
		mode:          mode,
		probeInterval: cfg.ProbeInterval,
		warn:          rate.NewLimiter(rate.Every(bypassWarnInterval), 1),
		logger:        cfg.Logger,
		recorder:      cfg.Recorder,
	}
	if c.logger == nil {
		c.logger = observability.NopLogger()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}

	openTimeout := cfg.ProbeInterval
	if openTimeout <= 0 {
		// gobreaker treats zero as its own default; one nanosecond makes
		// the next request after a trip the probe.
		openTimeout = time.Nanosecond
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "counter-store",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: c.onStateChange,
	})

	c.recorder.SetStoreAvailable(true)

	return c, nil
}

// Mode returns the configured failure mode.
func (c *Controller) Mode() FailureMode {
	return c.mode
}

// State returns ENABLED while the breaker is closed and BYPASS otherwise.
func (c *Controller) State() State {
	if c.breaker.State() == gobreaker.StateClosed {
		return StateEnabled
	}
	return StateBypass
}

// Evaluate returns the admission decision for one request. Counter Store
// failures are absorbed here and never returned.
func (c *Controller) Evaluate(
	ctx context.Context,
	client ClientKey,
	route string,
	policy Policy,
	now time.Time,
) (Result, error) {
	switch c.breaker.State() {
	case gobreaker.StateOpen:
		return c.bypass(ctx, client, route, policy, now, gobreaker.ErrOpenState)
	case gobreaker.StateHalfOpen:
		if err := c.probe(ctx); err != nil {
			return c.bypass(ctx, client, route, policy, now, err)
		}
	}

	var result Result
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var evalErr error
		result, evalErr = c.primary.Evaluate(ctx, client, route, policy, now)
		return nil, evalErr
	})
	if err != nil {
		return c.bypass(ctx, client, route, policy, now, err)
	}

	return result, nil
}

// MarkUnavailable records a failed round trip observed outside Evaluate,
// such as the startup connection check, and moves the Controller to BYPASS.
func (c *Controller) MarkUnavailable(cause error) {
	if cause == nil {
		cause = gobreaker.ErrOpenState
	}
	_, _ = c.breaker.Execute(func() (interface{}, error) {
		return nil, cause
	})
}

// probe pings the store through the breaker. gobreaker admits a single
// request while half-open, so concurrent callers get ErrTooManyRequests
// and stay in BYPASS.
func (c *Controller) probe(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.primary.Ping(ctx)
	})
	return err
}

func (c *Controller) bypass(
	ctx context.Context,
	client ClientKey,
	route string,
	policy Policy,
	now time.Time,
	cause error,
) (Result, error) {
	c.recorder.RecordBypass(string(c.mode))

	if c.warn.Allow() {
		c.logger.WithContext(ctx).Warn("counter store unavailable, rate limiting degraded",
			observability.String("mode", string(c.mode)),
			observability.String("route", route),
			observability.Error(cause),
		)
	}

	switch c.mode {
	case FailClosed:
		// Reset fields point at the next probe so RetryAfter is meaningful.
		retry := max(int64(math.Ceil(c.probeInterval.Seconds())), 1)
		return Result{
			Allowed:     false,
			Policy:      policy.Name,
			MinuteLimit: policy.RequestsPerMinute,
			HourLimit:   policy.RequestsPerHour,
			ResetMinute: now.Unix() + retry,
			ResetHour:   now.Unix() + retry,
			Now:         now.Unix(),
			Source:      SourceBypass,
		}, nil
	case FailMemory:
		result, err := c.fallback.Evaluate(ctx, client, route, policy, now)
		if err == nil {
			result.Source = SourceMemory
			return result, nil
		}
		c.logger.WithContext(ctx).Error("in-memory fallback failed, allowing request",
			observability.Error(err),
		)
	}

	return Result{
		Allowed:     true,
		Policy:      policy.Name,
		MinuteLimit: policy.RequestsPerMinute,
		HourLimit:   policy.RequestsPerHour,
		Now:         now.Unix(),
		Source:      SourceBypass,
	}, nil
}

func (c *Controller) onStateChange(name string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		if from == gobreaker.StateClosed {
			c.logger.Error("counter store unavailable, entering bypass",
				observability.String("breaker", name),
				observability.String("mode", string(c.mode)),
			)
		}
		c.recorder.SetStoreAvailable(false)
	case gobreaker.StateClosed:
		c.logger.Info("counter store reachable, rate limiting enabled",
			observability.String("breaker", name),
		)
		c.recorder.SetStoreAvailable(true)
	default:
		c.logger.Debug("probing counter store",
			observability.String("breaker", name),
			observability.String("from", from.String()),
		)
	}
}
