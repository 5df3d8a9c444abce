// Package ratelimit implements distributed fixed-window admission control.
//
// Each request is counted against a per-minute and a per-hour window held
// in a shared Counter Store, so every process behind a load balancer
// enforces the same limits. When the store is unreachable a Controller
// switches to an explicit degradation mode instead of failing requests.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit/store"
)

// Source tells where the counts behind a Result came from.
type Source int

const (
	// SourceStore means the shared Counter Store was consulted.
	SourceStore Source = iota

	// SourceMemory means the in-process fallback counters were used.
	SourceMemory

	// SourceBypass means no counting took place.
	SourceBypass
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceStore:
		return "store"
	case SourceMemory:
		return "memory"
	case SourceBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// Result is the admission decision for one request.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Policy is the name of the policy that was applied.
	Policy string

	MinuteCount uint64
	MinuteLimit uint64
	HourCount   uint64
	HourLimit   uint64

	// ResetMinute and ResetHour are the unix seconds at which the current
	// windows end.
	ResetMinute int64
	ResetHour   int64

	// Now is the unix second the decision was made at.
	Now int64

	Source Source
}

// RemainingMinute returns max(0, MinuteLimit-MinuteCount).
func (r Result) RemainingMinute() uint64 {
	return remaining(r.MinuteLimit, r.MinuteCount)
}

// RemainingHour returns max(0, HourLimit-HourCount).
func (r Result) RemainingHour() uint64 {
	return remaining(r.HourLimit, r.HourCount)
}

// RetryAfter returns the seconds until the earlier of the two windows resets.
func (r Result) RetryAfter() int64 {
	reset := r.ResetMinute
	if r.ResetHour < reset {
		reset = r.ResetHour
	}
	if d := reset - r.Now; d > 0 {
		return d
	}
	return 0
}

func remaining(limit, count uint64) uint64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

// Recorder receives admission metrics.
type Recorder interface {
	RecordDecision(policy, decision string)
	RecordBypass(mode string)
	SetStoreAvailable(available bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, string) {}
func (nopRecorder) RecordBypass(string)           {}
func (nopRecorder) SetStoreAvailable(bool)        {}

// Decision labels.
const (
	decisionAllowed     = "allowed"
	decisionRejected    = "rejected"
	decisionUnavailable = "unavailable"
)

// Limiter is the per-request entry point: it identifies the client,
// resolves the route policy and asks the Controller for a decision.
// It holds no per-request mutable state.
type Limiter struct {
	resolver   atomic.Pointer[Resolver]
	identifier *Identifier
	controller *Controller
	exempt     []string
	now        func() time.Time
	logger     observability.Logger
	recorder   Recorder
	tracer     *observability.Tracer

	fallbackStore store.Store
	ownedStores   []store.Store
}

// IsExempt reports whether path is never rate limited.
func (l *Limiter) IsExempt(path string) bool {
	for _, prefix := range l.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Check evaluates r. A non-nil error is a configuration defect
// (ErrPolicyNotFound); Counter Store failures never surface here.
func (l *Limiter) Check(r *http.Request) (Result, error) {
	route := r.URL.Path

	policy, err := l.resolver.Load().Resolve(route)
	if err != nil {
		return Result{}, err
	}

	client := l.identifier.Identify(r)
	now := l.now()

	ctx, span := l.tracer.StartSpan(r.Context(), "ratelimit.evaluate",
		trace.WithAttributes(
			attribute.String("ratelimit.policy", policy.Name),
			attribute.String("ratelimit.route", route),
		),
	)
	defer span.End()

	result, err := l.controller.Evaluate(ctx, client, route, policy, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.String("ratelimit.source", result.Source.String()),
	)

	l.recorder.RecordDecision(policy.Name, decisionLabel(result))

	return result, nil
}

// SetPolicies swaps the policy table. In-flight requests keep the table
// they resolved against.
func (l *Limiter) SetPolicies(def Policy, routes []Policy) {
	def = withDefaultLimits(def)
	l.resolver.Store(NewResolver(def, routes))
	l.logger.Info("rate limit policies updated",
		observability.Int("routes", len(routes)),
		observability.Uint64("default_per_minute", def.RequestsPerMinute),
		observability.Uint64("default_per_hour", def.RequestsPerHour),
	)
}

// State returns the Controller's current state.
func (l *Limiter) State() State {
	return l.controller.State()
}

// Mode returns the configured failure mode.
func (l *Limiter) Mode() FailureMode {
	return l.controller.Mode()
}

// Ping probes the shared Counter Store.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.controller.primary.Ping(ctx)
}

// MarkUnavailable moves the Limiter to BYPASS, e.g. when the store could
// not be reached at startup.
func (l *Limiter) MarkUnavailable(cause error) {
	l.controller.MarkUnavailable(cause)
}

// Close releases stores the Limiter created itself.
func (l *Limiter) Close() error {
	var firstErr error
	for _, s := range l.ownedStores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func decisionLabel(r Result) string {
	switch {
	case r.Allowed:
		return decisionAllowed
	case r.Source == SourceBypass:
		return decisionUnavailable
	default:
		return decisionRejected
	}
}
