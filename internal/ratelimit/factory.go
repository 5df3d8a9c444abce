package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit/store"
)

// Defaults applied when the configuration leaves a limit unset.
const (
	DefaultRequestsPerMinute uint64 = 60
	DefaultRequestsPerHour   uint64 = 1000
)

// DefaultExemptPrefixes lists the path prefixes that are never limited.
var DefaultExemptPrefixes = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
	"/docs",
	"/redoc",
	"/openapi.json",
	"/static",
}

// Config holds everything needed to build a Limiter.
type Config struct {
	// Default is applied to routes without an override.
	Default Policy

	// Routes are per-path overrides keyed by Policy.Name.
	Routes []Policy

	// ExemptPrefixes replaces DefaultExemptPrefixes when non-nil.
	ExemptPrefixes []string

	TrustForwardedFor bool
	TrustedProxies    []string

	FailureMode   FailureMode
	ProbeInterval time.Duration
	StoreTimeout  time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Default: Policy{
			Name:              DefaultPolicyName,
			RequestsPerMinute: DefaultRequestsPerMinute,
			RequestsPerHour:   DefaultRequestsPerHour,
		},
		FailureMode:  FailOpen,
		StoreTimeout: DefaultStoreTimeout,
	}
}

// Option is a functional option for configuring the Limiter.
type Option func(*Limiter)

// WithLogger sets the logger for the Limiter and its Controller.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) {
		l.recorder = r
	}
}

// WithTracer sets the tracer for evaluation spans. Without it spans go to
// the global provider.
func WithTracer(t *observability.Tracer) Option {
	return func(l *Limiter) {
		l.tracer = t
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithFallbackStore sets the store used in memory failure mode. Without it
// the Limiter creates and owns a MemoryStore.
func WithFallbackStore(s store.Store) Option {
	return func(l *Limiter) {
		l.fallbackStore = s
	}
}

// New builds a Limiter counting in s.
func New(s store.Store, cfg Config, opts ...Option) (*Limiter, error) {
	if s == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}

	identifier, err := NewIdentifier(cfg.TrustForwardedFor, cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}

	exempt := cfg.ExemptPrefixes
	if exempt == nil {
		exempt = DefaultExemptPrefixes
	}

	l := &Limiter{
		identifier: identifier,
		exempt:     append([]string(nil), exempt...),
		now:        time.Now,
		logger:     observability.NopLogger(),
		recorder:   nopRecorder{},
	}

	for _, opt := range opts {
		opt(l)
	}

	l.resolver.Store(NewResolver(withDefaultLimits(cfg.Default), cfg.Routes))

	mode, err := ParseFailureMode(string(cfg.FailureMode))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}

	var fallback *Evaluator
	if mode == FailMemory {
		if l.fallbackStore == nil {
			mem := store.NewMemoryStore()
			l.fallbackStore = mem
			l.ownedStores = append(l.ownedStores, mem)
		}
		fallback = NewEvaluator(NewWindowCounter(l.fallbackStore, cfg.StoreTimeout))
	}

	l.controller, err = NewController(
		NewEvaluator(NewWindowCounter(s, cfg.StoreTimeout)),
		ControllerConfig{
			FailureMode:   mode,
			ProbeInterval: cfg.ProbeInterval,
			Fallback:      fallback,
			Logger:        l.logger,
			Recorder:      l.recorder,
		},
	)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("ratelimit: %w", err)
	}

	return l, nil
}

func withDefaultLimits(def Policy) Policy {
	if def.RequestsPerMinute == 0 {
		def.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if def.RequestsPerHour == 0 {
		def.RequestsPerHour = DefaultRequestsPerHour
	}
	return def
}
