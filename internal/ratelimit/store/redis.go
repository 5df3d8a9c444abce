package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Operation status labels.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// incrementWithExpiryScript increments a counter and refreshes its TTL in one
// atomic step.
// KEYS[1] = key
// ARGV[1] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	redis.call('EXPIRE', KEYS[1], ARGV[1])
	return current
`)

// RedisConfig holds configuration for the Redis counter store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// MaxRetries is passed to go-redis; -1 disables command retries so a
	// request deadline is never spent on resends.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Startup connection retries (see WaitForConnection).
	ConnectionRetries int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	Logger  *zap.Logger
	Metrics OperationRecorder
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		PoolSize:          10,
		MinIdleConns:      2,
		MaxRetries:        -1,
		DialTimeout:       2 * time.Second,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
		ConnectionRetries: 3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
	}
}

// RedisStore implements Store on top of a pooled go-redis client.
type RedisStore struct {
	client  *redis.Client
	config  *RedisConfig
	logger  *zap.Logger
	metrics OperationRecorder

	mu     sync.Mutex
	closed bool
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis store. The client connects lazily, so an
// unreachable server does not fail construction.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var metrics OperationRecorder = nopRecorder{}
	if config.Metrics != nil {
		metrics = config.Metrics
	}

	client := redis.NewClient(&redis.Options{
		Addr:                  config.Address,
		Password:              config.Password,
		DB:                    config.DB,
		PoolSize:              config.PoolSize,
		MinIdleConns:          config.MinIdleConns,
		MaxRetries:            config.MaxRetries,
		DialTimeout:           config.DialTimeout,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ContextTimeoutEnabled: true,
	})

	return &RedisStore{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// WaitForConnection pings Redis until it answers, retrying with
// decorrelated jitter backoff up to ConnectionRetries times.
func (s *RedisStore) WaitForConnection(ctx context.Context) error {
	retries := s.config.ConnectionRetries
	if retries < 0 {
		retries = 0
	}

	backoff := newDecorrelatedJitterBackoff(s.config.InitialBackoff, s.config.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
		lastErr = s.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					zap.String("address", s.config.Address),
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if attempt == retries {
			break
		}

		wait := backoff.next(attempt)
		s.logger.Debug("redis connection failed, retrying",
			zap.String("address", s.config.Address),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return newError("connect", "", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("redis not reachable after %d attempts: %w", retries+1, lastErr)
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		s.metrics.ObserveStoreOperation("incr", statusError, time.Since(start))
		return 0, newError("incr", key, err)
	}

	seconds := int64(expiration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{key}, seconds).Result()
	if err != nil {
		s.metrics.ObserveStoreOperation("incr", statusError, time.Since(start))
		return 0, newError("incr", key, err)
	}

	val, ok := result.(int64)
	if !ok {
		s.metrics.ObserveStoreOperation("incr", statusError, time.Since(start))
		return 0, newError("incr", key, fmt.Errorf("unexpected script result type %T", result))
	}

	s.metrics.ObserveStoreOperation("incr", statusSuccess, time.Since(start))
	return val, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.metrics.ObserveStoreOperation("ping", statusError, time.Since(start))
		return newError("ping", "", err)
	}

	s.metrics.ObserveStoreOperation("ping", statusSuccess, time.Since(start))
	return nil
}

// Close implements Store. It is safe to call more than once.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}


// decorrelatedJitterBackoff computes sleep = min(cap, rand(base, prev*3)).
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3

	//nolint:gosec // weak random is acceptable for jitter
	backoff := lo + rand.Float64()*(hi-lo)
	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}
