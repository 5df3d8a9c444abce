// Package store provides Counter Store backends for rate limiting.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the shared counter backend used by the window counter.
// Implementations must be safe for concurrent use.
type Store interface {
	// IncrementWithExpiry atomically increments the counter at key by one,
	// (re)sets its expiry and returns the post-increment value.
	IncrementWithExpiry(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ErrStoreUnavailable is matched by every error a Store returns when the
// backend cannot be reached or does not answer in time.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// Error describes a failed store operation.
type Error struct {
	Op    string
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports ErrStoreUnavailable as a match for every store error.
func (e *Error) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// newError wraps cause into a store Error.
func newError(op, key string, cause error) error {
	return &Error{Op: op, Key: key, Cause: cause}
}

// IsUnavailable reports whether err signals an unreachable store.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// OperationRecorder receives timing and outcome of store round trips.
type OperationRecorder interface {
	ObserveStoreOperation(operation, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStoreOperation(string, string, time.Duration) {}
