package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries bounds the compare-and-swap loop under contention.
const maxCASRetries = 100

// entry is an immutable counter snapshot; updates replace it via CAS.
type entry struct {
	value      int64
	expiration time.Time
}

// MemoryStore implements Store in process memory. Counters are only
// shared between goroutines of one process.
type MemoryStore struct {
	data    sync.Map
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store that sweeps expired counters
// every minute.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates an in-memory store with a
// custom sweep interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		now:     time.Now,
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// IncrementWithExpiry implements Store. The expiry is refreshed on every
// increment, matching the Redis script.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, newError("incr", key, err)
	}

	now := s.now()
	exp := now.Add(expiration)

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			fresh := &entry{value: 1, expiration: exp}
			actual, loaded := s.data.LoadOrStore(key, fresh)
			if !loaded {
				return 1, nil
			}
			value = actual
		}

		e := value.(*entry)

		next := &entry{value: e.value + 1, expiration: exp}
		if now.After(e.expiration) {
			next.value = 1
		}

		if s.data.CompareAndSwap(key, e, next) {
			return next.value, nil
		}
	}

	return 0, newError("incr", key, fmt.Errorf("max CAS retries (%d) exceeded", maxCASRetries))
}

// Ping implements Store; memory is always reachable unless closed.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError("ping", "", fmt.Errorf("memory store closed"))
	}
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := s.now()

	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if now.After(e.expiration) {
			s.data.CompareAndDelete(key, e)
		}
		return true
	})
}

// Size returns the number of counters currently held.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
