package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/avalimit/internal/ratelimit/store"
)

// KeyPrefix starts every counter key in the Counter Store.
const KeyPrefix = "rate_limit"

// DefaultStoreTimeout bounds a single Counter Store round trip.
const DefaultStoreTimeout = 50 * time.Millisecond

// WindowKind names a fixed counting window.
type WindowKind string

const (
	// WindowMinute is the 60 second window.
	WindowMinute WindowKind = "minute"

	// WindowHour is the 3600 second window.
	WindowHour WindowKind = "hour"
)

// Length returns the duration of the window.
func (k WindowKind) Length() time.Duration {
	switch k {
	case WindowHour:
		return time.Hour
	default:
		return time.Minute
	}
}

func (k WindowKind) seconds() int64 {
	return int64(k.Length() / time.Second)
}

// WindowKey addresses one counter: a client, a route and a window instance.
type WindowKey struct {
	Client ClientKey
	Route  string
	Kind   WindowKind
	Index  int64
}

// NewWindowKey returns the key of the window of the given kind containing now.
func NewWindowKey(client ClientKey, route string, kind WindowKind, now time.Time) WindowKey {
	return WindowKey{
		Client: client,
		Route:  route,
		Kind:   kind,
		Index:  floorDiv(now.Unix(), kind.seconds()),
	}
}

// String renders rate_limit:{client}:{route}:{kind}:{index}.
func (k WindowKey) String() string {
	var sb strings.Builder
	sb.Grow(len(KeyPrefix) + len(k.Client) + len(k.Route) + len(k.Kind) + 24)
	sb.WriteString(KeyPrefix)
	sb.WriteByte(':')
	sb.WriteString(string(k.Client))
	sb.WriteByte(':')
	sb.WriteString(k.Route)
	sb.WriteByte(':')
	sb.WriteString(string(k.Kind))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(k.Index, 10))
	return sb.String()
}

// ResetAt returns the unix second at which the next window opens.
func (k WindowKey) ResetAt() int64 {
	return (k.Index + 1) * k.Kind.seconds()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Outcome is the result of one counter round trip: a count, or an error
// matching store.ErrStoreUnavailable.
type Outcome struct {
	Count uint64
	Err   error
}

// OK reports whether the increment landed.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// WindowCounter increments fixed-window counters in a Counter Store.
type WindowCounter struct {
	store   store.Store
	timeout time.Duration
}

// NewWindowCounter creates a WindowCounter. A non-positive timeout selects
// DefaultStoreTimeout.
func NewWindowCounter(s store.Store, timeout time.Duration) *WindowCounter {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &WindowCounter{store: s, timeout: timeout}
}

// IncrementAndGet atomically increments the counter for key, refreshes its
// expiry to window and returns the new value.
//
// The round trip is detached from the caller's cancellation: an aborted
// request may still be counted, which can only overcount.
func (c *WindowCounter) IncrementAndGet(ctx context.Context, key WindowKey, window time.Duration) Outcome {
	if c == nil || c.store == nil {
		return Outcome{Err: store.ErrStoreUnavailable}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	n, err := c.store.IncrementWithExpiry(ctx, key.String(), window)
	if err != nil {
		if !store.IsUnavailable(err) {
			err = &store.Error{Op: "incr", Key: key.String(), Cause: err}
		}
		return Outcome{Err: err}
	}
	if n < 0 {
		n = 0
	}
	return Outcome{Count: uint64(n)}
}

// Ping probes the Counter Store within the counter's timeout.
func (c *WindowCounter) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return store.ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		if !store.IsUnavailable(err) {
			err = &store.Error{Op: "ping", Cause: err}
		}
		return err
	}
	return nil
}
