package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avalimit/internal/ratelimit"
)

// DefaultCheckTimeout bounds a single dependency probe.
const DefaultCheckTimeout = time.Second

// CounterStore is the view of the rate limiter the readiness check needs.
type CounterStore interface {
	State() ratelimit.State
	Mode() ratelimit.FailureMode
	Ping(ctx context.Context) error
}

// CounterStoreCheck reports the Counter Store as seen by the limiter.
// A store that answers PING while the limiter is still in BYPASS is
// degraded until the next request completes the probe.
func CounterStoreCheck(cs CounterStore, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	return func(ctx context.Context) Check {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		pingErr := cs.Ping(ctx)
		state := cs.State()

		if pingErr == nil && state == ratelimit.StateEnabled {
			return Check{Status: StatusHealthy, Message: "rate limiting enabled"}
		}

		msg := fmt.Sprintf("rate limiting in %s, failure mode %s", state, cs.Mode())
		if pingErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, pingErr)
		}

		if cs.Mode() == ratelimit.FailClosed {
			return Check{Status: StatusUnhealthy, Message: msg}
		}
		return Check{Status: StatusDegraded, Message: msg}
	}
}

// StaticCheck always reports status. It marks features that are switched
// off in configuration.
func StaticCheck(status Status, message string) CheckFunc {
	return func(context.Context) Check {
		return Check{Status: status, Message: message}
	}
}
