package ratelimit

import (
	"context"
	"time"
)

// Evaluator applies a Policy to a client's minute and hour counters.
type Evaluator struct {
	counter *WindowCounter
}

// NewEvaluator creates an Evaluator on top of counter.
func NewEvaluator(counter *WindowCounter) *Evaluator {
	return &Evaluator{counter: counter}
}

// Evaluate counts one request for client on route at now and compares the
// post-increment counts with policy. The request that first exceeds a limit
// is the one rejected: with a limit of N the Nth request passes and the
// (N+1)th does not.
//
// A non-nil error matches store.ErrStoreUnavailable. When the minute
// increment fails the hour counter is not touched.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	client ClientKey,
	route string,
	policy Policy,
	now time.Time,
) (Result, error) {
	minuteKey := NewWindowKey(client, route, WindowMinute, now)
	hourKey := NewWindowKey(client, route, WindowHour, now)

	minute := e.counter.IncrementAndGet(ctx, minuteKey, WindowMinute.Length())
	if !minute.OK() {
		return Result{}, minute.Err
	}

	hour := e.counter.IncrementAndGet(ctx, hourKey, WindowHour.Length())
	if !hour.OK() {
		return Result{}, hour.Err
	}

	return Result{
		Allowed:     minute.Count <= policy.RequestsPerMinute && hour.Count <= policy.RequestsPerHour,
		Policy:      policy.Name,
		MinuteCount: minute.Count,
		MinuteLimit: policy.RequestsPerMinute,
		HourCount:   hour.Count,
		HourLimit:   policy.RequestsPerHour,
		ResetMinute: minuteKey.ResetAt(),
		ResetHour:   hourKey.ResetAt(),
		Now:         now.Unix(),
		Source:      SourceStore,
	}, nil
}

// Ping probes the evaluator's Counter Store.
func (e *Evaluator) Ping(ctx context.Context) error {
	return e.counter.Ping(ctx)
}
