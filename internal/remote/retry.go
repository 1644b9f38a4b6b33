package remote

import (
	"context"
	"time"

	"github.com/jw6ventures/planner/internal/metrics"
)

// RetryPolicy controls the rate-limit retry schedule and the pause after each success.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	PaceDelay  time.Duration
}

// DefaultRetryPolicy retries three times after 1s, 2s and 3s and paces calls 200ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, PaceDelay: 200 * time.Millisecond}
}

// Retrying decorates a Client. Only rate-limited calls are retried; every
// other failure is returned immediately.
type Retrying struct {
	inner  Client
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func WithRetry(inner Client, policy RetryPolicy) *Retrying {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Retrying{inner: inner, policy: policy, sleep: sleepContext}
}

func (r *Retrying) List(ctx context.Context, from, to time.Time) ([]Summary, error) {
	var out []Summary
	err := r.do(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = r.inner.List(ctx, from, to)
		return err
	})
	return out, err
}

func (r *Retrying) Insert(ctx context.Context, p Payload) (string, error) {
	var id string
	err := r.do(ctx, "insert", func(ctx context.Context) error {
		var err error
		id, err = r.inner.Insert(ctx, p)
		return err
	})
	return id, err
}

func (r *Retrying) Update(ctx context.Context, remoteID string, p Payload) error {
	return r.do(ctx, "update", func(ctx context.Context) error {
		return r.inner.Update(ctx, remoteID, p)
	})
}

func (r *Retrying) Delete(ctx context.Context, remoteID string) error {
	return r.do(ctx, "delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, remoteID)
	})
}

func (r *Retrying) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := call(ctx)
		if err == nil {
			metrics.ObserveRemoteCall(op, "ok")
			// Pacing is best effort; a cancelled context must not turn a success into a failure.
			_ = r.sleep(ctx, r.policy.PaceDelay)
			return nil
		}
		if !IsRateLimited(err) || attempt >= r.policy.MaxRetries {
			metrics.ObserveRemoteCall(op, KindOf(err).String())
			return err
		}
		metrics.ObserveRemoteRetry(op)
		if waitErr := r.sleep(ctx, r.retryDelay(attempt+1)); waitErr != nil {
			metrics.ObserveRemoteCall(op, KindRateLimited.String())
			return &Error{Op: op, Kind: KindTransport, Err: waitErr}
		}
	}
}

// retryDelay grows linearly with the attempt number.
func (r *Retrying) retryDelay(attempt int) time.Duration {
	return r.policy.BaseDelay * time.Duration(attempt)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
