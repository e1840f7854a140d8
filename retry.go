package copilot

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls how rate limited completion calls are retried.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy waits 2s, 4s, 8s before giving up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      2 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < retry; i++ {
		delay *= p.BackoffMultiplier
	}
	return time.Duration(delay)
}

// sleepFunc blocks for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryObserver is notified before every wait.
type retryObserver func(retry int, delay time.Duration, err error)

type retrier struct {
	policy  RetryPolicy
	sleep   sleepFunc
	observe retryObserver
}

func newRetrier(policy RetryPolicy) *retrier {
	return &retrier{policy: policy, sleep: sleepContext}
}

// do runs fn until it succeeds, fails with a non rate limit error, or the
// policy runs out of retries. Non rate limit errors come back as *ServiceError.
func (r *retrier) do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := r.policy.InitialDelay
	for retry := 0; ; retry++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return &ServiceError{Err: err}
		}
		if retry >= r.policy.MaxRetries {
			return fmt.Errorf("%w after %d retries: %w", ErrRateLimitExhausted, retry, err)
		}
		if r.observe != nil {
			r.observe(retry+1, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * r.policy.BackoffMultiplier)
	}
}

// Do runs fn under the policy with real waits.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return newRetrier(p).do(ctx, fn)
}
