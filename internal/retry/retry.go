// Package retry runs a task with capped exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// The first wait is 2^minExponent ms (128ms).
	minExponent = 7
	// Clamp to avoid overflow before the max interval applies.
	maxExponent = 32

	defaultMaxInterval = 30 * time.Second
)

// Policy is an exponential backoff policy. The zero value retries forever
// with a 30s cap and jitter disabled.
type Policy struct {
	// MaxAttempts bounds the number of executions; 0 means unlimited.
	MaxAttempts int
	// MaxInterval caps a single wait.
	MaxInterval time.Duration
	// Jitter randomizes each wait in [interval/2, interval).
	Jitter bool
	// Retryable decides whether an error is worth another attempt. Nil
	// treats every error as retryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)

	// after is swapped in tests.
	after func(time.Duration) <-chan time.Time
}

// Task is one attempt.
type Task func(ctx context.Context) error

// Do executes task until it succeeds, a non-retryable error occurs, the
// attempts are exhausted or ctx is done. It returns the last task error, or
// ctx.Err() when canceled while waiting.
func (p Policy) Do(ctx context.Context, task Task) error {
	for attempt := 1; ; attempt++ {
		err := task(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		select {
		case <-p.timer(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Backoff returns the wait after the given (1-based) failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxInterval
	}

	exp := attempt - 1 + minExponent
	if exp > maxExponent {
		exp = maxExponent
	}
	ms := math.Min(math.Pow(2, float64(exp)), float64(maxInterval.Milliseconds()))
	interval := time.Duration(ms) * time.Millisecond

	if p.Jitter && interval > 1 {
		half := interval / 2
		interval = half + time.Duration(rand.Int64N(int64(half)))
	}
	return interval
}

func (p Policy) timer(d time.Duration) <-chan time.Time {
	if p.after != nil {
		return p.after(d)
	}
	return time.After(d)
}
