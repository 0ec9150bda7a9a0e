package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy parameterizes Retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failed attempt may be repeated. A nil
	// predicate retries transient and resource failures.
	Retryable func(error) bool
	// Delay overrides the exponential schedule when set.
	Delay func(attempt int) time.Duration
	// OnRetry runs before each backoff sleep.
	OnRetry func(err error, attempt int, delay time.Duration)
	Sleep   func(ctx context.Context, d time.Duration) error
}

// RetryExhaustedError reports that every attempt failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. Delays grow as BaseDelay*2^attempt and
// are capped at MaxDelay.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return Categorize(err).IsRetryable() }
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}
		delay := policy.delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	if attempts > 1 && retryable(lastErr) {
		return zero, &RetryExhaustedError{Attempts: attempts, Err: lastErr}
	}
	return zero, lastErr
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Delay != nil {
		return p.Delay(attempt)
	}
	return BackoffDelay(p.BaseDelay, p.MaxDelay, attempt)
}

// BackoffDelay returns min(base*2^attempt, max). A zero max disables the cap.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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
