package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"kometaai/internal/services"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := services.Retry(context.Background(), services.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Sleep:       recordingSleep(&delays),
	}, func(context.Context, int) (string, error) {
		calls++
		if calls < 3 {
			return "", services.Wrap(services.ErrTransient, "test", "call", "flaky", nil)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	critical := services.Wrap(services.ErrCritical, "test", "call", "denied", nil)
	_, err := services.Retry(context.Background(), services.RetryPolicy{MaxAttempts: 5}, func(context.Context, int) (int, error) {
		calls++
		return 0, critical
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, services.ErrCritical) {
		t.Fatalf("expected critical error, got %v", err)
	}
	var exhausted *services.RetryExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("non-retryable error should not be reported as exhausted")
	}
}

func TestRetryExhausted(t *testing.T) {
	var delays []time.Duration
	_, err := services.Retry(context.Background(), services.RetryPolicy{
		MaxAttempts: 3,
		Retryable:   func(error) bool { return true },
		Delay:       func(int) time.Duration { return time.Millisecond },
		Sleep:       recordingSleep(&delays),
	}, func(context.Context, int) (int, error) {
		return 0, errors.New("nope")
	})
	var exhausted *services.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", exhausted.Attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(delays))
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := services.Retry(ctx, services.RetryPolicy{MaxAttempts: 3}, func(context.Context, int) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := services.BackoffDelay(time.Second, 30*time.Second, tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := services.BackoffDelay(0, time.Second, 3); got != 0 {
		t.Errorf("zero base should yield zero delay, got %v", got)
	}
}
