package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || result != "ok" {
		t.Errorf("expected ok, got %q %v", result, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(4), func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	})
	if err == nil || err.Error() != "attempt 4" {
		t.Errorf("expected last error 'attempt 4', got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"circuit open", ErrCircuitOpen},
		{"permanent", Permanent(errBackend)},
		{"canceled", context.Canceled},
		{"caller aborted", fmt.Errorf("write: %w", ErrCallerAborted)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := RetryFunc(context.Background(), fastRetry(5), func() error {
				calls++
				return tc.err
			})
			if calls != 1 {
				t.Errorf("expected 1 call, got %d", calls)
			}
			if !errors.Is(err, tc.err) && err != tc.err {
				t.Errorf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestRetry_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryFunc(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, func() error {
		calls++
		cancel()
		return errBackend
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		attempts = append(attempts, attempt)
	}
	_ = RetryFunc(context.Background(), cfg, func() error { return errBackend })

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", attempts)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{6, 5 * time.Second},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("attempt %d", tc.attempt), func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got := calculateBackoff(tc.attempt, cfg)
				low := time.Duration(float64(tc.base) * 0.9)
				high := time.Duration(float64(tc.base) * 1.1)
				if high > cfg.MaxBackoff {
					high = cfg.MaxBackoff
				}
				if got < low || got > high {
					t.Fatalf("backoff %v outside [%v, %v]", got, low, high)
				}
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	err := Permanent(errBackend)
	if !IsPermanent(fmt.Errorf("wrapped: %w", err)) {
		t.Error("expected IsPermanent through wrapping")
	}
	if !errors.Is(err, errBackend) {
		t.Error("expected Permanent to unwrap to the original error")
	}
	if IsPermanent(errBackend) {
		t.Error("plain error should not be permanent")
	}
}
