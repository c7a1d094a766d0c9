package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func classAlways(class ErrorClass) func(error) ErrorClass {
	return func(error) ErrorClass { return class }
}

func TestRetryWithBackoff_SuccessFirstTry(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	}, classAlways(ErrorClassServer))

	if err != nil {
		t.Fatalf("retryWithBackoff failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, classAlways(ErrorClassServer))

	if err != nil {
		t.Fatalf("retryWithBackoff failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_ClientErrorsNotRetried(t *testing.T) {
	calls := 0
	permanent := errors.New("not found")
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		return permanent
	}, classAlways(ErrorClassClient))

	if !errors.Is(err, permanent) {
		t.Errorf("Expected original error, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Non-retryable failure must not report exhaustion")
	}
	if calls != 1 {
		t.Errorf("Calls = %d, want 1 for deterministic failure", calls)
	}
}

func TestRetryWithBackoff_Exhaustion(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		return errors.New("still down")
	}, classAlways(ErrorClassServer))

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Calls = %d, want MaxAttempts", calls)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.InitialBackoff = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := retryWithBackoff(ctx, cfg, func() error {
		calls++
		return errors.New("transient")
	}, classAlways(ErrorClassNetwork))

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Calls = %d, want 1 before cancellation", calls)
	}
}

func TestRetryWithBackoff_BackoffGrows(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    40 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	start := time.Now()
	retryWithBackoff(context.Background(), cfg, func() error {
		return errors.New("transient")
	}, classAlways(ErrorClassServer))
	elapsed := time.Since(start)

	// Two sleeps: ~40ms and ~80ms, each with -20% jitter at worst.
	if elapsed < 90*time.Millisecond {
		t.Errorf("Elapsed = %v, want at least the two backoff intervals", elapsed)
	}
}
