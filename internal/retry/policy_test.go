package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"doppel/internal/retry"
	"doppel/internal/services"
)

func transientErr(msg string) error {
	return services.Wrap(services.ErrTransient, "avatar", "submit", msg, nil)
}

func TestExecuteStopsAfterSuccess(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return transientErr("try again")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, expected 2", calls)
	}
}

func TestExecuteExhaustsAttemptBudget(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	retries := 0
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		retries++
		if attempt != retries {
			t.Fatalf("OnRetry attempt = %d, expected %d", attempt, retries)
		}
		if err == nil {
			t.Fatal("OnRetry err must be non-nil")
		}
	}

	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return transientErr("still down")
	})
	if err == nil {
		t.Fatal("expected exhausted retries to return the last error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, expected 3 total attempts", calls)
	}
	if retries != 2 {
		t.Fatalf("retries = %d, expected sleeps between attempts only", retries)
	}
}

func TestExecuteFatalShortCircuits(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return services.Wrap(services.ErrFatal, "avatar", "submit", "rejected", nil)
	})
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, expected no retry after fatal failure", calls)
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(context.Context) error {
		calls++
		return transientErr("slow outage")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, expected cancellation during first backoff", calls)
	}
}

func TestDelayGrowthIsCapped(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	var delays []time.Duration
	policy.OnRetry = func(_ int, delay time.Duration, _ error) {
		delays = append(delays, delay)
	}

	_ = policy.Execute(context.Background(), func(context.Context) error {
		return transientErr("down")
	})

	expected := []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}
	if len(delays) != len(expected) {
		t.Fatalf("observed %d delays, expected %d", len(delays), len(expected))
	}
	for i, delay := range delays {
		if delay != expected[i] {
			t.Fatalf("delay[%d] = %s, expected %s", i, delay, expected[i])
		}
	}
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	policy := retry.Policy{}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return services.Wrap(services.ErrTransient, "voice", "submit", "down", nil)
	})
	if err == nil {
		t.Fatal("expected error from single attempt")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, expected exactly one attempt", calls)
	}
}
