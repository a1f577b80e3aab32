package retry

import (
	"context"
	"time"

	"doppel/internal/services"
)

// Policy sequences attempts of a fallible operation with exponential
// backoff. MaxAttempts counts every attempt including the first; the delay
// before attempt n+1 is min(BaseDelay * 2^(n-1), MaxDelay).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Classify decides whether a failure is worth another attempt.
	// Defaults to services.Classify.
	Classify func(error) services.Classification

	// OnRetry is invoked after a retryable failure, before sleeping.
	// attempt is the attempt that just failed, starting at 1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Execute runs op until it succeeds, exhausts the attempt budget, fails
// fatally, or the context ends. The last attempt's error is returned.
func (p Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = services.Classify
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if classify(lastErr) != services.ClassRetryable {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := p.delayFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) delayFor(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
