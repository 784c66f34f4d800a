package resilience

import (
	"context"
	"time"
)

// Settings configures retry behavior.
type Settings struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles after
	// every failure up to MaxBackoff.
	Backoff time.Duration
	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration
	// Retryable reports whether an error is worth retrying. A nil
	// predicate retries every error.
	Retryable func(error) bool
	// OnRetry is called before each re-attempt with the attempt number
	// (starting at 2) and the error that caused it.
	OnRetry func(attempt int, err error)
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, a
// non-retryable error occurs, or ctx is canceled. It returns the last error.
func Retry(ctx context.Context, settings Settings, fn func(ctx context.Context) error) error {
	attempts := settings.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := settings.Backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if settings.OnRetry != nil {
				settings.OnRetry(attempt, err)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if settings.MaxBackoff > 0 && delay > settings.MaxBackoff {
				delay = settings.MaxBackoff
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if settings.Retryable != nil && !settings.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
