package util

import (
	"context"
	"time"
)

// backoffCap bounds the doubling delay so a generous attempt budget cannot
// park a caller for minutes between tries.
const backoffCap = 30 * time.Second

// Retry calls fn up to maxAttempts times, doubling the delay between
// attempts from baseDelay up to a 30s cap. It returns nil on the first
// successful call, or the last error if all attempts fail. Context
// cancellation is honored between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = nextDelay(delay)
		}
	}

	return err
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
