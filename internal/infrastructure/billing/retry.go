package billing

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/reckon/engine/internal/domain/invoice"
)

// retryPolicy bounds repeated attempts against the billing API
type retryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// do runs op up to maxAttempts times. Only transient failures are
// retried; everything else surfaces immediately. Between attempts the
// policy sleeps for the computed backoff, or for the server's
// Retry-After on a rate-limited failure, and aborts the wait when the
// context is done.
func (p retryPolicy) do(ctx context.Context, op func() error) error {
	attempts := p.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, p.delayFor(lastErr, attempt-1)); err != nil {
				return err
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !invoice.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// delayFor picks the wait before the next attempt. attempt is the
// zero-based index of the failure being retried.
func (p retryPolicy) delayFor(err error, attempt int) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == ErrorKindRateLimited && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return p.backoff(attempt)
}

// backoff returns the delay before the given retry: the initial delay
// doubled per attempt, capped at the maximum, then scaled by a jitter
// multiplier in [0.5, 1.0) so separate runs do not retry in lockstep.
func (p retryPolicy) backoff(attempt int) time.Duration {
	var delay time.Duration
	if attempt > 30 {
		// The shift would overflow; the cap was reached long before.
		delay = p.maxBackoff
	} else {
		delay = p.initialBackoff * time.Duration(1<<uint(attempt))
		if delay > p.maxBackoff || delay <= 0 {
			delay = p.maxBackoff
		}
	}

	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// sleepContext sleeps for d or until the context is done
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
