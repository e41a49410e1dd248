package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryPolicy(attempts int) retryPolicy {
	return retryPolicy{
		maxAttempts:    attempts,
		initialBackoff: time.Millisecond,
		maxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastRetryPolicy(3).do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastRetryPolicy(3).do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &APIError{Kind: ErrorKindServer, StatusCode: 500}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnPermanentFailure(t *testing.T) {
	calls := 0
	permanent := &APIError{Kind: ErrorKindValidation, StatusCode: 422}
	err := fastRetryPolicy(3).do(context.Background(), func() error {
		calls++
		return permanent
	})

	assert.Equal(t, 1, calls)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorKindValidation, apiErr.Kind)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetryPolicy(3).do(context.Background(), func() error {
		calls++
		return &APIError{Kind: ErrorKindNetwork, Message: "connection reset"}
	})

	assert.Equal(t, 3, calls)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorKindNetwork, apiErr.Kind)
}

func TestRetryPolicy_ZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	err := retryPolicy{}.do(context.Background(), func() error {
		calls++
		return errors.New("plain failure")
	})

	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

func TestRetryPolicy_RetryAfterOverridesBackoff(t *testing.T) {
	policy := fastRetryPolicy(2)
	calls := 0

	start := time.Now()
	err := policy.do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &APIError{Kind: ErrorKindRateLimited, StatusCode: 429, RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// The computed backoff tops out at 5ms; only the Retry-After wait
	// explains an elapsed time past 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRetryPolicy_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := fastRetryPolicy(3).do(ctx, func() error {
		calls++
		return &APIError{Kind: ErrorKindRateLimited, RetryAfter: time.Hour}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := retryPolicy{
		maxAttempts:    3,
		initialBackoff: time.Second,
		maxBackoff:     4 * time.Second,
	}

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{"first retry", 0, 500 * time.Millisecond, time.Second},
		{"second retry doubles", 1, time.Second, 2 * time.Second},
		{"capped at max", 10, 2 * time.Second, 4 * time.Second},
		{"deep attempt avoids overflow", 40, 2 * time.Second, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Jitter scales the delay by [0.5, 1.0); sample a few times.
			for i := 0; i < 20; i++ {
				d := policy.backoff(tt.attempt)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestRetryPolicy_DelayFor(t *testing.T) {
	policy := retryPolicy{
		maxAttempts:    3,
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
	}

	t.Run("rate limited uses retry-after", func(t *testing.T) {
		err := &APIError{Kind: ErrorKindRateLimited, RetryAfter: 42 * time.Second}
		assert.Equal(t, 42*time.Second, policy.delayFor(err, 0))
	})

	t.Run("rate limited without retry-after uses backoff", func(t *testing.T) {
		err := &APIError{Kind: ErrorKindRateLimited}
		d := policy.delayFor(err, 0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	})

	t.Run("server error uses backoff", func(t *testing.T) {
		err := &APIError{Kind: ErrorKindServer, RetryAfter: 99 * time.Second}
		d := policy.delayFor(err, 0)
		assert.LessOrEqual(t, d, time.Second)
	})
}
