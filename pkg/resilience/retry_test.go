package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), "llm_call", func(_ context.Context) error {
		calls++
		if calls == 1 {
			return &TimeoutError{Op: "llm_call"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryNonRetryableBubblesImmediately(t *testing.T) {
	permanent := errors.New("invalid api key")
	calls := 0
	err := fastPolicy().Retry(context.Background(), "llm_call", func(_ context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
}

func TestRetryExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), "llm_call", func(_ context.Context) error {
		calls++
		return &TimeoutError{Op: "llm_call"}
	})
	var exhausted *BackoffExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, exhausted.LastErr, context.DeadlineExceeded)
}

func TestRetryCircuitOpenNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), "llm_call", func(_ context.Context) error {
		calls++
		return &CircuitOpenError{Name: "main-default"}
	})
	var openErr *CircuitOpenError
	assert.ErrorAs(t, err, &openErr)
	assert.Equal(t, 1, calls, "open circuit makes retries pointless")
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := fastPolicy()
	policy.InitialDelay = time.Hour // force the wait branch
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Retry(ctx, "llm_call", func(_ context.Context) error {
		calls++
		return &TimeoutError{Op: "llm_call"}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelaysNonDecreasingAndCapped(t *testing.T) {
	// Retry delegates scheduling to cenkalti/backoff; verify the policy we
	// feed it yields non-decreasing, capped base delays.
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
	delay := p.InitialDelay
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		assert.GreaterOrEqual(t, delay, prev)
		assert.LessOrEqual(t, delay, p.MaxDelay)
		prev = delay
		next := time.Duration(float64(delay) * p.Multiplier)
		if next > p.MaxDelay {
			next = p.MaxDelay
		}
		delay = next
	}
}

func TestWithTimeoutReturnsTimeoutError(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, "llm_call",
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "llm_call", timeoutErr.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutPassesThroughResult(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, "llm_call",
		func(_ context.Context) (string, error) {
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TimeoutError{Op: "x"}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&CircuitOpenError{Name: "x"}))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.False(t, IsTransient(nil))
}
