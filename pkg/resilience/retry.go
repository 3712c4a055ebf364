package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tokotalk/tokotalk/pkg/config"
)

// RetryPolicy controls exponential-with-jitter backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	// RetryIf decides whether an error is worth another attempt.
	// Nil defaults to IsTransient.
	RetryIf func(error) bool
}

// DefaultRetryPolicy mirrors the node-level LLM retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryPolicyFor builds the node-level policy from the process LLM
// defaults. Unset fields keep the DefaultRetryPolicy values.
func RetryPolicyFor(cfg config.LLMConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryInitial > 0 {
		p.InitialDelay = cfg.RetryInitial
	}
	if cfg.RetryMax > 0 {
		p.MaxDelay = cfg.RetryMax
	}
	if cfg.RetryMultiplier > 1 {
		p.Multiplier = cfg.RetryMultiplier
	}
	return p
}

// Retry runs fn up to MaxAttempts times, backing off between attempts.
// Non-retryable errors bubble immediately; exhaustion returns
// *BackoffExhausted wrapping the last error.
func (p RetryPolicy) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0 // attempts are the bound, not wall time
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryIf(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := bo.NextBackOff()
		slog.Warn("Retryable failure, backing off",
			"operation", op, "attempt", attempt, "wait", wait, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return &BackoffExhausted{Attempts: attempts, LastErr: lastErr}
}
