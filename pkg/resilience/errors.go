// Package resilience wraps remote calls in the failure-handling layers the
// agent runtime depends on: timeouts, exponential-backoff retries, and
// per-configuration circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// TimeoutError marks an operation that exceeded its deadline. It carries
// the operation name for logs and circuit accounting.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out", e.Op)
}

// Is lets errors.Is treat a TimeoutError as a context deadline.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// CircuitOpenError is raised when a call is rejected by an open circuit.
type CircuitOpenError struct {
	Name    string
	LastErr error
}

func (e *CircuitOpenError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("circuit %s is open (last error: %v)", e.Name, e.LastErr)
	}
	return fmt.Sprintf("circuit %s is open", e.Name)
}

func (e *CircuitOpenError) Unwrap() error { return e.LastErr }

// BackoffExhausted is returned when all retry attempts failed.
type BackoffExhausted struct {
	Attempts int
	LastErr  error
}

func (e *BackoffExhausted) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *BackoffExhausted) Unwrap() error { return e.LastErr }

// IsTransient reports whether err belongs to the default retryable set:
// timeouts and connection-level failures. Application errors, parse
// errors, and open circuits are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var openErr *CircuitOpenError
	if errors.As(err, &openErr) {
		return false
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
