package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/metrics"
)

// CircuitState is the breaker's finite-state-machine state.
type CircuitState string

// Circuit states.
const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards one remote dependency keyed by
// <component>-<llm_config_name>. Transitions:
//
//	closed    → open      after FailureThreshold consecutive failures
//	open      → half_open after Timeout since the last failure
//	half_open → closed    after SuccessThreshold consecutive successes
//	half_open → open      on any failure
type CircuitBreaker struct {
	name    string
	cfg     config.BreakerConfig
	exclude func(error) bool

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastFailureErr  error

	totalCalls     int64
	totalFailures  int64
	totalRejected  int64
	totalSuccesses int64

	// now is the clock; swapped in tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker. exclude marks error types
// that must not count as failures (nil means every error counts).
func NewCircuitBreaker(name string, cfg config.BreakerConfig, exclude func(error) bool) *CircuitBreaker {
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		exclude: exclude,
		state:   StateClosed,
		now:     time.Now,
	}
}

// Name returns the circuit's registry key.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, applying the open→half_open timeout
// transition if due.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Call executes fn under circuit protection. The lock is held only for
// the admission check and the result accounting, never across fn itself.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.record(err)
	return err
}

// admit decides whether a call may proceed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == StateOpen {
		cb.totalRejected++
		return &CircuitOpenError{Name: cb.name, LastErr: cb.lastFailureErr}
	}
	cb.totalCalls++
	return nil
}

// maybeHalfOpen applies the timeout transition. Caller holds the lock.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.Timeout {
		cb.transition(StateHalfOpen)
		cb.successCount = 0
	}
}

// record accounts for the outcome of an admitted call.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}
	if cb.exclude != nil && cb.exclude(err) {
		// Excluded errors pass through without moving the state machine.
		return
	}
	cb.onFailure(err)
}

func (cb *CircuitBreaker) onSuccess() {
	cb.totalSuccesses++
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.lastFailureErr = nil
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	cb.totalFailures++
	cb.lastFailureTime = cb.now()
	cb.lastFailureErr = err

	switch cb.state {
	case StateHalfOpen:
		// A trial call failed: straight back to open.
		cb.transition(StateOpen)
		cb.successCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	slog.Warn("Circuit state change", "circuit", cb.name, "from", cb.state, "to", to)
	metrics.CircuitTransitions.WithLabelValues(cb.name, string(to)).Inc()
	cb.state = to
}

// Snapshot is a point-in-time view of a circuit for health endpoints.
type Snapshot struct {
	Name           string       `json:"name"`
	State          CircuitState `json:"state"`
	FailureCount   int          `json:"failure_count"`
	SuccessCount   int          `json:"success_count"`
	TotalCalls     int64        `json:"total_calls"`
	TotalFailures  int64        `json:"total_failures"`
	TotalRejected  int64        `json:"total_rejected"`
	TotalSuccesses int64        `json:"total_successes"`
	LastFailure    string       `json:"last_failure,omitempty"`
}

// Snapshot returns the circuit's counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	snap := Snapshot{
		Name:           cb.name,
		State:          cb.state,
		FailureCount:   cb.failureCount,
		SuccessCount:   cb.successCount,
		TotalCalls:     cb.totalCalls,
		TotalFailures:  cb.totalFailures,
		TotalRejected:  cb.totalRejected,
		TotalSuccesses: cb.totalSuccesses,
	}
	if cb.lastFailureErr != nil {
		snap.LastFailure = cb.lastFailureErr.Error()
	}
	return snap
}

// Registry holds the process's circuit breakers, created lazily per key.
// It is an explicit dependency of the agent runtime rather than a package
// global so tests and multi-runtime processes stay isolated.
type Registry struct {
	cfg     config.BreakerConfig
	exclude func(error) bool

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry applying cfg to every circuit.
func NewRegistry(cfg config.BreakerConfig, exclude func(error) bool) *Registry {
	return &Registry{
		cfg:      cfg,
		exclude:  exclude,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use. Safe for
// concurrent callers.
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.cfg, r.exclude)
		r.breakers[key] = cb
	}
	return cb
}

// Snapshots returns the state of every circuit, for the health endpoint.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}
