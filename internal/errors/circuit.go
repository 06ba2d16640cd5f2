package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is the normal state where requests are allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen is when the circuit is tripped and requests are blocked.
	BreakerOpen
	// BreakerHalfOpen is when the circuit is testing if the service recovered.
	BreakerHalfOpen
)

// String returns a string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects the classification and embedding gateways from
// cascading failures by failing fast while the service is down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 failures, 30 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        BreakerClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState() != BreakerOpen
}

// RecordSuccess records a successful request and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = BreakerClosed
}

// RecordFailure records a failed request, opening the circuit once the
// failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
	}
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()
	if state == BreakerHalfOpen {
		// One probe request is allowed through.
		cb.state = BreakerHalfOpen
	}
	cb.mu.Unlock()

	if state == BreakerOpen {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		if state == BreakerHalfOpen {
			cb.mu.Lock()
			cb.state = BreakerOpen
			cb.lastFailure = time.Now()
			cb.mu.Unlock()
		} else {
			cb.RecordFailure()
		}
		return err
	}

	cb.RecordSuccess()
	return nil
}

// ExecuteWithFallback runs fn through the circuit breaker, calling fallback
// instead when the circuit is open or fn fails while half-open.
func ExecuteWithFallback[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || cb.State() == BreakerOpen {
			return fallback()
		}
		return result, err
	}
	return result, nil
}
