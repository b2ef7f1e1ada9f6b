// Package circuitbreaker provides a circuit breaker for protecting calls to
// the external clinic API.
package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before probing in half-open
	OpenTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes needed to close
	SuccessThreshold int
}

// DefaultConfig returns the thresholds used for the clinic upstream
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Operation is a guarded call against the upstream
type Operation func(ctx context.Context) (interface{}, error)

// Fallback produces a substitute result when the circuit is failing fast
type Fallback func() (interface{}, error)

// UnavailableResult is the built-in fail-fast payload returned when no
// fallback is supplied.
type UnavailableResult struct {
	Error             string `json:"error"`
	State             string `json:"circuitBreakerState"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// CircuitBreaker implements the circuit breaker pattern.
//
// A fallback passed to Execute is only consulted on the fail-fast branch:
// when the operation itself runs and returns an error, that error is
// propagated so the caller can apply its own recovery tiers.
type CircuitBreaker struct {
	name   string
	config Config
	state  State

	failures    int
	successes   int
	lastFailure time.Time

	now func() time.Time

	mu sync.Mutex

	// Hook for monitoring and logging
	onStateChange func(name string, from, to State)
}

// New creates a new circuit breaker with the given name and configuration
func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnStateChange sets a callback invoked whenever the breaker changes state
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs the operation under breaker control.
//
// When the circuit is open and the open timeout has not elapsed, the
// operation is not called: the fallback result is returned if one was
// supplied, otherwise an UnavailableResult carrying the state and a
// retry-after hint. Errors returned by the operation itself are propagated
// unchanged after the failure is recorded.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation Operation, fallback Fallback) (interface{}, error) {
	allowed, retryAfter := cb.allowRequest()
	if !allowed {
		if fallback != nil {
			return fallback()
		}
		return UnavailableResult{
			Error:             "service temporarily unavailable",
			State:             cb.State().String(),
			RetryAfterSeconds: retryAfter,
		}, nil
	}

	result, err := operation(ctx)
	if err != nil {
		cb.onFailure()
		return nil, err
	}

	cb.onSuccess()
	return result, nil
}

// allowRequest determines if a request may go through. For rejections it
// also reports the seconds until the next half-open probe.
func (cb *CircuitBreaker) allowRequest() (bool, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true, 0
	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailure)
		if elapsed > cb.config.OpenTimeout {
			cb.setState(StateHalfOpen)
			cb.successes = 0
			return true, 0
		}
		retryAfter := int((cb.config.OpenTimeout - elapsed).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	return false, int(cb.config.OpenTimeout.Seconds())
}

// onSuccess handles a successful request
func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.successes = 0
		}
	}
}

// onFailure handles a failed request
func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A probe failure sends the circuit straight back to open
		cb.setState(StateOpen)
		cb.successes = 0
	}
}

// Reset forces the breaker back to closed with all counters zeroed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
	cb.setState(StateClosed)
}

// setState changes the state and calls the state change hook. Caller must
// hold mu.
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		// Call the hook without holding the lock to avoid deadlock
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot for the stats endpoint
type Stats struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns current breaker statistics
func (cb *CircuitBreaker) Snapshot() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := Stats{
		Name:      cb.name,
		State:     cb.state.String(),
		Failures:  cb.failures,
		Successes: cb.successes,
	}
	if !cb.lastFailure.IsZero() {
		lastFailure := cb.lastFailure
		stats.LastFailure = &lastFailure
	}
	return stats
}
