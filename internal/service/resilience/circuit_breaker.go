package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           // weighted failures that open the circuit
	ResetTimeout     time.Duration // time spent open before probing
	SuccessThreshold int           // consecutive half-open successes that close it
}

// DefaultBreakerConfig returns the stock thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastFailureAt    time.Time `json:"last_failure_at,omitempty"`
	TimeUntilResetMs int64     `json:"time_until_reset_ms"`
}

// StateChangeFunc is notified after every state transition.
type StateChangeFunc func(name string, from, to State)

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChange registers a transition callback.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker isolates a single external dependency.
//
// Failures while closed accumulate; a success while closed decays the
// failure count by one instead of clearing it. Open resolves to half-open
// lazily on the first query after ResetTimeout has passed since the last
// failure. A single failure in half-open reopens the circuit.
type CircuitBreaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the dependency name guarded by this breaker.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State resolves and returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	st, tr := cb.resolveLocked()
	cb.mu.Unlock()
	cb.notify(tr)
	return st
}

// CanExecute is false only while the circuit resolves to open.
func (cb *CircuitBreaker) CanExecute() bool {
	return cb.State() != StateOpen
}

// RecordSuccess accounts for a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	_, resolved := cb.resolveLocked()
	var tr *transition
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			tr = cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
	cb.mu.Unlock()
	cb.notify(resolved, tr)
}

// RecordFailure accounts for a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	_, resolved := cb.resolveLocked()
	var tr *transition
	now := cb.now()
	switch cb.state {
	case StateHalfOpen:
		tr = cb.transitionLocked(StateOpen)
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			tr = cb.transitionLocked(StateOpen)
		}
	}
	cb.lastFailure = now
	cb.mu.Unlock()
	cb.notify(resolved, tr)
}

// Execute runs op when the circuit allows it and records the outcome.
// A rejected call returns *CircuitOpenError. A call aborted because ctx was
// canceled, or refused locally (see LocalRejection), is neither a success
// nor a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.CanExecute() {
		return &CircuitOpenError{Source: cb.name, RetryAfter: cb.timeUntilReset()}
	}
	err := op(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	case IsLocalRejection(err):
	default:
		cb.RecordFailure()
	}
	return err
}

// Stats returns counts and the remaining cooldown.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	_, tr := cb.resolveLocked()
	stats := BreakerStats{
		Name:             cb.name,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailureAt:    cb.lastFailure,
		TimeUntilResetMs: cb.remainingLocked().Milliseconds(),
	}
	cb.mu.Unlock()
	cb.notify(tr)
	return stats
}

// Reset forces the breaker closed with zero counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.transitionLocked(StateClosed)
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()
	cb.notify(tr)
}

func (cb *CircuitBreaker) timeUntilReset() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.remainingLocked()
}

func (cb *CircuitBreaker) remainingLocked() time.Duration {
	if cb.state != StateOpen {
		return 0
	}
	left := cb.cfg.ResetTimeout - cb.now().Sub(cb.lastFailure)
	if left < 0 {
		return 0
	}
	return left
}

type transition struct {
	from, to State
}

// resolveLocked performs the lazy open -> half-open move.
func (cb *CircuitBreaker) resolveLocked() (State, *transition) {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen, cb.transitionLocked(StateHalfOpen)
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) transitionLocked(to State) *transition {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if from == to {
		return nil
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(trs ...*transition) {
	if cb.onChange == nil {
		return
	}
	for _, tr := range trs {
		if tr != nil {
			cb.onChange(cb.name, tr.from, tr.to)
		}
	}
}
