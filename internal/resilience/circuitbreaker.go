// Package resilience protects the submission path (STT backends, LLM
// interpreters and the remote command service) from backends that keep
// failing.
//
// [CircuitBreaker] stops calling a backend after consecutive failures and
// probes it again once a cool-down has passed. [FallbackGroup] puts several
// backends of one kind behind per-entry breakers and fails over in order.
//
// A cancelled or timed-out context is never held against a backend.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed.
	StateOpen
	// StateHalfOpen lets a few probe calls through. Enough successes close
	// the breaker; one failure opens it again.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the time an open breaker waits before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes admitted and the
	// number of successful probes needed to close. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. The
	// default counts every error except context cancellation and deadline.
	IsFailure func(error) bool

	// OnStateChange is called after each transition, outside the breaker's
	// lock.
	OnStateChange func(name string, from, to State)

	// Now replaces [time.Now].
	Now func() time.Time
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State State
	// ConsecutiveFailures counts failures since the last success while
	// closed.
	ConsecutiveFailures int
	// Trips counts how often the breaker has opened.
	Trips int
	// OpenedAt is when the breaker last opened. Zero if it never has.
	OpenedAt time.Time
}

// CircuitBreaker is a three-state circuit breaker. It is safe for concurrent
// use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	successes int
	trips     int
	openedAt  time.Time
}

// transition is a state change waiting to be reported.
type transition struct{ from, to State }

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// countsAsFailure is the default failure classifier.
func countsAsFailure(err error) bool {
	return err != nil && !isContextErr(err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open or its probe budget is spent,
// in which case it returns [ErrCircuitOpen]. The error from fn is returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	var change *transition
	cb.mu.Lock()
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		change = cb.moveLocked(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle accounts for the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	var change *transition
	cb.mu.Lock()
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	failed := err != nil && cb.cfg.IsFailure(err)
	if probe {
		// Another probe may already have decided this window.
		if cb.state != StateHalfOpen {
			return
		}
		switch {
		case failed:
			change = cb.tripLocked()
		case err != nil:
			cb.probes--
		default:
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenMax {
				change = cb.moveLocked(StateClosed)
			}
		}
		return
	}

	if cb.state != StateClosed {
		return
	}
	switch {
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			change = cb.tripLocked()
		}
	case err == nil:
		cb.failures = 0
	}
}

// tripLocked opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) tripLocked() *transition {
	failures := cb.failures
	cb.openedAt = cb.cfg.Now()
	cb.trips++
	change := cb.moveLocked(StateOpen)
	slog.Warn("circuit breaker opened",
		"name", cb.cfg.Name,
		"from", change.from,
		"consecutive_failures", failures,
		"retry_in", cb.cfg.ResetTimeout,
	)
	return change
}

// moveLocked switches state and clears the per-state counters. It returns
// nil when the state does not change. Must be called with cb.mu held.
func (cb *CircuitBreaker) moveLocked(next State) *transition {
	if cb.state == next {
		return nil
	}
	change := &transition{from: cb.state, to: next}
	cb.state = next
	cb.failures = 0
	cb.probes = 0
	cb.successes = 0
	if next != StateOpen {
		slog.Info("circuit breaker state changed", "name", cb.cfg.Name, "from", change.from, "to", next)
	}
	return change
}

func (cb *CircuitBreaker) notify(change *transition) {
	if change != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, change.from, change.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	return cb.Stats().State
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		Trips:               cb.trips,
		OpenedAt:            cb.openedAt,
	}
	if st.State == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		st.State = StateHalfOpen
	}
	return st
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.moveLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(change)
}
