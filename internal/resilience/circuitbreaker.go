// Package resilience guards calls to flaky backends such as the journal
// database.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a backend after repeated failures and probes it again once
// a cool-down passed. [FallbackGroup] tries several backends of the same kind
// in order, each behind its own breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults.
type CircuitBreakerConfig struct {
	// Name labels log messages and state-change notifications.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

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
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects the call, in which case it
// returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.allow()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err, probe)
	return err
}

// allow decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) allow() (probe, ok bool) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, false
		}
		change = cb.setLocked(StateHalfOpen)
		cb.probes, cb.probeSuccess = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return true, false
		}
		cb.probes++
		return true, true
	}
	return false, true
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if err == nil {
		if !probe {
			cb.failures = 0
			return
		}
		cb.probeSuccess++
		if cb.state == StateHalfOpen && cb.probeSuccess >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			change = cb.setLocked(StateClosed)
		}
		return
	}

	if probe {
		if cb.state == StateHalfOpen {
			cb.openedAt = cb.cfg.Now()
			change = cb.setLocked(StateOpen)
		}
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		change = cb.setLocked(StateOpen)
		slog.Warn("resilience: circuit opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures, "err", err)
	}
}

// setLocked switches state and returns the notification to run once the lock
// is released.
func (cb *CircuitBreaker) setLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	if to != StateOpen {
		slog.Info("resilience: circuit state changed", "name", cb.cfg.Name, "from", from, "to", to)
	}
	if cb.cfg.OnStateChange == nil {
		return nil
	}
	return func() { cb.cfg.OnStateChange(cb.cfg.Name, from, to) }
}

// State returns the current state. An open breaker whose timeout elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
	change := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	if change != nil {
		change()
	}
}
