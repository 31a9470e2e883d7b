// Package timer implements the countdown timer state machine and the
// registry that owns every live timer.
//
// A [*Timer] is mutable and must only be touched by the single writer that
// owns the [*Registry] (the orchestrator). Everybody else reads immutable
// [Snapshot] values via [Registry.List] and [Registry.Lookup].
package timer

import (
	"errors"
	"time"
)

// ErrInvalidDuration is returned when a timer is created with a non-positive
// duration.
var ErrInvalidDuration = errors.New("timer: duration must be positive")

// Timer is a single countdown.
//
// Invariant: 0 <= remaining <= duration.
type Timer struct {
	id       string
	name     string
	duration time.Duration

	remaining  time.Duration
	state      State
	createdAt  time.Time
	lastTickAt time.Time

	// finishedAt is set when the timer enters Completed or Cancelled.
	finishedAt time.Time
}

func newTimer(id, name string, d time.Duration, now time.Time) (*Timer, error) {
	if d <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Timer{
		id:         id,
		name:       name,
		duration:   d,
		remaining:  d,
		state:      StateCreated,
		createdAt:  now,
		lastTickAt: now,
	}, nil
}

func (t *Timer) ID() string               { return t.id }
func (t *Timer) Name() string             { return t.name }
func (t *Timer) Duration() time.Duration  { return t.duration }
func (t *Timer) Remaining() time.Duration { return t.remaining }
func (t *Timer) State() State             { return t.state }
func (t *Timer) FinishedAt() time.Time    { return t.finishedAt }

// Apply performs a command-driven transition at time now and returns the
// resulting event. Invalid transitions return a [*TransitionError] and leave
// the timer untouched.
func (t *Timer) Apply(a Action, now time.Time) (Event, error) {
	to, ok := Next(t.state, a)
	if !ok {
		return Event{}, &TransitionError{TimerID: t.id, From: t.state, Action: a}
	}

	from := t.state
	if from == StateRunning {
		t.settle(now)
	}

	switch a {
	case ActionReset:
		t.remaining = t.duration
		t.finishedAt = time.Time{}
	case ActionStop:
		t.finishedAt = now
	}
	t.state = to
	t.lastTickAt = now

	return t.event(from, now), nil
}

// Advance drains the elapsed wall-clock time of a running timer. When the
// remaining time reaches zero the timer completes and Advance returns the
// completion event with true. Non-running timers are not touched.
func (t *Timer) Advance(now time.Time) (Event, bool) {
	if t.state != StateRunning {
		return Event{}, false
	}
	t.settle(now)
	t.lastTickAt = now
	if t.remaining > 0 {
		return Event{}, false
	}
	t.state = StateCompleted
	t.finishedAt = now
	return t.event(StateRunning, now), true
}

// settle subtracts the time elapsed since the last tick, clamped at zero.
// A clock that moved backwards drains nothing.
func (t *Timer) settle(now time.Time) {
	elapsed := now.Sub(t.lastTickAt)
	if elapsed <= 0 {
		return
	}
	t.remaining -= elapsed
	if t.remaining < 0 {
		t.remaining = 0
	}
}

func (t *Timer) event(from State, now time.Time) Event {
	return Event{
		TimerID:   t.id,
		TimerName: t.name,
		Previous:  from,
		Current:   t.state,
		Remaining: t.remaining,
		Timestamp: now,
	}
}

// Announce returns an event that reports the timer's current state without a
// transition. It announces new, unstarted timers and removals.
func (t *Timer) Announce(now time.Time) Event {
	return t.event(t.state, now)
}

// Snapshot returns an immutable copy of the timer.
func (t *Timer) Snapshot() Snapshot {
	return Snapshot{
		ID:         t.id,
		Name:       t.name,
		Duration:   t.duration,
		Remaining:  t.remaining,
		State:      t.state,
		CreatedAt:  t.createdAt,
		LastTickAt: t.lastTickAt,
	}
}

// Snapshot is a read-only view of a timer at the moment it was taken.
type Snapshot struct {
	ID         string
	Name       string
	Duration   time.Duration
	Remaining  time.Duration
	State      State
	CreatedAt  time.Time
	LastTickAt time.Time
}

// RemainingAt estimates the remaining time at now, accounting for time that
// passed since the snapshot when the timer is running.
func (s Snapshot) RemainingAt(now time.Time) time.Duration {
	if s.State != StateRunning {
		return s.Remaining
	}
	rem := s.Remaining - now.Sub(s.LastTickAt)
	switch {
	case rem < 0:
		return 0
	case rem > s.Remaining:
		return s.Remaining
	}
	return rem
}

// Event describes one accepted state change. Exactly one event is emitted per
// transition. Removed marks the removal notification of a timer, in which
// case Previous and Current are both the final state. An event with Previous
// and Current both [StateCreated] and Removed unset announces a new timer
// that was not started.
type Event struct {
	TimerID   string        `json:"timer_id"`
	TimerName string        `json:"timer_name,omitempty"`
	Previous  State         `json:"previous"`
	Current   State         `json:"current"`
	Remaining time.Duration `json:"remaining"`
	Timestamp time.Time     `json:"timestamp"`
	Removed   bool          `json:"removed,omitempty"`
}
