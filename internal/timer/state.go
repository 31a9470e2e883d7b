package timer

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a [Timer].
type State int

const (
	StateCreated State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateCancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(b []byte) error {
	for st := StateCreated; st <= StateCancelled; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("timer: unknown state %q", b)
}

// Active reports whether the timer is running or paused.
func (s State) Active() bool { return s == StateRunning || s == StatePaused }

// Finished reports whether the timer reached a terminal state.
func (s State) Finished() bool { return s == StateCompleted || s == StateCancelled }

// Action is a command-driven input to the state machine. Completion is not an
// action: it happens only when a tick drains the remaining time.
type Action int

const (
	ActionStart Action = iota + 1
	ActionPause
	ActionResume
	ActionStop
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	case ActionStop:
		return "stop"
	case ActionReset:
		return "reset"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ErrInvalidTransition is wrapped by every [*TransitionError].
var ErrInvalidTransition = errors.New("timer: invalid transition")

// TransitionError reports an action that is not allowed from the timer's
// current state. The timer is left unchanged.
type TransitionError struct {
	TimerID string
	From    State
	Action  Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("timer: cannot %s timer %s while %s", e.Action, e.TimerID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type edge struct {
	from   State
	action Action
}

// transitions is the complete table; anything missing is invalid. Reset is
// accepted from every state.
var transitions = map[edge]State{
	{StateCreated, ActionStart}:   StateRunning,
	{StateRunning, ActionPause}:   StatePaused,
	{StatePaused, ActionResume}:   StateRunning,
	{StatePaused, ActionStart}:    StateRunning,
	{StateRunning, ActionStop}:    StateCancelled,
	{StatePaused, ActionStop}:     StateCancelled,
	{StateCreated, ActionReset}:   StateCreated,
	{StateRunning, ActionReset}:   StateCreated,
	{StatePaused, ActionReset}:    StateCreated,
	{StateCompleted, ActionReset}: StateCreated,
	{StateCancelled, ActionReset}: StateCreated,
}

// Next returns the state reached by applying a from s, or false when the
// transition is not allowed.
func Next(s State, a Action) (State, bool) {
	to, ok := transitions[edge{s, a}]
	return to, ok
}

// Allows reports whether a is a valid action from s.
func Allows(s State, a Action) bool {
	_, ok := transitions[edge{s, a}]
	return ok
}
