// Package command defines the timer command vocabulary shared by detectors,
// the coordinator, and the orchestrator.
//
// A [Result] is what a single detector believes an utterance means. A
// [Command] is the one resolved intent the coordinator hands to the
// orchestrator. Neither type is persisted.
package command

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a command family.
type Kind int

const (
	KindStart Kind = iota + 1
	KindPause
	KindResume
	KindStop
	KindReset
)

var kindNames = map[Kind]string{
	KindStart:  "start",
	KindPause:  "pause",
	KindResume: "resume",
	KindStop:   "stop",
	KindReset:  "reset",
}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// MarshalText implements [encoding.TextMarshaler].
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("command: invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindStart, KindPause, KindResume, KindStop, KindReset}
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("command: unknown kind %q", s)
}

// Target names the timer(s) a command addresses. The zero value means the
// speaker did not say which timer.
type Target struct {
	// Name is the spoken timer name, empty when unspecified.
	Name string `json:"name,omitempty"`

	// All is set for "everything" / "all timers".
	All bool `json:"all,omitempty"`
}

// IsZero reports whether the target is unspecified.
func (t Target) IsZero() bool { return t.Name == "" && !t.All }

// String renders the target for logs.
func (t Target) String() string {
	switch {
	case t.All:
		return "all"
	case t.Name != "":
		return t.Name
	default:
		return "unspecified"
	}
}

// Result is a single detector's interpretation of an utterance.
type Result struct {
	Kind   Kind
	Target Target

	// Duration is only meaningful for [KindStart]; zero when not spoken.
	Duration time.Duration

	// Confidence is in [0, 1].
	Confidence float64

	DetectorID string
}

// Command is the resolved intent for one utterance.
type Command struct {
	Kind              Kind          `json:"kind"`
	Target            Target        `json:"target"`
	Duration          time.Duration `json:"duration,omitempty"`
	Confidence        float64       `json:"confidence"`
	SourceUtteranceID string        `json:"source_utterance_id,omitempty"`
}

// FromResult builds a Command from the winning detector result.
func FromResult(r Result, utteranceID string) Command {
	cmd := Command{
		Kind:              r.Kind,
		Target:            r.Target,
		Confidence:        r.Confidence,
		SourceUtteranceID: utteranceID,
	}
	if r.Kind == KindStart {
		cmd.Duration = r.Duration
	}
	return cmd
}
