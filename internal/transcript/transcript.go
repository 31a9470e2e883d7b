// Package transcript ingests finalised utterances from a speech-to-text
// stream and drives them through command detection and the orchestrator.
//
// Detection for different utterances may run concurrently, but commands are
// applied strictly in arrival order. The outcome of every utterance is kept in
// a bounded [History] for inspection.
package transcript

import (
	"context"
	"time"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/timer"
)

// Utterance is one finalised unit of transcribed speech.
type Utterance struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status summarises what happened to an utterance.
type Status string

const (
	// StatusApplied means a command was resolved and applied.
	StatusApplied Status = "applied"

	// StatusNoMatch means no detector recognised a command.
	StatusNoMatch Status = "no_match"

	// StatusAmbiguous means detectors disagreed and no command was chosen.
	StatusAmbiguous Status = "ambiguous_command"

	// StatusRejected means a command was resolved but the orchestrator
	// refused it (ambiguous or unknown target, invalid transition).
	StatusRejected Status = "rejected"

	// StatusCancelled means the caller gave up before the command was
	// applied.
	StatusCancelled Status = "cancelled"

	// StatusUnavailable means the orchestrator was closed.
	StatusUnavailable Status = "unavailable"

	// StatusFailed covers any other error.
	StatusFailed Status = "failed"
)

// Outcome is the result of ingesting one utterance.
type Outcome struct {
	Utterance Utterance        `json:"utterance"`
	Status    Status           `json:"status"`
	Command   *command.Command `json:"command,omitempty"`
	Events    []timer.Event    `json:"events,omitempty"`

	// Err is the error behind a status other than applied. Error carries its
	// text for serialisation.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// Resolver turns utterance text into at most one command.
// [*detect.Coordinator] implements it.
type Resolver interface {
	Resolve(ctx context.Context, utteranceID, text string) (*command.Command, error)
}

// Applier executes commands. [*orchestrator.Orchestrator] implements it.
type Applier interface {
	Apply(ctx context.Context, cmd command.Command) ([]timer.Event, error)
}
