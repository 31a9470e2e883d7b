// Package journal keeps an append-only audit trail of timer events.
//
// A [Recorder] follows the event bus and writes every event to each
// configured [Sink]: a JSON-lines file ([FileSink]) and/or a PostgreSQL table
// ([PostgresSink]). Sinks sit behind circuit breakers so an unreachable
// database does not stall or flood the recorder. The journal is never read
// back to restore timers; it only answers history queries.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxtimer/internal/timer"
)

// ErrUnsupported is returned by [Recorder.History] when no sink can answer
// history queries.
var ErrUnsupported = errors.New("journal: no sink supports history queries")

// Record is one journaled timer event.
type Record struct {
	TimerID     string    `json:"timer_id"`
	TimerName   string    `json:"timer_name,omitempty"`
	Previous    string    `json:"previous"`
	Current     string    `json:"current"`
	RemainingMS int64     `json:"remaining_ms"`
	Removed     bool      `json:"removed,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// FromEvent converts a timer event to a record.
func FromEvent(ev timer.Event) Record {
	return Record{
		TimerID:     ev.TimerID,
		TimerName:   ev.TimerName,
		Previous:    ev.Previous.String(),
		Current:     ev.Current.String(),
		RemainingMS: ev.Remaining.Milliseconds(),
		Removed:     ev.Removed,
		OccurredAt:  ev.Timestamp.UTC(),
	}
}

// Sink stores records. Implementations must be safe for concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write appends rec.
	Write(ctx context.Context, rec Record) error
}

// Reader answers history queries.
type Reader interface {
	// History returns up to limit of the most recent records for timerID,
	// oldest first. limit <= 0 means no limit.
	History(ctx context.Context, timerID string, limit int) ([]Record, error)
}
