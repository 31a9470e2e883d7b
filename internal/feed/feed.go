// Package feed exposes timers to user interfaces over HTTP.
//
// Routes registered by [Server.Register]:
//
//	POST   /utterances           submit a transcribed utterance
//	GET    /utterances/recent    outcomes of recent utterances
//	GET    /timers               current timer snapshots
//	DELETE /timers/{id}          remove a timer
//	GET    /timers/{id}/history  journaled events of one timer
//	GET    /events               websocket stream of timer events
//
// A websocket client first receives a "snapshot" message with every timer,
// followed by one "event" message per state change.
package feed

import (
	"context"
	"time"

	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/journal"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// Timers is the read and remove surface of the orchestrator.
type Timers interface {
	List() []timer.Snapshot
	Remove(id string) (timer.Event, error)
}

// Submitter ingests utterances. [*transcript.Ingestor] implements it.
type Submitter interface {
	Submit(ctx context.Context, u transcript.Utterance) (transcript.Outcome, error)
}

// Subscriber hands out event subscriptions. [*eventbus.Bus] implements it.
type Subscriber interface {
	Subscribe() *eventbus.Subscription
}

// HistoryReader answers per-timer history queries. [*journal.Recorder]
// implements it.
type HistoryReader interface {
	History(ctx context.Context, timerID string, limit int) ([]journal.Record, error)
}

// RecentReader lists recent utterance outcomes. [*transcript.History]
// implements it.
type RecentReader interface {
	Recent(n int) []transcript.Outcome
}

// TimerView is the JSON shape of a timer.
type TimerView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	State       string    `json:"state"`
	DurationMS  int64     `json:"duration_ms"`
	RemainingMS int64     `json:"remaining_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ViewOf converts a snapshot, estimating the remaining time at now.
func ViewOf(s timer.Snapshot, now time.Time) TimerView {
	return TimerView{
		ID:          s.ID,
		Name:        s.Name,
		State:       s.State.String(),
		DurationMS:  s.Duration.Milliseconds(),
		RemainingMS: s.RemainingAt(now).Milliseconds(),
		CreatedAt:   s.CreatedAt,
	}
}

// Message types sent over the websocket.
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
)

// Message is one websocket frame.
type Message struct {
	Type   string       `json:"type"`
	Timers []TimerView  `json:"timers,omitempty"`
	Event  *timer.Event `json:"event,omitempty"`
}
