package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxtimer/internal/journal"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultRecent       = 20
	maxBodyBytes        = 64 << 10
)

// Option configures a [Server].
type Option func(*Server)

// WithJournal enables GET /timers/{id}/history.
func WithJournal(h HistoryReader) Option {
	return func(s *Server) { s.journal = h }
}

// WithRecent enables GET /utterances/recent.
func WithRecent(r RecentReader) Option {
	return func(s *Server) { s.recent = r }
}

// WithAllowedOrigins sets the host patterns accepted for cross-origin
// websocket connections. Same-origin requests are always accepted.
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithWriteTimeout bounds a single websocket write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Server serves the timer HTTP API and the websocket event feed.
type Server struct {
	timers       Timers
	ingest       Submitter
	bus          Subscriber
	journal      HistoryReader
	recent       RecentReader
	origins      []string
	now          func() time.Time
	writeTimeout time.Duration
}

// NewServer returns a Server reading timers from t, submitting utterances to
// in and streaming events from bus.
func NewServer(t Timers, in Submitter, bus Subscriber, opts ...Option) *Server {
	s := &Server{
		timers:       t,
		ingest:       in,
		bus:          bus,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /utterances", s.handleSubmit)
	mux.HandleFunc("GET /utterances/recent", s.handleRecent)
	mux.HandleFunc("GET /timers", s.handleList)
	mux.HandleFunc("DELETE /timers/{id}", s.handleRemove)
	mux.HandleFunc("GET /timers/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /events", s.handleEvents)
}

// Handler returns a mux serving only the feed routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type submitRequest struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitResponse is the body returned by POST /utterances. Message carries a
// prompt for the speaker when a command could not be applied.
type SubmitResponse struct {
	transcript.Outcome
	Message string `json:"message,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	out, err := s.ingest.Submit(r.Context(), transcript.Utterance{ID: req.ID, Text: req.Text, Timestamp: req.Timestamp})
	switch {
	case errors.Is(err, orchestrator.ErrUnavailable):
		http.Error(w, "timer service unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		observe.Logger(r.Context()).Debug("feed: submit abandoned", "err", err)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{Outcome: out, Message: promptFor(out)})
}

// promptFor returns what the speaker should hear when nothing was applied.
func promptFor(out transcript.Outcome) string {
	switch {
	case errors.Is(out.Err, orchestrator.ErrAmbiguousTarget):
		return "please specify which timer"
	case errors.Is(out.Err, orchestrator.ErrNoTarget), errors.Is(out.Err, orchestrator.ErrTimerNotFound):
		return "there is no such timer"
	case out.Status == transcript.StatusAmbiguous:
		return "sorry, I did not understand which command you meant"
	}
	return ""
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", defaultRecent)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := []transcript.Outcome{}
	if s.recent != nil {
		out = append(out, s.recent.Recent(n)...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views())
}

func (s *Server) views() []TimerView {
	now := s.now()
	snaps := s.timers.List()
	out := make([]TimerView, len(snaps))
	for i, sn := range snaps {
		out[i] = ViewOf(sn, now)
	}
	return out
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := s.timers.Remove(id)
	switch {
	case errors.Is(err, orchestrator.ErrTimerNotFound):
		http.Error(w, "timer not found", http.StatusNotFound)
		return
	case errors.Is(err, orchestrator.ErrUnavailable):
		http.Error(w, "timer service unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, "failed to remove timer: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal not configured", http.StatusNotImplemented)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs, err := s.journal.History(r.Context(), r.PathValue("id"), limit)
	switch {
	case errors.Is(err, journal.ErrUnsupported):
		http.Error(w, "journal has no readable sink", http.StatusNotImplemented)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("feed: history query failed", "timer_id", r.PathValue("id"), "err", err)
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCtx derives a context bounded by the write timeout.
func (s *Server) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.writeTimeout)
}
