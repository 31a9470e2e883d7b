package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/resilience"
	"github.com/MrWong99/voxtimer/internal/timer"
)

const defaultWriteTimeout = 2 * time.Second

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithBreaker sets the circuit breaker template used for every sink. The Name
// field is replaced by the sink name.
func WithBreaker(cfg resilience.CircuitBreakerConfig) RecorderOption {
	return func(r *Recorder) { r.breaker = cfg }
}

// WithWriteTimeout bounds a single sink write. Default: 2s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type guardedSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

// SinkStatus reports the breaker state of one sink.
type SinkStatus struct {
	Name  string           `json:"name"`
	State resilience.State `json:"-"`
	Label string           `json:"state"`
}

// Recorder writes timer events to its sinks. Each sink has its own circuit
// breaker; a failing sink never blocks the others.
type Recorder struct {
	sinks   []guardedSink
	readers *resilience.FallbackGroup[Reader]
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	timeout time.Duration
}

// NewRecorder returns a Recorder for sinks. Sinks that also implement
// [Reader] answer [Recorder.History] in the order given.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{timeout: defaultWriteTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.breaker.OnStateChange == nil {
		r.breaker.OnStateChange = func(name string, from, to resilience.State) {
			slog.Warn("journal: sink breaker changed state", "sink", name, "from", from, "to", to)
		}
	}

	r.readers = resilience.NewFallbackGroup[Reader](r.breaker)
	for _, s := range sinks {
		cfg := r.breaker
		cfg.Name = s.Name()
		r.sinks = append(r.sinks, guardedSink{sink: s, breaker: resilience.NewCircuitBreaker(cfg)})
		if rd, ok := s.(Reader); ok {
			r.readers.Add(s.Name(), rd)
		}
	}
	return r
}

// Run records every event from sub until ctx is done or sub is closed and
// drained. It always returns nil; write failures are logged and counted.
func (r *Recorder) Run(ctx context.Context, sub *eventbus.Subscription) error {
	for ev := range sub.Events(ctx) {
		_ = r.Record(ctx, ev)
	}
	return nil
}

// Record writes ev to every sink and joins the errors.
func (r *Recorder) Record(ctx context.Context, ev timer.Event) error {
	rec := FromEvent(ev)
	var errs []error
	for _, g := range r.sinks {
		err := g.breaker.Execute(func() error {
			wctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			return g.sink.Write(wctx, rec)
		})
		switch {
		case err == nil:
			r.metrics.RecordJournalWrite(ctx, g.sink.Name(), "ok")
		case errors.Is(err, resilience.ErrCircuitOpen):
			r.metrics.RecordJournalWrite(ctx, g.sink.Name(), "skipped")
			errs = append(errs, fmt.Errorf("journal: %s: %w", g.sink.Name(), err))
		default:
			r.metrics.RecordJournalWrite(ctx, g.sink.Name(), "error")
			slog.Warn("journal: write failed", "sink", g.sink.Name(), "timer_id", rec.TimerID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// History returns recorded events for timerID from the first reader that
// answers.
func (r *Recorder) History(ctx context.Context, timerID string, limit int) ([]Record, error) {
	if r.readers.Len() == 0 {
		return nil, ErrUnsupported
	}
	return resilience.Query(r.readers, func(rd Reader) ([]Record, error) {
		return rd.History(ctx, timerID, limit)
	})
}

// Sinks returns the breaker state of every sink.
func (r *Recorder) Sinks() []SinkStatus {
	out := make([]SinkStatus, len(r.sinks))
	for i, g := range r.sinks {
		st := g.breaker.State()
		out[i] = SinkStatus{Name: g.sink.Name(), State: st, Label: st.String()}
	}
	return out
}

// Check reports an error when every sink has an open breaker. It is meant for
// readiness probes.
func (r *Recorder) Check(context.Context) error {
	if len(r.sinks) == 0 {
		return nil
	}
	for _, g := range r.sinks {
		if g.breaker.State() != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("journal: all sinks unavailable")
}
