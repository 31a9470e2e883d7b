package transcript

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtimer/internal/detect"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
)

const defaultParallelism = 4

// Option configures an [Ingestor].
type Option func(*Ingestor)

// WithHistory records every outcome in h.
func WithHistory(h *History) Option {
	return func(in *Ingestor) { in.history = h }
}

// WithParallelism bounds how many utterances [Ingestor.Run] resolves at the
// same time. Default: 4.
func WithParallelism(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.parallelism = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

// Ingestor sequences utterances through a [Resolver] and an [Applier].
//
// Every utterance draws a ticket when it arrives. Resolution runs without any
// lock, so several utterances can be resolved in parallel, but each one waits
// for its predecessor before applying. Commands therefore reach the applier
// in arrival order.
type Ingestor struct {
	resolver    Resolver
	applier     Applier
	history     *History
	metrics     *observe.Metrics
	now         func() time.Time
	parallelism int

	mu   sync.Mutex
	tail chan struct{}
}

// NewIngestor returns an Ingestor that resolves with r and applies with a.
func NewIngestor(r Resolver, a Applier, opts ...Option) *Ingestor {
	in := &Ingestor{
		resolver:    r,
		applier:     a,
		now:         time.Now,
		parallelism: defaultParallelism,
	}
	for _, o := range opts {
		o(in)
	}
	if in.metrics == nil {
		in.metrics = observe.DefaultMetrics()
	}
	done := make(chan struct{})
	close(done)
	in.tail = done
	return in
}

// ticket reserves the next apply slot. prev is closed when the predecessor
// finished; the holder must close mine exactly once.
type ticket struct {
	prev <-chan struct{}
	mine chan struct{}
}

func (in *Ingestor) take() ticket {
	in.mu.Lock()
	defer in.mu.Unlock()
	t := ticket{prev: in.tail, mine: make(chan struct{})}
	in.tail = t.mine
	return t
}

// Submit ingests one utterance and returns its outcome. Missing IDs and
// timestamps are filled in.
//
// The returned error is non-nil only when ingestion cannot continue: the
// orchestrator is unavailable or ctx ended. Everything else, including
// "no command" and rejected commands, is reported in the outcome.
func (in *Ingestor) Submit(ctx context.Context, u Utterance) (Outcome, error) {
	return in.process(ctx, in.take(), u)
}

// Run ingests utterances from ch until ch is closed, ctx is done, or the
// orchestrator becomes unavailable. Only the latter is returned as an error.
func (in *Ingestor) Run(ctx context.Context, ch <-chan Utterance) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.parallelism)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case u, ok := <-ch:
			if !ok {
				break loop
			}
			t := in.take()
			g.Go(func() error {
				_, err := in.process(gctx, t, u)
				if errors.Is(err, orchestrator.ErrUnavailable) {
					return err
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func (in *Ingestor) process(ctx context.Context, t ticket, u Utterance) (Outcome, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = in.now()
	}
	u.Text = strings.TrimSpace(u.Text)
	log := observe.Logger(ctx).With("utterance_id", u.ID)

	cmd, rerr := in.resolver.Resolve(ctx, u.ID, u.Text)

	// Wait for the predecessor. If ctx ends first, hand the slot on once the
	// predecessor is done so later utterances are not stuck.
	select {
	case <-t.prev:
	case <-ctx.Done():
		go func() {
			<-t.prev
			close(t.mine)
		}()
		return in.finish(ctx, Outcome{Utterance: u, Status: StatusCancelled, Command: cmd, Err: ctx.Err()}), ctx.Err()
	}
	defer close(t.mine)

	out := Outcome{Utterance: u, Command: cmd}
	switch {
	case errors.Is(rerr, detect.ErrNoMatch):
		log.Debug("transcript: no command in utterance", "text", u.Text)
		out.Status, out.Err = StatusNoMatch, rerr
		return in.finish(ctx, out), nil
	case errors.Is(rerr, detect.ErrAmbiguousCommand):
		log.Info("transcript: ambiguous command ignored", "text", u.Text, "err", rerr)
		out.Status, out.Err = StatusAmbiguous, rerr
		return in.finish(ctx, out), nil
	case rerr != nil:
		out.Status, out.Err = StatusFailed, rerr
		if ctx.Err() != nil {
			out.Status = StatusCancelled
			return in.finish(ctx, out), ctx.Err()
		}
		log.Warn("transcript: command resolution failed", "err", rerr)
		return in.finish(ctx, out), nil
	}

	evs, aerr := in.applier.Apply(ctx, *cmd)
	out.Events = evs
	switch {
	case aerr == nil:
		out.Status = StatusApplied
	case errors.Is(aerr, orchestrator.ErrUnavailable):
		out.Status, out.Err = StatusUnavailable, aerr
		log.Error("transcript: orchestrator unavailable", "err", aerr)
		return in.finish(ctx, out), aerr
	default:
		out.Status, out.Err = StatusRejected, aerr
	}
	return in.finish(ctx, out), nil
}

func (in *Ingestor) finish(ctx context.Context, out Outcome) Outcome {
	out.ProcessedAt = in.now()
	if out.Err != nil {
		out.Error = out.Err.Error()
	}
	in.metrics.RecordUtterance(ctx, string(out.Status))
	if in.history != nil {
		in.history.Add(out)
	}
	slog.Debug("transcript: utterance processed", "utterance_id", out.Utterance.ID, "status", out.Status)
	return out
}
