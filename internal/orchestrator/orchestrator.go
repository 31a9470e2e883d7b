// Package orchestrator is the single writer of the timer registry. It turns
// resolved commands into timer transitions, drives the periodic tick, and
// publishes one event per accepted transition.
//
// All exported methods are safe for concurrent use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/phrase"
	"github.com/MrWong99/voxtimer/internal/timer"
)

var (
	// ErrAmbiguousTarget is returned when a command without a usable target
	// could apply to zero or several timers. Nothing is mutated.
	ErrAmbiguousTarget = errors.New("orchestrator: ambiguous target, please specify which timer")

	// ErrNoTarget is returned when a command addressed to all timers finds no
	// timer it can be applied to.
	ErrNoTarget = errors.New("orchestrator: no timer accepts the command")

	// ErrTimerNotFound is returned when a named or identified timer does not
	// exist.
	ErrTimerNotFound = errors.New("orchestrator: timer not found")

	// ErrUnavailable is returned after [Orchestrator.Close].
	ErrUnavailable = errors.New("orchestrator: unavailable")
)

const (
	// DefaultTickInterval is the period of the tick loop.
	DefaultTickInterval = 250 * time.Millisecond

	// DefaultDuration is used when a timer is started without a duration.
	DefaultDuration = 5 * time.Minute
)

// Publisher receives every emitted event. [*eventbus.Bus] implements it.
// Publish is called with the writer lock held and must not block.
type Publisher interface {
	Publish(ev timer.Event)
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithClock replaces time.Now. Tests use it to drive ticks deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTickInterval sets the tick loop period. Default: 250ms.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithDefaultDuration sets the duration of timers started without one.
// Default: 5 minutes.
func WithDefaultDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultDuration = d
		}
	}
}

// WithCompletedTTL removes completed and cancelled timers this long after
// they finished. Zero keeps them until removed explicitly.
func WithCompletedTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.completedTTL = d }
}

// WithResetPolicy sets the initial [ResetPolicy]. Default: [ResetSingle].
func WithResetPolicy(p ResetPolicy) Option {
	return func(o *Orchestrator) { o.policy.Store(int32(p)) }
}

// WithNameMatcher sets the matcher used when a spoken name has no exact
// match. Passing nil disables phonetic name resolution.
func WithNameMatcher(m *phrase.NameMatcher) Option {
	return func(o *Orchestrator) { o.names = m }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator applies commands to a [timer.Registry].
type Orchestrator struct {
	reg     *timer.Registry
	pub     Publisher
	names   *phrase.NameMatcher
	metrics *observe.Metrics
	now     func() time.Time

	tickInterval    time.Duration
	defaultDuration time.Duration
	completedTTL    time.Duration
	policy          atomic.Int32

	mu     sync.Mutex
	closed bool
	active int64

	done      chan struct{}
	closeOnce sync.Once
	lastTick  atomic.Int64
}

// New returns an Orchestrator owning reg. Events go to pub, which may be nil.
func New(reg *timer.Registry, pub Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:             reg,
		pub:             pub,
		names:           phrase.NewNameMatcher(),
		now:             time.Now,
		tickInterval:    DefaultTickInterval,
		defaultDuration: DefaultDuration,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.pub == nil {
		o.pub = discard{}
	}
	return o
}

type discard struct{}

func (discard) Publish(timer.Event) {}

// SetResetPolicy changes the policy for untargeted resets.
func (o *Orchestrator) SetResetPolicy(p ResetPolicy) {
	o.policy.Store(int32(p))
}

// ResetPolicy returns the current reset policy.
func (o *Orchestrator) ResetPolicy() ResetPolicy {
	return ResetPolicy(o.policy.Load())
}

// DefaultDuration returns the duration used for timers started without one.
func (o *Orchestrator) DefaultDuration() time.Duration { return o.defaultDuration }

// Apply executes cmd and returns the events it caused, in emission order.
// Running timers are advanced first, so a completion that was due is never
// reported after the command.
//
// On error no timer is mutated by the command and no command event is
// published. Typical errors wrap [ErrAmbiguousTarget], [ErrNoTarget],
// [ErrTimerNotFound] or [timer.ErrInvalidTransition]. After Close, Apply
// returns [ErrUnavailable].
func (o *Orchestrator) Apply(ctx context.Context, cmd command.Command) ([]timer.Event, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.apply", trace.WithAttributes(
		attribute.String("command.kind", cmd.Kind.String()),
		attribute.String("command.target", cmd.Target.String()),
		attribute.String("utterance.id", cmd.SourceUtteranceID),
	))
	start := time.Now()

	evs, err := o.apply(cmd)

	o.metrics.ApplyDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.RecordCommand(ctx, cmd.Kind.String(), statusOf(err))
	observe.EndSpan(span, err)

	log := observe.Logger(ctx).With("kind", cmd.Kind, "target", cmd.Target.String(), "utterance_id", cmd.SourceUtteranceID)
	switch {
	case err == nil:
		log.Info("orchestrator: command applied", "events", len(evs))
	case errors.Is(err, timer.ErrInvalidTransition):
		log.Warn("orchestrator: command rejected", "err", err)
	case errors.Is(err, ErrUnavailable):
		log.Debug("orchestrator: command after close", "err", err)
	default:
		log.Info("orchestrator: command not applied", "err", err)
	}
	return evs, err
}

func (o *Orchestrator) apply(cmd command.Command) ([]timer.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrUnavailable
	}

	now := o.now()
	due := o.advanceLocked(now)
	evs, err := o.dispatch(cmd, now)
	if err != nil {
		o.emitLocked(due)
		return nil, err
	}
	o.emitLocked(append(due, evs...))
	return evs, nil
}

func (o *Orchestrator) dispatch(cmd command.Command, now time.Time) ([]timer.Event, error) {
	switch cmd.Kind {
	case command.KindStart:
		return o.start(cmd, now)
	case command.KindPause:
		return o.transition(cmd.Target, timer.ActionPause, now)
	case command.KindResume:
		return o.transition(cmd.Target, timer.ActionResume, now)
	case command.KindStop:
		return o.transition(cmd.Target, timer.ActionStop, now)
	case command.KindReset:
		if cmd.Target.IsZero() {
			return o.resetUntargeted(now)
		}
		return o.transition(cmd.Target, timer.ActionReset, now)
	}
	return nil, fmt.Errorf("orchestrator: unsupported command kind %v", cmd.Kind)
}

// Tick advances every running timer, completes those that ran out, and
// removes finished timers whose TTL expired.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	now := o.now()
	evs := o.advanceLocked(now)
	evs = append(evs, o.expireLocked(now)...)
	o.emitLocked(evs)
	o.lastTick.Store(now.UnixNano())
}

// Run drives the tick loop until ctx is done or the orchestrator is closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	t := time.NewTicker(o.tickInterval)
	defer t.Stop()

	slog.Info("orchestrator: tick loop started", "interval", o.tickInterval)
	o.Tick()
	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator: tick loop stopped")
			return nil
		case <-o.done:
			return nil
		case <-t.C:
			o.Tick()
		}
	}
}

// LastTick returns the clock reading of the most recent tick, or the zero
// time when no tick ran yet.
func (o *Orchestrator) LastTick() time.Time {
	n := o.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// TickInterval returns the tick loop period.
func (o *Orchestrator) TickInterval() time.Duration { return o.tickInterval }

// Remove deletes the timer with the given ID regardless of its state and
// publishes a removal event.
func (o *Orchestrator) Remove(id string) (timer.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return timer.Event{}, ErrUnavailable
	}
	t, ok := o.reg.Get(id)
	if !ok {
		return timer.Event{}, fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	ev := o.removeLocked(t, o.now())
	o.emitLocked([]timer.Event{ev})
	return ev, nil
}

// List returns the published timer snapshots in creation order.
func (o *Orchestrator) List() []timer.Snapshot { return o.reg.List() }

// Lookup returns the published snapshot of one timer.
func (o *Orchestrator) Lookup(id string) (timer.Snapshot, bool) { return o.reg.Lookup(id) }

// Counts returns the number of timers per state. It lets the detector
// coordinator break ties by registry state.
func (o *Orchestrator) Counts() map[timer.State]int { return o.reg.Counts() }

// Close stops the tick loop. Subsequent commands fail with [ErrUnavailable].
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.closeOnce.Do(func() { close(o.done) })
	return nil
}

func (o *Orchestrator) advanceLocked(now time.Time) []timer.Event {
	var evs []timer.Event
	for _, t := range o.reg.All() {
		if ev, done := t.Advance(now); done {
			slog.Info("orchestrator: timer completed", "timer_id", t.ID(), "name", t.Name())
			evs = append(evs, ev)
		}
	}
	return evs
}

func (o *Orchestrator) expireLocked(now time.Time) []timer.Event {
	if o.completedTTL <= 0 {
		return nil
	}
	var evs []timer.Event
	for _, t := range o.reg.All() {
		if !t.State().Finished() || t.FinishedAt().IsZero() {
			continue
		}
		if now.Sub(t.FinishedAt()) >= o.completedTTL {
			evs = append(evs, o.removeLocked(t, now))
		}
	}
	return evs
}

func (o *Orchestrator) removeLocked(t *timer.Timer, now time.Time) timer.Event {
	ev := t.Announce(now)
	ev.Removed = true
	o.reg.Delete(t.ID())
	slog.Debug("orchestrator: timer removed", "timer_id", t.ID(), "state", t.State())
	return ev
}

// emitLocked refreshes the reader snapshot, publishes evs and updates the
// metrics. The snapshot is rebuilt even without events since running timers
// moved, and before publishing so subscribers that look a timer up see the
// state the event announces.
func (o *Orchestrator) emitLocked(evs []timer.Event) {
	ctx := context.Background()
	o.reg.Publish()
	for _, ev := range evs {
		o.pub.Publish(ev)
		if !ev.Removed && ev.Previous != ev.Current {
			o.metrics.RecordTransition(ctx, ev.Previous.String(), ev.Current.String())
		}
	}

	var active int64
	for _, s := range o.reg.List() {
		if s.State.Active() {
			active++
		}
	}
	if d := active - o.active; d != 0 {
		o.metrics.ActiveTimers.Add(ctx, d)
		o.active = active
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrAmbiguousTarget):
		return "ambiguous_target"
	case errors.Is(err, ErrNoTarget):
		return "no_target"
	case errors.Is(err, ErrTimerNotFound):
		return "not_found"
	case errors.Is(err, timer.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
