package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/timer"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu  sync.Mutex
	evs []timer.Event
}

func (r *recorder) Publish(ev timer.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []timer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timer.Event(nil), r.evs...)
}

type fixture struct {
	o       *Orchestrator
	clock   *fakeClock
	events  *recorder
	reader  *sdkmetric.ManualReader
	ctx     context.Context
	idCount int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{clock: newFakeClock(), events: &recorder{}, reader: reader, ctx: context.Background()}
	reg := timer.NewRegistry(timer.WithIDGenerator(func() string {
		f.idCount++
		return fmt.Sprintf("t%d", f.idCount)
	}))
	base := []Option{WithClock(f.clock.Now), WithMetrics(m)}
	f.o = New(reg, f.events, append(base, opts...)...)
	return f
}

func (f *fixture) apply(t *testing.T, cmd command.Command) []timer.Event {
	t.Helper()
	evs, err := f.o.Apply(f.ctx, cmd)
	if err != nil {
		t.Fatalf("Apply(%v %s): %v", cmd.Kind, cmd.Target, err)
	}
	return evs
}

func (f *fixture) startNamed(t *testing.T, name string, d time.Duration) timer.Snapshot {
	t.Helper()
	evs := f.apply(t, command.Command{Kind: command.KindStart, Target: command.Target{Name: name}, Duration: d})
	s, ok := f.o.Lookup(evs[0].TimerID)
	if !ok {
		t.Fatalf("timer %s not published", evs[0].TimerID)
	}
	return s
}

func (f *fixture) state(t *testing.T, id string) timer.State {
	t.Helper()
	s, ok := f.o.Lookup(id)
	if !ok {
		t.Fatalf("timer %s not found", id)
	}
	return s.State
}

func cmd(k command.Kind, target command.Target) command.Command {
	return command.Command{Kind: k, Target: target, Confidence: 1, SourceUtteranceID: "u"}
}

var (
	unnamed = command.Target{}
	all     = command.Target{All: true}
)

func named(n string) command.Target { return command.Target{Name: n} }

// ─── Scenarios ────────────────────────────────────────────────────────────────

func TestApply_StartNamedTimerWithDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evs := f.apply(t, command.Command{
		Kind:     command.KindStart,
		Target:   named("pasta"),
		Duration: 5 * time.Minute,
	})

	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Previous != timer.StateCreated || ev.Current != timer.StateRunning || ev.TimerName != "pasta" {
		t.Errorf("event = %+v", ev)
	}
	list := f.o.List()
	if len(list) != 1 {
		t.Fatalf("List = %d timers, want 1", len(list))
	}
	if s := list[0]; s.Name != "pasta" || s.Duration != 300*time.Second || s.State != timer.StateRunning {
		t.Errorf("snapshot = %+v", s)
	}
	if got := len(f.events.Events()); got != 1 {
		t.Errorf("published = %d, want 1", got)
	}
}

func TestApply_PauseSingleRunningTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", 5*time.Minute)

	evs := f.apply(t, cmd(command.KindPause, unnamed))
	if len(evs) != 1 || evs[0].TimerID != pasta.ID || evs[0].Current != timer.StatePaused {
		t.Fatalf("events = %+v", evs)
	}
	if got := f.state(t, pasta.ID); got != timer.StatePaused {
		t.Errorf("state = %v, want paused", got)
	}
}

func TestApply_PauseWithTwoRunningTimersIsAmbiguous(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.startNamed(t, "pasta", 5*time.Minute)
	b := f.startNamed(t, "eggs", 3*time.Minute)
	before := len(f.events.Events())

	evs, err := f.o.Apply(f.ctx, cmd(command.KindPause, unnamed))
	if !errors.Is(err, ErrAmbiguousTarget) {
		t.Fatalf("err = %v, want ErrAmbiguousTarget", err)
	}
	if evs != nil {
		t.Errorf("events = %+v, want none", evs)
	}
	if got := len(f.events.Events()); got != before {
		t.Errorf("published %d events on rejection", got-before)
	}
	for _, id := range []string{a.ID, b.ID} {
		if got := f.state(t, id); got != timer.StateRunning {
			t.Errorf("timer %s state = %v, want running", id, got)
		}
	}
}

func TestApply_ResetEverythingRestoresCompletedTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", time.Second)
	f.clock.Advance(2 * time.Second)
	f.o.Tick()
	if got := f.state(t, pasta.ID); got != timer.StateCompleted {
		t.Fatalf("state after tick = %v, want completed", got)
	}

	evs := f.apply(t, cmd(command.KindReset, all))
	if len(evs) != 1 || evs[0].Previous != timer.StateCompleted || evs[0].Current != timer.StateCreated {
		t.Fatalf("events = %+v", evs)
	}
	s, _ := f.o.Lookup(pasta.ID)
	if s.State != timer.StateCreated || s.Remaining != s.Duration {
		t.Errorf("snapshot = %+v, want created with full remaining", s)
	}
}

func TestApply_PauseTwiceIsInvalidTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", time.Minute)
	f.apply(t, cmd(command.KindPause, unnamed))
	published := len(f.events.Events())

	_, err := f.o.Apply(f.ctx, cmd(command.KindPause, unnamed))
	if !errors.Is(err, timer.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	var te *timer.TransitionError
	if !errors.As(err, &te) || te.From != timer.StatePaused || te.Action != timer.ActionPause {
		t.Errorf("TransitionError = %+v", te)
	}
	if got := len(f.events.Events()); got != published {
		t.Errorf("duplicate event published")
	}
	if got := f.state(t, pasta.ID); got != timer.StatePaused {
		t.Errorf("state = %v", got)
	}
}

// ─── Target resolution ───────────────────────────────────────────────────────

func TestApply_NamedTargets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spoken  string
		wantErr error
		want    string
	}{
		{"exact", "pasta", nil, "pasta"},
		{"case-insensitive", "PASTA", nil, "pasta"},
		{"phonetic", "pastor", nil, "pasta"},
		{"unknown", "laundry", ErrTimerNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.startNamed(t, "pasta", time.Minute)
			f.startNamed(t, "eggs", time.Minute)

			evs, err := f.o.Apply(f.ctx, cmd(command.KindStop, named(tt.spoken)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if len(evs) != 1 || evs[0].TimerName != tt.want || evs[0].Current != timer.StateCancelled {
				t.Errorf("events = %+v", evs)
			}
		})
	}
}

func TestApply_SharedNameAmbiguous(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.startNamed(t, "tea", time.Minute)
	f.startNamed(t, "tea", 2*time.Minute)

	if _, err := f.o.Apply(f.ctx, cmd(command.KindPause, named("tea"))); !errors.Is(err, ErrAmbiguousTarget) {
		t.Fatalf("err = %v, want ErrAmbiguousTarget", err)
	}
}

func TestApply_SharedNameResolvedByState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.startNamed(t, "tea", time.Minute)
	f.apply(t, cmd(command.KindPause, all))
	second := f.startNamed(t, "tea", 2*time.Minute)

	evs := f.apply(t, cmd(command.KindResume, named("tea")))
	if len(evs) != 1 || evs[0].TimerID != first.ID {
		t.Fatalf("events = %+v, want resume of %s", evs, first.ID)
	}
	if got := f.state(t, second.ID); got != timer.StateRunning {
		t.Errorf("second = %v, want running", got)
	}
}

func TestApply_StartVariants(t *testing.T) {
	t.Parallel()

	t.Run("unnamed without timers creates default", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithDefaultDuration(90*time.Second))
		evs := f.apply(t, cmd(command.KindStart, unnamed))
		s, _ := f.o.Lookup(evs[0].TimerID)
		if s.Duration != 90*time.Second || s.State != timer.StateRunning {
			t.Errorf("snapshot = %+v", s)
		}
	})

	t.Run("unnamed resumes single paused timer", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pasta := f.startNamed(t, "pasta", time.Minute)
		f.apply(t, cmd(command.KindPause, unnamed))
		evs := f.apply(t, cmd(command.KindStart, unnamed))
		if evs[0].TimerID != pasta.ID || evs[0].Previous != timer.StatePaused || evs[0].Current != timer.StateRunning {
			t.Errorf("events = %+v", evs)
		}
		if n := len(f.o.List()); n != 1 {
			t.Errorf("timers = %d, want 1", n)
		}
	})

	t.Run("named existing paused timer is resumed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pasta := f.startNamed(t, "pasta", time.Minute)
		f.apply(t, cmd(command.KindPause, named("pasta")))
		evs := f.apply(t, cmd(command.KindStart, named("pasta")))
		if evs[0].TimerID != pasta.ID {
			t.Errorf("started %s, want %s", evs[0].TimerID, pasta.ID)
		}
	})

	t.Run("named running timer is an invalid transition", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.startNamed(t, "pasta", time.Minute)
		if _, err := f.o.Apply(f.ctx, cmd(command.KindStart, named("pasta"))); !errors.Is(err, timer.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("named finished timer starts a fresh copy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pasta := f.startNamed(t, "pasta", time.Minute)
		f.apply(t, cmd(command.KindStop, unnamed))
		evs := f.apply(t, cmd(command.KindStart, named("pasta")))
		if evs[0].TimerID == pasta.ID {
			t.Fatal("cancelled timer was restarted in place")
		}
		s, _ := f.o.Lookup(evs[0].TimerID)
		if s.Name != "pasta" || s.Duration != time.Minute {
			t.Errorf("snapshot = %+v", s)
		}
	})

	t.Run("unnamed with two created timers is ambiguous", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithResetPolicy(ResetNew))
		f.apply(t, cmd(command.KindReset, unnamed))
		f.apply(t, cmd(command.KindReset, unnamed))
		if _, err := f.o.Apply(f.ctx, cmd(command.KindStart, unnamed)); !errors.Is(err, ErrAmbiguousTarget) {
			t.Errorf("err = %v, want ErrAmbiguousTarget", err)
		}
	})
}

func TestApply_AllTargetSkipsInvalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.startNamed(t, "a", time.Minute)
	b := f.startNamed(t, "b", time.Minute)
	f.apply(t, cmd(command.KindPause, named("a")))

	evs := f.apply(t, cmd(command.KindPause, all))
	if len(evs) != 1 || evs[0].TimerID != b.ID {
		t.Fatalf("events = %+v, want only %s", evs, b.ID)
	}
	if got := f.state(t, a.ID); got != timer.StatePaused {
		t.Errorf("a = %v", got)
	}

	if _, err := f.o.Apply(f.ctx, cmd(command.KindPause, all)); !errors.Is(err, ErrNoTarget) {
		t.Errorf("err = %v, want ErrNoTarget", err)
	}
}

func TestApply_UntargetedWithoutActiveTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.o.Apply(f.ctx, cmd(command.KindStop, unnamed)); !errors.Is(err, ErrAmbiguousTarget) {
		t.Errorf("err = %v, want ErrAmbiguousTarget", err)
	}
}

func TestApply_ResetPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy     ResetPolicy
		wantErr    error
		wantEvents int
		wantTimers int
	}{
		{ResetSingle, ErrAmbiguousTarget, 0, 2},
		{ResetAll, nil, 2, 2},
		{ResetNew, nil, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, WithResetPolicy(tt.policy))
			f.startNamed(t, "a", time.Minute)
			f.startNamed(t, "b", time.Minute)

			evs, err := f.o.Apply(f.ctx, cmd(command.KindReset, unnamed))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(evs) != tt.wantEvents {
				t.Errorf("events = %d, want %d", len(evs), tt.wantEvents)
			}
			if n := len(f.o.List()); n != tt.wantTimers {
				t.Errorf("timers = %d, want %d", n, tt.wantTimers)
			}
		})
	}
}

func TestApply_ResetSingleFallsBackToOnlyTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", time.Minute)
	f.apply(t, cmd(command.KindStop, unnamed))

	evs := f.apply(t, cmd(command.KindReset, unnamed))
	if evs[0].TimerID != pasta.ID || evs[0].Current != timer.StateCreated {
		t.Errorf("events = %+v", evs)
	}
}

func TestSetResetPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if f.o.ResetPolicy() != ResetSingle {
		t.Fatalf("default policy = %v", f.o.ResetPolicy())
	}
	f.o.SetResetPolicy(ResetNew)
	evs := f.apply(t, cmd(command.KindReset, unnamed))
	if len(evs) != 1 || evs[0].Previous != timer.StateCreated || evs[0].Current != timer.StateCreated {
		t.Errorf("events = %+v, want a creation announcement", evs)
	}
}

func TestParseResetPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ResetPolicy{"": ResetSingle, "single": ResetSingle, " ALL ": ResetAll, "new": ResetNew} {
		got, err := ParseResetPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseResetPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseResetPolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

// ─── Ticking ─────────────────────────────────────────────────────────────────

func TestTick_CompletesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", 3*time.Second)

	f.clock.Advance(time.Second)
	f.o.Tick()
	s, _ := f.o.Lookup(pasta.ID)
	if s.Remaining != 2*time.Second || s.State != timer.StateRunning {
		t.Fatalf("after 1s: %+v", s)
	}

	f.clock.Advance(5 * time.Second)
	f.o.Tick()
	f.o.Tick()

	var completions int
	for _, ev := range f.events.Events() {
		if ev.Current == timer.StateCompleted {
			completions++
			if ev.Remaining != 0 {
				t.Errorf("completion remaining = %v", ev.Remaining)
			}
		}
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}

func TestTick_PausedTimerDoesNotDrain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", 10*time.Second)
	f.clock.Advance(4 * time.Second)
	f.apply(t, cmd(command.KindPause, unnamed))
	f.clock.Advance(time.Hour)
	f.o.Tick()

	s, _ := f.o.Lookup(pasta.ID)
	if s.Remaining != 6*time.Second {
		t.Errorf("remaining = %v, want 6s", s.Remaining)
	}
}

func TestApply_DueCompletionPublishedBeforeCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.startNamed(t, "pasta", time.Second)
	f.clock.Advance(2 * time.Second)

	// The only timer completes before the pause is considered, so the pause
	// has no active timer left to address.
	_, err := f.o.Apply(f.ctx, cmd(command.KindPause, unnamed))
	if !errors.Is(err, ErrAmbiguousTarget) {
		t.Fatalf("err = %v, want ErrAmbiguousTarget", err)
	}
	evs := f.events.Events()
	if last := evs[len(evs)-1]; last.Current != timer.StateCompleted {
		t.Errorf("last event = %+v, want completion", last)
	}
}

// lookupPublisher reads the registry snapshot the moment each event is
// published, the way websocket and MCP subscribers do.
type lookupPublisher struct {
	reg  *timer.Registry
	mu   sync.Mutex
	seen []lookedUp
}

type lookedUp struct {
	ev    timer.Event
	snap  timer.Snapshot
	found bool
}

func (p *lookupPublisher) Publish(ev timer.Event) {
	s, ok := p.reg.Lookup(ev.TimerID)
	p.mu.Lock()
	p.seen = append(p.seen, lookedUp{ev: ev, snap: s, found: ok})
	p.mu.Unlock()
}

func TestEmit_SnapshotMatchesEventAtPublish(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := timer.NewRegistry()
	pub := &lookupPublisher{reg: reg}
	o := New(reg, pub, WithClock(clk.Now))
	ctx := context.Background()

	evs, err := o.Apply(ctx, command.Command{Kind: command.KindStart, Target: named("pasta"), Duration: 5 * time.Minute, Confidence: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := evs[0].TimerID
	if _, err := o.Apply(ctx, cmd(command.KindPause, unnamed)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := o.Apply(ctx, cmd(command.KindResume, unnamed)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(6 * time.Minute)
	o.Tick()
	if _, err := o.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	want := []timer.State{timer.StateRunning, timer.StatePaused, timer.StateRunning, timer.StateCompleted}
	if len(pub.seen) != len(want)+1 {
		t.Fatalf("published %d events, want %d", len(pub.seen), len(want)+1)
	}
	for i, st := range want {
		got := pub.seen[i]
		if got.ev.Current != st {
			t.Errorf("event %d current = %s, want %s", i, got.ev.Current, st)
		}
		if !got.found {
			t.Errorf("event %d: timer %s not in snapshot", i, got.ev.TimerID)
			continue
		}
		if got.snap.State != got.ev.Current {
			t.Errorf("event %d: snapshot state = %s, event current = %s", i, got.snap.State, got.ev.Current)
		}
	}
	if last := pub.seen[len(want)]; !last.ev.Removed || last.found {
		t.Errorf("removal event = %+v, found in snapshot = %v", last.ev, last.found)
	}
}

func TestTick_CompletedTTLRemovesTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithCompletedTTL(10*time.Second))
	pasta := f.startNamed(t, "pasta", time.Minute)
	f.apply(t, cmd(command.KindStop, unnamed))

	f.clock.Advance(9 * time.Second)
	f.o.Tick()
	if _, ok := f.o.Lookup(pasta.ID); !ok {
		t.Fatal("timer removed before TTL")
	}

	f.clock.Advance(2 * time.Second)
	f.o.Tick()
	if _, ok := f.o.Lookup(pasta.ID); ok {
		t.Fatal("timer not removed after TTL")
	}
	evs := f.events.Events()
	last := evs[len(evs)-1]
	if !last.Removed || last.TimerID != pasta.ID || last.Current != timer.StateCancelled {
		t.Errorf("last event = %+v", last)
	}
}

func TestTick_ZeroTTLKeepsFinishedTimers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.startNamed(t, "pasta", time.Second)
	f.clock.Advance(24 * time.Hour)
	f.o.Tick()
	if n := len(f.o.List()); n != 1 {
		t.Errorf("timers = %d, want 1", n)
	}
}

// ─── Remove / Close / Run ────────────────────────────────────────────────────

func TestRemove(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pasta := f.startNamed(t, "pasta", time.Minute)

	if _, err := f.o.Remove("nope"); !errors.Is(err, ErrTimerNotFound) {
		t.Errorf("err = %v, want ErrTimerNotFound", err)
	}
	ev, err := f.o.Remove(pasta.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !ev.Removed || ev.Current != timer.StateRunning {
		t.Errorf("event = %+v", ev)
	}
	if len(f.o.List()) != 0 {
		t.Error("timer still listed")
	}
}

func TestClose_MakesUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := f.o.Apply(f.ctx, cmd(command.KindStart, unnamed)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Apply err = %v, want ErrUnavailable", err)
	}
	if _, err := f.o.Remove("t1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Remove err = %v, want ErrUnavailable", err)
	}
	if err := f.o.Run(context.Background()); err != nil {
		t.Errorf("Run after Close = %v", err)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTickInterval(5*time.Millisecond))
	f.startNamed(t, "pasta", time.Second)
	f.clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.o.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if s := f.o.List(); len(s) == 1 && s[0].State == timer.StateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tick loop did not complete the timer")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if f.o.LastTick().IsZero() {
		t.Error("LastTick not recorded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ─── Concurrency & metrics ───────────────────────────────────────────────────

func TestApply_ConcurrentWritersAndReaders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("t%d", i)
			_, _ = f.o.Apply(f.ctx, command.Command{Kind: command.KindStart, Target: named(name), Duration: time.Minute})
			_, _ = f.o.Apply(f.ctx, cmd(command.KindPause, named(name)))
			_, _ = f.o.Apply(f.ctx, cmd(command.KindResume, all))
			f.o.Tick()
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				for _, s := range f.o.List() {
					if s.Remaining < 0 || s.Remaining > s.Duration {
						t.Errorf("snapshot out of bounds: %+v", s)
					}
				}
				_ = f.o.Counts()
			}
		}()
	}
	wg.Wait()

	if n := len(f.o.List()); n != 8 {
		t.Errorf("timers = %d, want 8", n)
	}
}

func TestMetrics_ActiveTimersAndCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.startNamed(t, "a", time.Minute)
	f.startNamed(t, "b", time.Minute)
	f.apply(t, cmd(command.KindStop, named("a")))
	_, _ = f.o.Apply(f.ctx, cmd(command.KindPause, named("zzz-unknown")))

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var active int64
	statuses := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "voxtimer.active_timers":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					active += dp.Value
				}
			case "voxtimer.commands":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					v, _ := dp.Attributes.Value("status")
					statuses[v.AsString()] += dp.Value
				}
			}
		}
	}
	if active != 1 {
		t.Errorf("active timers = %d, want 1", active)
	}
	if statuses["applied"] != 3 || statuses["not_found"] != 1 {
		t.Errorf("command statuses = %v", statuses)
	}
}
