package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/timer"
)

// start handles the Start family:
//
//   - "all" starts or resumes every Created or Paused timer;
//   - a duration always creates a new timer;
//   - a name addresses an existing startable timer, or creates one;
//   - otherwise the single startable timer is started, or a default timer is
//     created when there is none.
func (o *Orchestrator) start(cmd command.Command, now time.Time) ([]timer.Event, error) {
	switch {
	case cmd.Target.All:
		return o.applyAll(timer.ActionStart, now)
	case cmd.Duration > 0:
		return o.createAndStart(cmd.Target.Name, cmd.Duration, now)
	case cmd.Target.Name != "":
		t, err := o.byName(cmd.Target.Name, timer.ActionStart)
		switch {
		case errors.Is(err, ErrTimerNotFound):
			return o.createAndStart(cmd.Target.Name, o.defaultDuration, now)
		case err != nil:
			return nil, err
		case t.State().Finished():
			return o.createAndStart(t.Name(), t.Duration(), now)
		}
		return o.applyOne(t, timer.ActionStart, now)
	}

	startable := o.reg.Find(func(t *timer.Timer) bool {
		return timer.Allows(t.State(), timer.ActionStart)
	})
	switch len(startable) {
	case 0:
		return o.createAndStart("", o.defaultDuration, now)
	case 1:
		return o.applyOne(startable[0], timer.ActionStart, now)
	}
	return nil, fmt.Errorf("%w: %d timers could be started", ErrAmbiguousTarget, len(startable))
}

func (o *Orchestrator) createAndStart(name string, d time.Duration, now time.Time) ([]timer.Event, error) {
	t, err := o.reg.Create(name, d, now)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create timer: %w", err)
	}
	ev, err := t.Apply(timer.ActionStart, now)
	if err != nil {
		o.reg.Delete(t.ID())
		return nil, err
	}
	return []timer.Event{ev}, nil
}

// transition applies a to the timer(s) addressed by target.
func (o *Orchestrator) transition(target command.Target, a timer.Action, now time.Time) ([]timer.Event, error) {
	if target.All {
		return o.applyAll(a, now)
	}

	var (
		t   *timer.Timer
		err error
	)
	if target.Name != "" {
		t, err = o.byName(target.Name, a)
	} else {
		t, err = o.singleActive()
	}
	if err != nil {
		return nil, err
	}
	return o.applyOne(t, a, now)
}

func (o *Orchestrator) resetUntargeted(now time.Time) ([]timer.Event, error) {
	switch o.ResetPolicy() {
	case ResetAll:
		return o.applyAll(timer.ActionReset, now)
	case ResetNew:
		t, err := o.reg.Create("", o.defaultDuration, now)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: create timer: %w", err)
		}
		return []timer.Event{t.Announce(now)}, nil
	}

	t, err := o.singleActive()
	if err != nil {
		all := o.reg.All()
		if len(all) != 1 {
			return nil, err
		}
		t = all[0]
	}
	return o.applyOne(t, timer.ActionReset, now)
}

func (o *Orchestrator) applyOne(t *timer.Timer, a timer.Action, now time.Time) ([]timer.Event, error) {
	ev, err := t.Apply(a, now)
	if err != nil {
		return nil, err
	}
	return []timer.Event{ev}, nil
}

// applyAll applies a to every timer that accepts it. Timers that do not are
// skipped; if none does the result is [ErrNoTarget].
func (o *Orchestrator) applyAll(a timer.Action, now time.Time) ([]timer.Event, error) {
	targets := o.reg.Find(func(t *timer.Timer) bool { return timer.Allows(t.State(), a) })
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no timer can %s", ErrNoTarget, a)
	}
	evs := make([]timer.Event, 0, len(targets))
	for _, t := range targets {
		ev, err := t.Apply(a, now)
		if err != nil {
			// Unreachable: every target was checked with Allows under the lock.
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// singleActive returns the only Running or Paused timer.
func (o *Orchestrator) singleActive() (*timer.Timer, error) {
	active := o.reg.Find(func(t *timer.Timer) bool { return t.State().Active() })
	if len(active) != 1 {
		return nil, fmt.Errorf("%w: %d active timers", ErrAmbiguousTarget, len(active))
	}
	return active[0], nil
}

// byName finds the timer called spoken. Exact case-insensitive matches win;
// otherwise the name matcher picks the closest existing name. When several
// timers share the name, the one that accepts a is chosen; if none does, the
// newest is returned so the caller reports the invalid transition.
func (o *Orchestrator) byName(spoken string, a timer.Action) (*timer.Timer, error) {
	spoken = strings.TrimSpace(spoken)
	all := o.reg.All()

	matches := withName(all, func(name string) bool { return strings.EqualFold(name, spoken) })
	if len(matches) == 0 && o.names != nil {
		if name, score, ok := o.names.Resolve(spoken, distinctNames(all)); ok {
			matches = withName(all, func(n string) bool { return n == name })
			slog.Debug("orchestrator: resolved timer name", "spoken", spoken, "name", name, "score", score)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrTimerNotFound, spoken)
	case 1:
		return matches[0], nil
	}

	var accepting []*timer.Timer
	for _, t := range matches {
		if timer.Allows(t.State(), a) {
			accepting = append(accepting, t)
		}
	}
	switch len(accepting) {
	case 0:
		return matches[len(matches)-1], nil
	case 1:
		return accepting[0], nil
	}
	return nil, fmt.Errorf("%w: %d timers named %q", ErrAmbiguousTarget, len(accepting), spoken)
}

func withName(ts []*timer.Timer, match func(string) bool) []*timer.Timer {
	var out []*timer.Timer
	for _, t := range ts {
		if t.Name() != "" && match(t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

func distinctNames(ts []*timer.Timer) []string {
	seen := make(map[string]struct{}, len(ts))
	var names []string
	for _, t := range ts {
		n := t.Name()
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	return names
}
