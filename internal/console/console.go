// Package console is an interactive terminal front end. Every line typed is
// treated as a transcribed utterance; lines starting with ':' are console
// commands. Timer events are printed as they happen.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// Timers lists timer snapshots.
type Timers interface {
	List() []timer.Snapshot
}

// Submitter ingests utterances. [*transcript.Ingestor] implements it.
type Submitter interface {
	Submit(ctx context.Context, u transcript.Utterance) (transcript.Outcome, error)
}

// Subscriber hands out event subscriptions. [*eventbus.Bus] implements it.
type Subscriber interface {
	Subscribe() *eventbus.Subscription
}

// Console reads utterances from the terminal.
type Console struct {
	timers Timers
	ingest Submitter
	bus    Subscriber
	now    func() time.Time
	stdin  io.ReadCloser
	out    io.Writer
}

// Option configures a [Console].
type Option func(*Console)

// WithIO replaces the terminal. Used by tests and when stdin is piped.
func WithIO(in io.ReadCloser, out io.Writer) Option {
	return func(c *Console) { c.stdin, c.out = in, out }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Console) { c.now = now }
}

// New returns a console. bus may be nil, in which case no events are printed.
func New(t Timers, in Submitter, bus Subscriber, opts ...Option) *Console {
	c := &Console{timers: t, ingest: in, bus: bus, now: time.Now, out: os.Stdout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run reads lines until EOF, ":quit" or ctx is done, then calls cancel so the
// rest of the application shuts down too.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	cfg := &readline.Config{
		Prompt:          "voxtimer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	}
	if c.stdin != nil {
		cfg.Stdin = c.stdin
		cfg.Stdout = c.out
		cfg.FuncIsTerminal = func() bool { return false }
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return fmt.Errorf("console: create readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	// Unblock Readline when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	if c.bus != nil {
		sub := c.bus.Subscribe()
		defer sub.Close()
		go func() {
			for ev := range sub.Events(ctx) {
				fmt.Fprintln(c.out, FormatEvent(ev))
			}
		}()
	}

	fmt.Fprintln(c.out, "Type what you would say, e.g. \"start a 5 minute timer called pasta\". :help lists commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			cancel()
			return nil
		}
		if c.Execute(ctx, line) {
			cancel()
			return nil
		}
	}
}

// Execute handles one input line and reports whether the console should
// quit.
func (c *Console) Execute(ctx context.Context, line string) (quit bool) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, ":") {
		c.say(ctx, input)
		return false
	}

	switch strings.ToLower(strings.Fields(input)[0]) {
	case ":quit", ":q", ":exit":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	case ":timers", ":t":
		c.printTimers()
	case ":help", ":h", ":?":
		c.printHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type :help for commands)\n", input)
	}
	return false
}

func (c *Console) say(ctx context.Context, text string) {
	out, err := c.ingest.Submit(ctx, transcript.Utterance{Text: text})
	switch {
	case errors.Is(err, orchestrator.ErrUnavailable):
		fmt.Fprintln(c.out, "timer service unavailable")
		return
	case err != nil:
		fmt.Fprintf(c.out, "cancelled: %v\n", err)
		return
	}

	switch out.Status {
	case transcript.StatusApplied:
		fmt.Fprintf(c.out, "ok: %s\n", out.Command.Kind)
	case transcript.StatusNoMatch:
		fmt.Fprintln(c.out, "(no command)")
	case transcript.StatusRejected:
		if errors.Is(out.Err, orchestrator.ErrAmbiguousTarget) {
			fmt.Fprintln(c.out, "please specify which timer")
			return
		}
		fmt.Fprintf(c.out, "rejected: %s\n", out.Error)
	default:
		fmt.Fprintf(c.out, "%s: %s\n", out.Status, out.Error)
	}
}

func (c *Console) printTimers() {
	snaps := c.timers.List()
	if len(snaps) == 0 {
		fmt.Fprintln(c.out, "no timers")
		return
	}
	now := c.now()
	for _, s := range snaps {
		fmt.Fprintf(c.out, "  %-10s %-12s %-9s %s / %s\n",
			s.ID, label(s.Name), s.State,
			s.RemainingAt(now).Round(time.Second), s.Duration)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Anything you type is processed as speech, for example:
  start a 5 minute timer called pasta
  pause the pasta timer
  resume all timers

Console commands:
  :timers   list timers
  :help     show this help
  :quit     exit`)
}

// FormatEvent renders an event as one line.
func FormatEvent(ev timer.Event) string {
	name := ev.TimerName
	if name == "" {
		name = ev.TimerID
	}
	switch {
	case ev.Removed:
		return fmt.Sprintf("[%s] removed", name)
	case ev.Previous == ev.Current:
		return fmt.Sprintf("[%s] created (%s)", name, ev.Remaining.Round(time.Second))
	case ev.Current == timer.StateCompleted:
		return fmt.Sprintf("[%s] time is up!", name)
	}
	return fmt.Sprintf("[%s] %s -> %s (%s left)", name, ev.Previous, ev.Current, ev.Remaining.Round(time.Second))
}

func label(name string) string {
	if name == "" {
		return "-"
	}
	return name
}
