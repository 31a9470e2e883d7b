// Package mcptools exposes the timers to LLM assistants as MCP tools.
//
// The server offers four tools:
//
//   - list_timers: every timer with its state and remaining time.
//   - start_timer: create and start a timer, optionally named.
//   - control_timer: pause, resume, stop or reset timers by name.
//   - say: feed a sentence through command detection as if it was spoken.
//
// [Server.Handler] serves the tools over the streamable HTTP transport.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/phrase"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// Timers is what the tools need from the orchestrator.
type Timers interface {
	Apply(ctx context.Context, cmd command.Command) ([]timer.Event, error)
	List() []timer.Snapshot
}

// Submitter ingests utterances. [*transcript.Ingestor] implements it.
type Submitter interface {
	Submit(ctx context.Context, u transcript.Utterance) (transcript.Outcome, error)
}

// Server wraps an MCP server with the timer tools registered.
type Server struct {
	timers  Timers
	ingest  Submitter
	metrics *observe.Metrics
	now     func() time.Time
	mcp     *mcp.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the MCP server. version is reported to clients.
func New(t Timers, in Submitter, version string, opts ...Option) *Server {
	s := &Server{timers: t, ingest: in, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "voxtimer", Version: version}, nil)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_timers",
		Description: "List every timer with its state and remaining time.",
	}, instrument(s, "list_timers", s.listTimers))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_timer",
		Description: "Create and start a countdown timer.",
	}, instrument(s, "start_timer", s.startTimer))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "control_timer",
		Description: "Pause, resume, stop or reset a timer by name, or all timers.",
	}, instrument(s, "control_timer", s.controlTimer))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "say",
		Description: "Process a sentence as if the user had spoken it, e.g. \"pause the pasta timer\".",
	}, instrument(s, "say", s.say))
	return s
}

// MCP returns the underlying server, for example to connect it to a custom
// transport.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcptools."+name)
		defer span.End()

		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Info("mcptools: tool call failed", "tool", name, "err", err)
		}
		s.metrics.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}

// ─── Shapes ──────────────────────────────────────────────────────────────────

// TimerInfo describes one timer.
type TimerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state"`
	DurationMS  int64  `json:"duration_ms"`
	RemainingMS int64  `json:"remaining_ms"`
}

// EventInfo describes one state change.
type EventInfo struct {
	TimerID     string `json:"timer_id"`
	TimerName   string `json:"timer_name,omitempty"`
	Previous    string `json:"previous"`
	Current     string `json:"current"`
	RemainingMS int64  `json:"remaining_ms"`
}

func eventInfos(evs []timer.Event) []EventInfo {
	out := make([]EventInfo, len(evs))
	for i, ev := range evs {
		out[i] = EventInfo{
			TimerID:     ev.TimerID,
			TimerName:   ev.TimerName,
			Previous:    ev.Previous.String(),
			Current:     ev.Current.String(),
			RemainingMS: ev.Remaining.Milliseconds(),
		}
	}
	return out
}

func describe(evs []EventInfo) string {
	if len(evs) == 0 {
		return "no timer changed"
	}
	parts := make([]string, len(evs))
	for i, ev := range evs {
		label := ev.TimerName
		if label == "" {
			label = ev.TimerID
		}
		parts[i] = fmt.Sprintf("%s: %s -> %s", label, ev.Previous, ev.Current)
	}
	return strings.Join(parts, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// ─── list_timers ─────────────────────────────────────────────────────────────

// ListInput takes no arguments.
type ListInput struct{}

// ListOutput is the result of list_timers.
type ListOutput struct {
	Timers []TimerInfo `json:"timers"`
}

func (s *Server) listTimers(_ context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	now := s.now()
	snaps := s.timers.List()
	out := ListOutput{Timers: make([]TimerInfo, len(snaps))}
	lines := make([]string, len(snaps))
	for i, sn := range snaps {
		rem := sn.RemainingAt(now)
		out.Timers[i] = TimerInfo{
			ID:          sn.ID,
			Name:        sn.Name,
			State:       sn.State.String(),
			DurationMS:  sn.Duration.Milliseconds(),
			RemainingMS: rem.Milliseconds(),
		}
		label := sn.Name
		if label == "" {
			label = sn.ID
		}
		lines[i] = fmt.Sprintf("%s: %s, %s left", label, sn.State, rem.Round(time.Second))
	}
	if len(lines) == 0 {
		return textResult("there are no timers"), out, nil
	}
	return textResult(strings.Join(lines, "\n")), out, nil
}

// ─── start_timer ─────────────────────────────────────────────────────────────

// StartInput are the arguments of start_timer.
type StartInput struct {
	Name     string `json:"name,omitempty" jsonschema:"optional timer name, e.g. pasta"`
	Duration string `json:"duration,omitempty" jsonschema:"duration such as 5m, 90s or 10 minutes; the default duration is used when empty"`
}

// EventsOutput lists the state changes a tool caused.
type EventsOutput struct {
	Events []EventInfo `json:"events"`
}

func (s *Server) startTimer(ctx context.Context, _ *mcp.CallToolRequest, in StartInput) (*mcp.CallToolResult, EventsOutput, error) {
	d, err := parseDuration(in.Duration)
	if err != nil {
		return nil, EventsOutput{}, err
	}
	cmd := command.Command{
		Kind:       command.KindStart,
		Target:     command.Target{Name: strings.TrimSpace(in.Name)},
		Duration:   d,
		Confidence: 1,
	}
	evs, err := s.timers.Apply(ctx, cmd)
	if err != nil {
		return nil, EventsOutput{}, err
	}
	out := EventsOutput{Events: eventInfos(evs)}
	return textResult(describe(out.Events)), out, nil
}

// parseDuration accepts Go durations ("90s") and spoken ones ("ten minutes").
// An empty string yields zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("mcptools: duration must be positive, got %q", s)
		}
		return d, nil
	}
	if d, _ := phrase.ParseDuration(phrase.Tokenize(s)); d > 0 {
		return d, nil
	}
	return 0, fmt.Errorf("mcptools: cannot parse duration %q", s)
}

// ─── control_timer ───────────────────────────────────────────────────────────

// ControlInput are the arguments of control_timer.
type ControlInput struct {
	Action string `json:"action" jsonschema:"one of pause, resume, stop, reset"`
	Name   string `json:"name,omitempty" jsonschema:"name of the timer; may be omitted when only one timer qualifies"`
	All    bool   `json:"all,omitempty" jsonschema:"apply to every timer"`
}

func (s *Server) controlTimer(ctx context.Context, _ *mcp.CallToolRequest, in ControlInput) (*mcp.CallToolResult, EventsOutput, error) {
	kind, err := command.ParseKind(in.Action)
	if err != nil || kind == command.KindStart {
		return nil, EventsOutput{}, fmt.Errorf("mcptools: unsupported action %q", in.Action)
	}
	cmd := command.Command{
		Kind:       kind,
		Target:     command.Target{Name: strings.TrimSpace(in.Name), All: in.All},
		Confidence: 1,
	}
	evs, err := s.timers.Apply(ctx, cmd)
	if err != nil {
		return nil, EventsOutput{}, err
	}
	out := EventsOutput{Events: eventInfos(evs)}
	return textResult(describe(out.Events)), out, nil
}

// ─── say ─────────────────────────────────────────────────────────────────────

// SayInput are the arguments of say.
type SayInput struct {
	Text string `json:"text" jsonschema:"the sentence to process"`
}

// SayOutput reports what happened to the sentence.
type SayOutput struct {
	Status  string      `json:"status"`
	Command string      `json:"command,omitempty"`
	Error   string      `json:"error,omitempty"`
	Events  []EventInfo `json:"events"`
}

func (s *Server) say(ctx context.Context, _ *mcp.CallToolRequest, in SayInput) (*mcp.CallToolResult, SayOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, SayOutput{}, errors.New("mcptools: text is required")
	}
	res, err := s.ingest.Submit(ctx, transcript.Utterance{Text: in.Text})
	if err != nil {
		return nil, SayOutput{}, err
	}
	out := SayOutput{Status: string(res.Status), Error: res.Error, Events: eventInfos(res.Events)}
	if res.Command != nil {
		out.Command = res.Command.Kind.String()
	}

	text := describe(out.Events)
	if res.Status != transcript.StatusApplied {
		text = string(res.Status)
		if res.Error != "" {
			text += ": " + res.Error
		}
	}
	return textResult(text), out, nil
}
