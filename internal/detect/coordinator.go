package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/timer"
)

var (
	// ErrNoMatch means no detector recognised a command. It is not a
	// failure: the utterance is simply ignored.
	ErrNoMatch = errors.New("detect: no command recognised")

	// ErrAmbiguousCommand means several detectors tied and the registry state
	// did not single one out.
	ErrAmbiguousCommand = errors.New("detect: ambiguous command")

	// ErrDetectorTimeout marks a detector that missed its deadline. It is
	// logged and counted, never returned from [Coordinator.Resolve].
	ErrDetectorTimeout = errors.New("detect: detector timed out")
)

// DefaultTimeout bounds a single detector evaluation.
const DefaultTimeout = 50 * time.Millisecond

// confidenceEpsilon treats scores this close as a tie.
const confidenceEpsilon = 1e-9

// StateView exposes the registry state used to break confidence ties.
type StateView interface {
	Counts() map[timer.State]int
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithTimeout sets the per-detector deadline. Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStateView enables registry-aware tie-breaking.
func WithStateView(v StateView) Option {
	return func(c *Coordinator) { c.view = v }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator fans an utterance out to every detector and reduces their
// results to at most one command. Detectors can be swapped at runtime with
// [Coordinator.SetDetectors]; in-flight resolutions keep the set they
// started with.
type Coordinator struct {
	detectors atomic.Pointer[[]Detector]
	timeout   time.Duration
	view      StateView
	metrics   *observe.Metrics
}

// NewCoordinator returns a Coordinator over detectors.
func NewCoordinator(detectors []Detector, opts ...Option) *Coordinator {
	c := &Coordinator{timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.SetDetectors(detectors)
	return c
}

// SetDetectors atomically replaces the detector set.
func (c *Coordinator) SetDetectors(ds []Detector) {
	cp := append([]Detector(nil), ds...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].ID() < cp[j].ID() })
	c.detectors.Store(&cp)
}

// Detectors returns the current detector set ordered by ID.
func (c *Coordinator) Detectors() []Detector {
	return append([]Detector(nil), *c.detectors.Load()...)
}

// Resolve classifies text and returns the single resolved command.
//
// It returns [ErrNoMatch] when nothing was recognised and
// [ErrAmbiguousCommand] when the results could not be reduced to one.
func (c *Coordinator) Resolve(ctx context.Context, utteranceID, text string) (*command.Command, error) {
	ctx, span := observe.StartSpan(ctx, "detect.resolve")
	start := time.Now()

	results := c.Collect(ctx, text)
	if err := ctx.Err(); err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}
	res, err := c.arbitrate(results)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("utterance.id", utteranceID),
		attribute.Int("detect.results", len(results)),
	)
	if err != nil {
		if errors.Is(err, ErrNoMatch) {
			span.End()
		} else {
			observe.EndSpan(span, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("command.kind", res.Kind.String()))
	span.End()

	cmd := command.FromResult(res, utteranceID)
	return &cmd, nil
}

// Collect runs every detector concurrently, each bounded by the
// per-detector timeout, and returns the valid results ordered by detector
// ID. Detectors that fail, time out, or report the wrong kind contribute
// nothing.
func (c *Coordinator) Collect(ctx context.Context, text string) []command.Result {
	ds := *c.detectors.Load()
	slots := make([]*command.Result, len(ds))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range ds {
		g.Go(func() error {
			slots[i] = c.run(gctx, d, text)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]command.Result, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

type detectOutcome struct {
	res *command.Result
	err error
}

// run evaluates one detector. The detector runs on its own goroutine so a
// detector that ignores its context still cannot stall the utterance.
func (c *Coordinator) run(ctx context.Context, d Detector, text string) *command.Result {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan detectOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- detectOutcome{err: fmt.Errorf("detect: detector %s panicked: %v", d.ID(), p)}
			}
		}()
		res, err := d.Detect(dctx, text)
		done <- detectOutcome{res, err}
	}()

	var o detectOutcome
	select {
	case o = <-done:
	case <-dctx.Done():
		if ctx.Err() == nil {
			c.timedOut(ctx, d)
		}
		return nil
	}

	c.metrics.DetectorDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("detector", d.ID())))

	switch {
	case errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil:
		c.timedOut(ctx, d)
		return nil
	case o.err != nil:
		slog.Debug("detect: detector failed", "detector", d.ID(), "err", o.err)
		return nil
	case o.res == nil:
		return nil
	}

	r := *o.res
	if r.Kind != d.Kind() || r.Confidence < 0 || r.Confidence > 1 {
		slog.Warn("detect: discarding invalid detector result",
			"detector", d.ID(),
			"kind", r.Kind,
			"confidence", r.Confidence,
		)
		return nil
	}
	if r.DetectorID == "" {
		r.DetectorID = d.ID()
	}
	return &r
}

func (c *Coordinator) timedOut(ctx context.Context, d Detector) {
	slog.Debug("detect: detector timed out",
		"detector", d.ID(),
		"timeout", c.timeout,
		"err", ErrDetectorTimeout,
	)
	c.metrics.RecordDetectorTimeout(ctx, d.ID())
}

type resultKey struct {
	kind   command.Kind
	target command.Target
}

// arbitrate reduces results to one. Results must be ordered by detector ID.
func (c *Coordinator) arbitrate(results []command.Result) (command.Result, error) {
	if len(results) == 0 {
		return command.Result{}, ErrNoMatch
	}

	// Collapse duplicates of the same intent.
	byKey := make(map[resultKey]int)
	var cands []command.Result
	for _, r := range results {
		k := resultKey{r.Kind, r.Target}
		i, seen := byKey[k]
		if !seen {
			byKey[k] = len(cands)
			cands = append(cands, r)
			continue
		}
		cur := cands[i]
		if r.Confidence > cur.Confidence+confidenceEpsilon {
			cands[i] = r
		} else if cur.Duration == 0 && r.Duration > 0 {
			cands[i].Duration = r.Duration
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if d := cands[i].Confidence - cands[j].Confidence; d > confidenceEpsilon || d < -confidenceEpsilon {
			return d > 0
		}
		return cands[i].DetectorID < cands[j].DetectorID
	})

	top := cands[0].Confidence
	tied := cands[:1]
	for _, r := range cands[1:] {
		if top-r.Confidence > confidenceEpsilon {
			break
		}
		tied = append(tied, r)
	}
	if len(tied) == 1 {
		return tied[0], nil
	}

	if c.view != nil {
		counts := c.view.Counts()
		bestScore := 0
		var winners []command.Result
		for _, r := range tied {
			s := applicability(r.Kind, counts)
			switch {
			case s > bestScore:
				bestScore, winners = s, []command.Result{r}
			case s == bestScore && s > 0:
				winners = append(winners, r)
			}
		}
		if len(winners) == 1 {
			return winners[0], nil
		}
	}

	kinds := make([]string, len(tied))
	for i, r := range tied {
		kinds[i] = r.Kind.String()
	}
	return command.Result{}, fmt.Errorf("%w: %s", ErrAmbiguousCommand, strings.Join(kinds, ", "))
}

// applicability counts the timers a command of kind k could act on. A start
// with no timers at all still counts once since it creates a timer.
func applicability(k command.Kind, counts map[timer.State]int) int {
	switch k {
	case command.KindStart:
		n := counts[timer.StateCreated] + counts[timer.StatePaused]
		if n == 0 && total(counts) == 0 {
			return 1
		}
		return n
	case command.KindPause:
		return counts[timer.StateRunning]
	case command.KindResume:
		return counts[timer.StatePaused]
	case command.KindStop:
		return counts[timer.StateRunning] + counts[timer.StatePaused]
	case command.KindReset:
		return total(counts)
	}
	return 0
}

func total(counts map[timer.State]int) int {
	n := 0
	for _, v := range counts {
		n += v
	}
	return n
}
