// Package detect runs command detectors over an utterance and arbitrates
// their results into at most one timer command.
package detect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/phrase"
)

// Detector recognises one command family in an utterance.
//
// Implementations must be safe for concurrent use. A nil result with a nil
// error means the utterance does not contain the detector's command.
type Detector interface {
	// ID is a stable identifier used for ordering and metrics.
	ID() string

	// Kind is the command family this detector recognises.
	Kind() command.Kind

	// Detect inspects text. It should return promptly when ctx is done.
	Detect(ctx context.Context, text string) (*command.Result, error)
}

// PhraseDetector is a [Detector] backed by one or more phrase matchers. With
// several matchers it returns the highest-confidence interpretation among
// them.
type PhraseDetector struct {
	id       string
	kind     command.Kind
	matchers []*phrase.Matcher
}

var _ Detector = (*PhraseDetector)(nil)

// NewPhraseDetector returns a detector for kind using the given matchers.
// With no matchers a default [phrase.Matcher] is used.
func NewPhraseDetector(kind command.Kind, matchers ...*phrase.Matcher) *PhraseDetector {
	if len(matchers) == 0 {
		matchers = []*phrase.Matcher{phrase.New()}
	}
	return &PhraseDetector{
		id:       kind.String(),
		kind:     kind,
		matchers: matchers,
	}
}

func (d *PhraseDetector) ID() string         { return d.id }
func (d *PhraseDetector) Kind() command.Kind { return d.kind }

// Detect implements [Detector]. Panics inside a matcher are turned into "no
// result" so malformed input never escapes as a failure.
func (d *PhraseDetector) Detect(ctx context.Context, text string) (res *command.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("detect: matcher panicked", "detector", d.id, "panic", fmt.Sprint(r))
			res, err = nil, nil
		}
	}()

	var best *phrase.Match
	for _, m := range d.matchers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mt, ok := m.MatchKind(text, d.kind)
		if !ok {
			continue
		}
		if best == nil || mt.Confidence > best.Confidence {
			best = &mt
		}
	}
	if best == nil {
		return nil, nil
	}
	return &command.Result{
		Kind:       best.Kind,
		Target:     best.Target,
		Duration:   best.Duration,
		Confidence: best.Confidence,
		DetectorID: d.id,
	}, nil
}

// Defaults returns one [PhraseDetector] per command family sharing a single
// matcher built from opts. Kinds listed in disabled are skipped.
func Defaults(disabled []command.Kind, opts ...phrase.Option) []Detector {
	m := phrase.New(opts...)
	var out []Detector
	for _, k := range command.Kinds() {
		skip := false
		for _, d := range disabled {
			if d == k {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, NewPhraseDetector(k, m))
		}
	}
	return out
}

// DetectorFunc adapts a function to the [Detector] interface.
type DetectorFunc struct {
	Name   string
	Family command.Kind
	Fn     func(ctx context.Context, text string) (*command.Result, error)
}

func (f DetectorFunc) ID() string         { return f.Name }
func (f DetectorFunc) Kind() command.Kind { return f.Family }

func (f DetectorFunc) Detect(ctx context.Context, text string) (*command.Result, error) {
	return f.Fn(ctx, text)
}
