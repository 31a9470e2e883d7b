// Package phrase turns a transcribed utterance into candidate timer commands.
//
// Matching is lexical: each command family has a canonical verb and a set of
// synonyms, and an utterance must pair a verb with an object phrase ("the
// timer", "everything", "a timer called pasta"). Near-miss verbs produced by
// speech-to-text errors ("paws the timer") are recovered with Double
// Metaphone and Jaro-Winkler similarity at reduced confidence.
//
// A [Matcher] is read-only after construction and safe for concurrent use.
package phrase

import (
	"slices"
	"sort"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxtimer/internal/command"
)

// Confidence tiers.
const (
	ConfidenceCanonical = 1.0
	ConfidenceSynonym   = 0.85
	ConfidenceBare      = 0.55
	ConfidenceFuzzyMin  = 0.5
	ConfidenceFuzzyMax  = 0.7
)

const (
	defaultMinConfidence  = 0.4
	defaultFuzzyThreshold = 0.85

	// fuzzyFloor is the lowest Jaro-Winkler score accepted when the
	// phonetic codes of the token and the verb overlap.
	fuzzyFloor = 0.70
)

// Match is one candidate interpretation of an utterance.
type Match struct {
	Kind   command.Kind
	Target command.Target

	// Duration is only set for [command.KindStart].
	Duration time.Duration

	Confidence float64

	// Verb is the lexicon phrase that triggered the match.
	Verb string

	// Fuzzy is set when Verb was recovered from a near-miss token.
	Fuzzy bool
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithMinConfidence drops matches scoring below f. Default: 0.4.
func WithMinConfidence(f float64) Option {
	return func(m *Matcher) { m.minConfidence = f }
}

// WithFuzzyThreshold sets the Jaro-Winkler score a near-miss verb needs when
// its phonetic codes do not overlap with the lexicon verb. Default: 0.85.
func WithFuzzyThreshold(f float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = f }
}

// WithoutFuzzy disables near-miss verb recovery.
func WithoutFuzzy() Option {
	return func(m *Matcher) { m.fuzzy = false }
}

// WithSynonyms adds extra synonyms to the family of kind.
func WithSynonyms(kind command.Kind, phrases ...string) Option {
	return func(m *Matcher) { m.extra[kind] = append(m.extra[kind], phrases...) }
}

// WithLexicons replaces the built-in vocabulary.
func WithLexicons(lex []Lexicon) Option {
	return func(m *Matcher) { m.lexicons = lex }
}

type verbPhrase struct {
	toks      []string
	canonical bool
}

type codedWord struct {
	word             string
	primary, altCode string
}

// Matcher classifies utterances against the command lexicons.
type Matcher struct {
	lexicons       []Lexicon
	extra          map[command.Kind][]string
	minConfidence  float64
	fuzzyThreshold float64
	fuzzy          bool

	kinds   []command.Kind
	byKind  map[command.Kind][]verbPhrase
	singles map[command.Kind][]codedWord
	vocab   map[string]bool
}

// New returns a Matcher using the default English lexicons unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		lexicons:       DefaultLexicons(),
		extra:          make(map[command.Kind][]string),
		minConfidence:  defaultMinConfidence,
		fuzzyThreshold: defaultFuzzyThreshold,
		fuzzy:          true,
	}
	for _, o := range opts {
		o(m)
	}
	m.compile()
	return m
}

func (m *Matcher) compile() {
	m.byKind = make(map[command.Kind][]verbPhrase)
	m.singles = make(map[command.Kind][]codedWord)
	m.vocab = make(map[string]bool)

	add := func(k command.Kind, p string, canonical bool) {
		toks := splitPhrase(p)
		if len(toks) == 0 {
			return
		}
		m.byKind[k] = append(m.byKind[k], verbPhrase{toks: toks, canonical: canonical})
		for _, w := range toks {
			m.vocab[w] = true
		}
		if len(toks) == 1 {
			p, s := matchr.DoubleMetaphone(toks[0])
			m.singles[k] = append(m.singles[k], codedWord{word: toks[0], primary: p, altCode: s})
		}
	}

	for _, lex := range m.lexicons {
		if !slices.Contains(m.kinds, lex.Kind) {
			m.kinds = append(m.kinds, lex.Kind)
		}
		add(lex.Kind, lex.Canonical, true)
		for _, syn := range lex.Synonyms {
			add(lex.Kind, syn, false)
		}
	}
	for k, syns := range m.extra {
		if !slices.Contains(m.kinds, k) {
			m.kinds = append(m.kinds, k)
		}
		for _, syn := range syns {
			add(k, syn, false)
		}
	}
}

// Kinds returns the command families this matcher knows.
func (m *Matcher) Kinds() []command.Kind { return slices.Clone(m.kinds) }

// Match returns every family whose match reaches the minimum confidence,
// highest confidence first.
func (m *Matcher) Match(text string) []Match {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return nil
	}
	var out []Match
	for _, k := range m.kinds {
		if mt, ok := m.matchKind(toks, k); ok {
			out = append(out, mt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// MatchKind evaluates a single family.
func (m *Matcher) MatchKind(text string, k command.Kind) (Match, bool) {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return Match{}, false
	}
	return m.matchKind(toks, k)
}

func (m *Matcher) matchKind(toks []string, k command.Kind) (Match, bool) {
	mt, ok := m.exact(toks, k)
	if !ok {
		mt, ok = m.bare(toks, k)
	}
	if !ok && m.fuzzy {
		mt, ok = m.near(toks, k)
	}
	if !ok || mt.Confidence < m.minConfidence {
		return Match{}, false
	}
	return mt, true
}

// longestAt returns the length of the longest lexicon phrase of any family
// starting at toks[i], so "start over" never reads as "start".
func (m *Matcher) longestAt(toks []string, i int) int {
	best := 0
	for _, phrases := range m.byKind {
		for _, vp := range phrases {
			if len(vp.toks) > best && hasPrefixAt(toks, i, vp.toks) {
				best = len(vp.toks)
			}
		}
	}
	return best
}

func (m *Matcher) exact(toks []string, k command.Kind) (Match, bool) {
	for i := range toks {
		n := m.longestAt(toks, i)
		if n == 0 || (i+n < len(toks) && particles[toks[i+n]]) {
			continue
		}
		for _, vp := range m.byKind[k] {
			if len(vp.toks) != n || !hasPrefixAt(toks, i, vp.toks) {
				continue
			}
			if !hasObject(toks, i+n, k) {
				continue
			}
			conf := ConfidenceSynonym
			if vp.canonical {
				conf = ConfidenceCanonical
			}
			return build(toks, k, i+n, conf, joinTokens(vp.toks), false), true
		}
	}
	return Match{}, false
}

// bare matches an utterance that consists of nothing but a verb phrase and
// fillers, e.g. "pause please".
func (m *Matcher) bare(toks []string, k command.Kind) (Match, bool) {
	core := make([]string, 0, len(toks))
	for _, w := range toks {
		if !fillers[w] {
			core = append(core, w)
		}
	}
	if len(core) == 0 {
		return Match{}, false
	}
	for _, vp := range m.byKind[k] {
		if slices.Equal(core, vp.toks) {
			return Match{Kind: k, Confidence: ConfidenceBare, Verb: joinTokens(vp.toks)}, true
		}
	}
	return Match{}, false
}

// near recovers a misheard verb that precedes an object phrase.
func (m *Matcher) near(toks []string, k command.Kind) (Match, bool) {
	obj := objectIndex(toks, 0, k)
	if obj <= 0 {
		return Match{}, false
	}

	var (
		best   float64
		bestAt = -1
		verb   string
	)
	for j := 0; j < obj; j++ {
		w := toks[j]
		if len(w) < 3 || m.vocab[w] || fuzzyStopwords[w] || determiners[w] {
			continue
		}
		if _, _, isNum := parseNumber(toks, j); isNum {
			continue
		}
		wp, ws := matchr.DoubleMetaphone(w)
		for _, cw := range m.singles[k] {
			s, ok := m.similarity(w, wp, ws, cw)
			if ok && s > best {
				best, bestAt, verb = s, j, cw.word
			}
		}
	}
	if bestAt < 0 {
		return Match{}, false
	}

	scale := (best - fuzzyFloor) / (1 - fuzzyFloor)
	scale = min(max(scale, 0), 1)
	conf := ConfidenceFuzzyMin + (ConfidenceFuzzyMax-ConfidenceFuzzyMin)*scale
	return build(toks, k, bestAt+1, conf, verb, true), true
}

func (m *Matcher) similarity(w, wp, ws string, cw codedWord) (float64, bool) {
	jw := matchr.JaroWinkler(w, cw.word, false)
	if phoneticOverlap(wp, ws, cw.primary, cw.altCode) && jw >= fuzzyFloor {
		return jw, true
	}
	if jw >= m.fuzzyThreshold {
		return jw, true
	}
	return 0, false
}

func phoneticOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || a == bs {
			return true
		}
	}
	return false
}

// hasObject reports whether an object phrase follows position from.
func hasObject(toks []string, from int, k command.Kind) bool {
	return objectIndex(toks, from, k) >= 0
}

// objectIndex returns the position of the first object phrase at or after
// from, or -1. For start commands a spoken duration also counts as object
// ("set five minutes").
func objectIndex(toks []string, from int, k command.Kind) int {
	for j := from; j < len(toks); j++ {
		w := toks[j]
		switch {
		case objectWords[w]:
			return j
		case nameClauseWords[w] && j+1 < len(toks):
			return j
		case w == "everything" || w == "all" || w == "both":
			return j
		case w == "every" && j+1 < len(toks) && objectWords[toks[j+1]]:
			return j
		}
	}
	if k == command.KindStart {
		if _, spans := ParseDuration(toks); len(spans) > 0 && spans[0].start >= from {
			return spans[0].start
		}
	}
	return -1
}

func build(toks []string, k command.Kind, verbEnd int, conf float64, verb string, fuzzy bool) Match {
	dur, spans := ParseDuration(toks)
	mt := Match{
		Kind:       k,
		Target:     extractTarget(toks, verbEnd, spans),
		Confidence: conf,
		Verb:       verb,
		Fuzzy:      fuzzy,
	}
	if k == command.KindStart {
		mt.Duration = dur
	}
	return mt
}

func extractTarget(toks []string, from int, spans []span) command.Target {
	for j := from; j < len(toks); j++ {
		if nameClauseWords[toks[j]] {
			if name := collectName(toks, j+1, spans); name != "" {
				return command.Target{Name: name}
			}
		}
	}

	for j := from; j < len(toks); j++ {
		switch w := toks[j]; {
		case w == "everything" || w == "all" || w == "both":
			return command.Target{All: true}
		case w == "every" && j+1 < len(toks) && objectWords[toks[j+1]]:
			return command.Target{All: true}
		case w == "timers" || w == "countdowns":
			return command.Target{All: true}
		}
	}

	for j := from; j < len(toks); j++ {
		if !objectWords[toks[j]] {
			continue
		}
		var name []string
		for x := from; x < j; x++ {
			w := toks[x]
			if inSpans(x, spans) || determiners[w] || fillers[w] || w == "another" {
				continue
			}
			if _, _, isNum := parseNumber(toks, x); isNum {
				continue
			}
			name = append(name, w)
		}
		if len(name) > 0 {
			return command.Target{Name: joinTokens(name)}
		}
		// "a timer for pasta"
		if j+1 < len(toks) && toks[j+1] == "for" {
			if n := collectName(toks, j+2, spans); n != "" {
				return command.Target{Name: n}
			}
		}
		break
	}
	return command.Target{}
}

// collectName reads name tokens starting at from until a stop word or a
// spoken duration.
func collectName(toks []string, from int, spans []span) string {
	var name []string
	for j := from; j < len(toks); j++ {
		w := toks[j]
		if nameStops[w] || inSpans(j, spans) {
			break
		}
		if len(name) == 0 && determiners[w] {
			continue
		}
		name = append(name, w)
	}
	return joinTokens(name)
}
