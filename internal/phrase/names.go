package phrase

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultNamePhoneticThreshold = 0.70
	defaultNameFuzzyThreshold    = 0.85
)

// NameOption configures a [NameMatcher].
type NameOption func(*NameMatcher)

// WithNamePhoneticThreshold sets the Jaro-Winkler score a phonetically
// matching name must reach. Default: 0.70.
func WithNamePhoneticThreshold(f float64) NameOption {
	return func(m *NameMatcher) { m.phoneticThreshold = f }
}

// WithNameFuzzyThreshold sets the Jaro-Winkler score required when the
// phonetic codes do not overlap. Default: 0.85.
func WithNameFuzzyThreshold(f float64) NameOption {
	return func(m *NameMatcher) { m.fuzzyThreshold = f }
}

// NameMatcher resolves a spoken timer name against the names of existing
// timers, tolerating transcription errors ("pastor" for "pasta").
//
// Exact case-insensitive matches always win. Otherwise candidates whose
// Double Metaphone codes overlap with the spoken name are ranked by
// Jaro-Winkler similarity; without phonetic overlap a stricter pure
// Jaro-Winkler threshold applies.
type NameMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNameMatcher returns a NameMatcher with default thresholds.
func NewNameMatcher(opts ...NameOption) *NameMatcher {
	m := &NameMatcher{
		phoneticThreshold: defaultNamePhoneticThreshold,
		fuzzyThreshold:    defaultNameFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Resolve returns the entry of names that best matches spoken, its score,
// and whether any name matched.
func (m *NameMatcher) Resolve(spoken string, names []string) (string, float64, bool) {
	spokenNorm := strings.Join(Tokenize(spoken), " ")
	if spokenNorm == "" || len(names) == 0 {
		return "", 0, false
	}
	for _, n := range names {
		if strings.Join(Tokenize(n), " ") == spokenNorm {
			return n, 1, true
		}
	}

	spokenToks := strings.Fields(spokenNorm)
	spokenCodes := metaphoneSet(spokenToks)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		nameToks := Tokenize(n)
		if len(nameToks) == 0 {
			continue
		}
		phonetic := setsOverlap(spokenCodes, metaphoneSet(nameToks))
		score := pairScore(spokenToks, nameToks)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = n, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = n, score
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func metaphoneSet(toks []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func setsOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// pairScore is the best Jaro-Winkler similarity among the joined phrases,
// their space-free forms, and every token pair.
func pairScore(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 || len(b) > 1 {
		if s := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); s > score {
			score = s
		}
	}
	for _, x := range a {
		for _, y := range b {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
