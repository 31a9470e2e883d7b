package phrase

import (
	"strings"

	"github.com/MrWong99/voxtimer/internal/command"
)

// Lexicon lists the verb phrases of one command family. The canonical verb
// scores higher than its synonyms.
type Lexicon struct {
	Kind      command.Kind
	Canonical string
	Synonyms  []string
}

// DefaultLexicons returns the built-in English vocabulary.
func DefaultLexicons() []Lexicon {
	return []Lexicon{
		{
			Kind:      command.KindStart,
			Canonical: "start",
			Synonyms:  []string{"begin", "kick off", "set", "set up", "create", "make", "launch", "fire up"},
		},
		{
			Kind:      command.KindPause,
			Canonical: "pause",
			Synonyms:  []string{"hold", "freeze", "suspend"},
		},
		{
			Kind:      command.KindResume,
			Canonical: "resume",
			Synonyms:  []string{"continue", "unpause", "carry on", "keep going"},
		},
		{
			Kind:      command.KindStop,
			Canonical: "stop",
			Synonyms:  []string{"cancel", "end", "terminate", "abort", "kill"},
		},
		{
			Kind:      command.KindReset,
			Canonical: "reset",
			Synonyms:  []string{"restart", "start over", "clear"},
		},
	}
}

// objectWords mark the utterance as being about a timer.
var objectWords = map[string]bool{
	"timer":      true,
	"timers":     true,
	"countdown":  true,
	"countdowns": true,
}

// nameClauseWords introduce an explicit timer name.
var nameClauseWords = map[string]bool{
	"called":   true,
	"named":    true,
	"labeled":  true,
	"labelled": true,
	"titled":   true,
}

// allWords address every timer at once.
var allWords = map[string]bool{
	"everything": true,
	"all":        true,
	"every":      true,
	"both":       true,
}

// fillers may surround a bare verb ("pause please") without changing intent.
var fillers = map[string]bool{
	"please": true,
	"now":    true,
	"hey":    true,
	"ok":     true,
	"okay":   true,
	"it":     true,
	"that":   true,
	"lets":   true,
	"just":   true,
}

// determiners are skipped when reading a direct-object name.
var determiners = map[string]bool{
	"the":  true,
	"a":    true,
	"an":   true,
	"my":   true,
	"this": true,
	"that": true,
	"our":  true,
	"your": true,
	"new":  true,
	"of":   true,
	"them": true,
}

// nameStops end a name clause.
var nameStops = map[string]bool{
	"for":    true,
	"and":    true,
	"then":   true,
	"please": true,
	"now":    true,
	"with":   true,
	"to":     true,
	"timer":  true,
	"timers": true,
}

// particles after a verb form a different phrasal verb ("end up", "hold
// off"), so the verb is not read as a command.
var particles = map[string]bool{
	"up":     true,
	"off":    true,
	"out":    true,
	"down":   true,
	"by":     true,
	"around": true,
}

// fuzzyStopwords are never considered as misheard verbs.
var fuzzyStopwords = map[string]bool{
	"the": true, "and": true, "you": true, "can": true, "could": true,
	"would": true, "please": true, "for": true, "this": true, "that": true,
	"my": true, "our": true, "your": true, "all": true, "now": true,
	"lets": true, "want": true, "need": true, "will": true,
}

func splitPhrase(p string) []string { return Tokenize(p) }

func joinTokens(toks []string) string { return strings.Join(toks, " ") }
