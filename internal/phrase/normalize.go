package phrase

import (
	"strings"
	"unicode"
)

// prefixJoins glues split prefixes that speech-to-text engines tend to emit
// ("un pause", "re start") back onto the verb.
var prefixJoins = map[string]map[string]bool{
	"un": {"pause": true},
	"re": {"start": true, "set": true, "sume": true},
}

// Tokenize lower-cases text, replaces punctuation with spaces, splits digit
// and letter runs ("5min" → "5 min"), and re-joins split verb prefixes.
// Decimal points between digits are kept.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text) + 8)

	rs := []rune(strings.ToLower(text))
	var prev rune
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsDigit(prev) {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if unicode.IsLetter(prev) {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
		case r == '.' && unicode.IsDigit(prev) && i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// "let's" → "lets"
			continue
		default:
			b.WriteByte(' ')
		}
		prev = r
	}

	raw := strings.Fields(b.String())
	out := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if nexts, ok := prefixJoins[raw[i]]; ok && i+1 < len(raw) && nexts[raw[i+1]] {
			out = append(out, raw[i]+raw[i+1])
			i++
			continue
		}
		out = append(out, raw[i])
	}
	return out
}

// hasPrefixAt reports whether toks[i:] starts with p.
func hasPrefixAt(toks []string, i int, p []string) bool {
	if i+len(p) > len(toks) {
		return false
	}
	for j, w := range p {
		if toks[i+j] != w {
			return false
		}
	}
	return true
}
