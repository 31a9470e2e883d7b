package phrase

import (
	"strconv"
	"time"
)

// maxSpokenNumber bounds numeric tokens so "inf" or "1e30" never overflow a
// time.Duration.
const maxSpokenNumber = 1e5

// maxSpokenDuration caps the sum of all pairs.
const maxSpokenDuration = maxSpokenNumber * time.Hour

var units = map[string]time.Duration{
	"hour": time.Hour, "hours": time.Hour, "hr": time.Hour, "hrs": time.Hour, "h": time.Hour,
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "mins": time.Minute,
	"second": time.Second, "seconds": time.Second, "sec": time.Second, "secs": time.Second,
}

var ones = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// parseNumber reads a number starting at toks[i] and returns its value and
// the number of tokens consumed. "a"/"an" count as one.
func parseNumber(toks []string, i int) (float64, int, bool) {
	if i >= len(toks) {
		return 0, 0, false
	}
	w := toks[i]
	if f, err := strconv.ParseFloat(w, 64); err == nil && f >= 0 && f < maxSpokenNumber {
		return f, 1, true
	}
	if w == "a" || w == "an" {
		return 1, 1, true
	}
	if n, ok := ones[w]; ok {
		return float64(n), 1, true
	}
	if n, ok := tens[w]; ok {
		if i+1 < len(toks) {
			if o, ok := ones[toks[i+1]]; ok && o > 0 && o < 10 {
				return float64(n + o), 2, true
			}
		}
		return float64(n), 1, true
	}
	return 0, 0, false
}

// span is a half-open token range [start, end).
type span struct{ start, end int }

// ParseDuration sums every "<number> <unit>" pair in toks. It understands
// "half an hour" and trailing "and a half". The second return value lists the
// token spans that were consumed so callers can exclude them from names.
func ParseDuration(toks []string) (time.Duration, []span) {
	var (
		total time.Duration
		used  []span
	)
	for i := 0; i < len(toks); {
		// "half an hour", "half a minute"
		if toks[i] == "half" && i+2 < len(toks) && (toks[i+1] == "a" || toks[i+1] == "an") {
			if u, ok := units[toks[i+2]]; ok {
				total = min(total+u/2, maxSpokenDuration)
				used = append(used, span{i, i + 3})
				i += 3
				continue
			}
		}

		n, width, ok := parseNumber(toks, i)
		if !ok || i+width >= len(toks) {
			i++
			continue
		}
		u, ok := units[toks[i+width]]
		if !ok {
			i++
			continue
		}
		end := i + width + 1
		total += time.Duration(n * float64(u))
		if hasPrefixAt(toks, end, []string{"and", "a", "half"}) {
			total += u / 2
			end += 3
		}
		total = min(total, maxSpokenDuration)
		used = append(used, span{i, end})
		i = end
	}
	return total, used
}

func inSpans(i int, spans []span) bool {
	for _, s := range spans {
		if i >= s.start && i < s.end {
			return true
		}
	}
	return false
}
