package transcript

import (
	"sync"
	"time"
)

const (
	// DefaultHistorySize is the number of outcomes a [History] keeps.
	DefaultHistorySize = 100

	// DefaultHistoryAge is how long a [History] keeps an outcome.
	DefaultHistoryAge = 30 * time.Minute
)

// History is a bounded buffer of recent outcomes. Entries beyond the maximum
// count or older than the maximum age are evicted on every [History.Add].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Outcome
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewHistory returns a History holding at most maxSize outcomes no older than
// maxAge. Non-positive values select the defaults.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	if maxAge <= 0 {
		maxAge = DefaultHistoryAge
	}
	return &History{
		entries: make([]Outcome, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends o and evicts what no longer fits.
func (h *History) Add(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, o)
	h.evict()
}

// Recent returns up to n of the newest outcomes within the age window, oldest
// first. n <= 0 returns all of them.
func (h *History) Recent(n int) []Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.now().Add(-h.maxAge)
	start := 0
	for start < len(h.entries) && h.entries[start].ProcessedAt.Before(cutoff) {
		start++
	}
	live := h.entries[start:]
	if n > 0 && len(live) > n {
		live = live[len(live)-n:]
	}
	out := make([]Outcome, len(live))
	copy(out, live)
	return out
}

// Len returns the number of retained outcomes.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// evict drops expired and surplus entries. Must be called with h.mu held.
// Survivors are copied to a fresh array so evicted outcomes can be collected.
func (h *History) evict() {
	cutoff := h.now().Add(-h.maxAge)
	start := 0
	for start < len(h.entries) && h.entries[start].ProcessedAt.Before(cutoff) {
		start++
	}
	keep := h.entries[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}
	if len(keep) < len(h.entries) {
		fresh := make([]Outcome, len(keep), h.maxSize)
		copy(fresh, keep)
		h.entries = fresh
	}
}
