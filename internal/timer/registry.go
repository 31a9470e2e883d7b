package timer

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Registry owns every timer. Mutating methods are meant for a single logical
// writer; they are additionally guarded by a mutex so a misbehaving caller
// cannot corrupt the map. Readers never block: [Registry.List] and
// [Registry.Lookup] read an immutable snapshot that the writer swaps in with
// [Registry.Publish].
type Registry struct {
	mu     sync.Mutex
	timers map[string]*Timer
	order  []string
	newID  func() string

	view atomic.Pointer[[]Snapshot]
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		timers: make(map[string]*Timer),
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	empty := []Snapshot{}
	r.view.Store(&empty)
	return r
}

// Create adds a new timer in the Created state. The change becomes visible to
// readers on the next [Registry.Publish].
func (r *Registry) Create(name string, d time.Duration, now time.Time) (*Timer, error) {
	t, err := newTimer(r.newID(), strings.TrimSpace(name), d, now)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[t.id] = t
	r.order = append(r.order, t.id)
	return t, nil
}

// Get returns the mutable timer with the given ID. Writer only.
func (r *Registry) Get(id string) (*Timer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[id]
	return t, ok
}

// Delete removes the timer with the given ID and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[id]; !ok {
		return false
	}
	delete(r.timers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns the mutable timers in creation order. Writer only.
func (r *Registry) All() []*Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Timer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.timers[id])
	}
	return out
}

// Find returns the timers matching pred, in creation order. Writer only.
func (r *Registry) Find(pred func(*Timer) bool) []*Timer {
	var out []*Timer
	for _, t := range r.All() {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of timers, including unpublished ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Publish rebuilds the reader snapshot from the current timers.
func (r *Registry) Publish() {
	r.mu.Lock()
	snaps := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		snaps = append(snaps, r.timers[id].Snapshot())
	}
	r.mu.Unlock()
	r.view.Store(&snaps)
}

// List returns the last published snapshot in creation order. The returned
// slice must not be modified.
func (r *Registry) List() []Snapshot {
	return *r.view.Load()
}

// Lookup returns the published snapshot of a single timer.
func (r *Registry) Lookup(id string) (Snapshot, bool) {
	for _, s := range r.List() {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Counts returns the number of published timers per state.
func (r *Registry) Counts() map[State]int {
	counts := make(map[State]int, 5)
	for _, s := range r.List() {
		counts[s.State]++
	}
	return counts
}
