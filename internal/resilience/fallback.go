package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of the same kind in priority order. Calls go
// to the first member whose breaker admits them and move on when it fails.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup returns an empty group. cfg is the template for each
// member's breaker; its Name is replaced by the member name.
func NewFallbackGroup[T any](cfg CircuitBreakerConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a member. It must not be called concurrently with
// [FallbackGroup.Execute] or [Query].
func (g *FallbackGroup[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of members.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Execute calls fn on each member in order until one succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := Query(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Query is [FallbackGroup.Execute] for calls that return a value.
func Query[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr = errors.New("no members")
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend with open circuit", "backend", m.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next", "backend", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
