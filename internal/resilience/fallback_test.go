package resilience

import (
	"errors"
	"testing"
	"time"
)

func newGroup(cfg CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	g := NewFallbackGroup[string](cfg)
	for _, n := range names {
		g.Add(n, n)
	}
	return g
}

func TestFallbackGroup_FirstHealthyMemberWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr error
	}{
		{"primary succeeds", nil, "postgres", nil},
		{"primary fails", map[string]bool{"postgres": true}, "file", nil},
		{"all fail", map[string]bool{"postgres": true, "file": true}, "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "postgres", "file")
			var called string
			err := g.Execute(func(v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v does not wrap the last failure", err)
			}
			if called != tt.want {
				t.Errorf("called = %q, want %q", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenMember(t *testing.T) {
	t.Parallel()

	g := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "postgres", "file")
	failPrimary := func(v string) error {
		if v == "postgres" {
			return errTest
		}
		return nil
	}
	_ = g.Execute(failPrimary)
	_ = g.Execute(failPrimary)

	calls := map[string]int{}
	_ = g.Execute(func(v string) error {
		calls[v]++
		return nil
	})
	if calls["postgres"] != 0 || calls["file"] != 1 {
		t.Errorf("calls = %v, want the open primary skipped", calls)
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	g := newGroup(CircuitBreakerConfig{}, "postgres", "file")
	n, err := Query(g, func(v string) (int, error) {
		if v == "postgres" {
			return 0, errTest
		}
		return len(v), nil
	})
	if err != nil || n != 4 {
		t.Errorf("Query = %d, %v", n, err)
	}

	empty := NewFallbackGroup[string](CircuitBreakerConfig{})
	if _, err := Query(empty, func(string) (int, error) { return 1, nil }); !errors.Is(err, ErrAllFailed) {
		t.Errorf("empty group err = %v, want ErrAllFailed", err)
	}
	if empty.Len() != 0 || g.Len() != 2 {
		t.Errorf("Len = %d, %d", empty.Len(), g.Len())
	}
}
