package locator

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

func TestRegisterResolve(t *testing.T) {
	t.Parallel()

	c := New()
	k := NewKey[greeter]("greeter")
	if err := Register[greeter](c, k, english{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	g, err := Resolve(c, k)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Greet() != "hello" {
		t.Errorf("Greet = %q", g.Greet())
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	t.Parallel()

	c := New()
	if err := Register(c, NewKey[int]("answer"), 42); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		reg  func() error
	}{
		{"same type", func() error { return Register(c, NewKey[int]("answer"), 7) }},
		{"other type", func() error { return Register(c, NewKey[string]("answer"), "x") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.reg(); !errors.Is(err, ErrDuplicateKey) {
				t.Errorf("err = %v, want ErrDuplicateKey", err)
			}
		})
	}

	if v := MustResolve(c, NewKey[int]("answer")); v != 42 {
		t.Errorf("value overwritten: %d", v)
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	c := New()
	if err := Register(c, NewKey[*strings.Builder]("buf"), &strings.Builder{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := Resolve(c, NewKey[int]("missing")); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("missing: err = %v, want ErrNotRegistered", err)
	}
	if _, err := Resolve(c, NewKey[string]("buf")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("string key: err = %v, want ErrTypeMismatch", err)
	}
	// *strings.Builder satisfies io.Writer, but the registration was made
	// for the concrete type and must be resolved with it.
	if _, err := Resolve(c, NewKey[io.Writer]("buf")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("interface key: err = %v, want ErrTypeMismatch", err)
	}
}

func TestRegister_EmptyName(t *testing.T) {
	t.Parallel()

	if err := Register(New(), NewKey[int](""), 1); err == nil {
		t.Error("expected error for empty key name")
	}
}

func TestMustResolve_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustResolve(New(), NewKey[int]("nothing"))
}

func TestKeys_SortedAndConcurrent(t *testing.T) {
	t.Parallel()

	c := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Register(c, NewKey[int](fmt.Sprintf("svc-%02d", i)), i)
			_, _ = Resolve(c, NewKey[int]("svc-00"))
		}()
	}
	wg.Wait()

	keys := c.Keys()
	if len(keys) != 20 || keys[0] != "svc-00" || keys[19] != "svc-19" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestKey_String(t *testing.T) {
	t.Parallel()

	if got := NewKey[int]("answer").String(); got != "answer (int)" {
		t.Errorf("String = %q", got)
	}
}
