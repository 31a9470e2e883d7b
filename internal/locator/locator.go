// Package locator is a typed service container.
//
// Services are registered and resolved through a [Key], which carries both a
// name and the service type. A name can be registered exactly once; a second
// registration fails instead of replacing the first, and resolving a name
// through a key of a different type fails instead of returning a value of the
// wrong type.
package locator

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

var (
	// ErrDuplicateKey is returned when a name is registered twice.
	ErrDuplicateKey = errors.New("locator: key already registered")

	// ErrNotRegistered is returned when resolving a name nobody registered.
	ErrNotRegistered = errors.New("locator: key not registered")

	// ErrTypeMismatch is returned when the registered value does not have the
	// type of the key used to resolve it.
	ErrTypeMismatch = errors.New("locator: type mismatch")
)

// Key identifies a service of type T.
type Key[T any] struct {
	name string
}

// NewKey returns the key for the service called name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the service name.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string {
	return fmt.Sprintf("%s (%s)", k.name, reflect.TypeFor[T]())
}

type entry struct {
	value any
	typ   reflect.Type
}

// Container holds registered services. It is safe for concurrent use.
type Container struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Container.
func New() *Container {
	return &Container{entries: make(map[string]entry)}
}

// Register stores v under k. It returns [ErrDuplicateKey] if k's name is
// already taken, whatever type the existing entry has.
func Register[T any](c *Container, k Key[T], v T) error {
	if k.name == "" {
		return errors.New("locator: empty key name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[k.name]; ok {
		return fmt.Errorf("%w: %q already holds %s", ErrDuplicateKey, k.name, prev.typ)
	}
	c.entries[k.name] = entry{value: v, typ: reflect.TypeFor[T]()}
	return nil
}

// Resolve returns the service registered under k.
func Resolve[T any](c *Container, k Key[T]) (T, error) {
	var zero T
	c.mu.RLock()
	e, ok := c.entries[k.name]
	c.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNotRegistered, k.name)
	}
	v, ok := e.value.(T)
	if !ok || e.typ != reflect.TypeFor[T]() {
		return zero, fmt.Errorf("%w: %q holds %s, not %s", ErrTypeMismatch, k.name, e.typ, reflect.TypeFor[T]())
	}
	return v, nil
}

// MustResolve is like [Resolve] but panics on error. It is meant for
// accessors over services registered at startup.
func MustResolve[T any](c *Container, k Key[T]) T {
	v, err := Resolve(c, k)
	if err != nil {
		panic(err)
	}
	return v
}

// Keys returns the registered names in sorted order.
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
