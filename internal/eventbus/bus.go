// Package eventbus fans timer events out to any number of subscribers
// without ever blocking the publisher.
//
// Each subscription owns a bounded queue. When a slow subscriber lets its
// queue fill up, the oldest queued event is discarded and counted; the
// publisher and all other subscribers are unaffected. Events are delivered to
// every subscriber in publish order.
package eventbus

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/timer"
)

// ErrClosed is returned by [Subscription.Next] once the subscription (or the
// whole bus) has been closed and its queue is drained.
var ErrClosed = errors.New("eventbus: subscription closed")

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 64

// Option configures a [Bus].
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue capacity. Default: 64.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithReplay keeps the last n events and delivers them to new subscribers
// before live events. Default: 0 (no replay).
func WithReplay(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.replaySize = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// Bus is a non-blocking publish/subscribe hub for [timer.Event] values.
type Bus struct {
	queueSize  int
	replaySize int
	metrics    *observe.Metrics

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	replay []timer.Event
	closed bool
}

// New returns an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Publish delivers ev to every current subscriber. It never blocks on a
// subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev timer.Event) {
	// The write lock orders concurrent publishers so every subscriber sees
	// the same sequence.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.replaySize > 0 {
		if len(b.replay) == b.replaySize {
			copy(b.replay, b.replay[1:])
			b.replay = b.replay[:len(b.replay)-1]
		}
		b.replay = append(b.replay, ev)
	}
	for _, s := range b.subs {
		s.push(ev)
	}
	b.metrics.EventsPublished.Add(context.Background(), 1)
}

// Subscribe registers a new subscriber. The caller must Close it when done.
// On a closed bus the returned subscription is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		bus:    b,
		id:     b.nextID,
		size:   b.queueSize,
		queue:  make([]timer.Event, 0, b.queueSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.nextID++

	if b.closed {
		s.closeOnce.Do(func() { close(s.done) })
		return s
	}
	for _, ev := range b.replay {
		s.push(ev)
	}
	b.subs[s.id] = s
	b.metrics.Subscribers.Add(context.Background(), 1)
	return s
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Subscribers can still drain queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.closeOnce.Do(func() { close(s.done) })
		b.metrics.Subscribers.Add(context.Background(), -1)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		b.metrics.Subscribers.Add(context.Background(), -1)
	}
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	size int

	mu    sync.Mutex
	queue []timer.Event

	dropped   atomic.Uint64
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) push(ev timer.Event) {
	s.mu.Lock()
	if len(s.queue) == s.size {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		n := s.dropped.Add(1)
		s.bus.metrics.EventsDropped.Add(context.Background(), 1)
		if n == 1 || n%100 == 0 {
			slog.Warn("eventbus: subscriber queue full, dropping oldest event",
				"subscriber", s.id,
				"dropped_total", n,
			)
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (timer.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return timer.Event{}, false
	}
	ev := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue = s.queue[:len(s.queue)-1]
	return ev, true
}

// Next blocks until an event is available, ctx is done, or the subscription
// is closed and drained.
func (s *Subscription) Next(ctx context.Context) (timer.Event, error) {
	for {
		if ev, ok := s.pop(); ok {
			return ev, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			if ev, ok := s.pop(); ok {
				return ev, nil
			}
			return timer.Event{}, ErrClosed
		case <-ctx.Done():
			return timer.Event{}, ctx.Err()
		}
	}
}

// Events returns a lazy sequence of events that ends when ctx is done or the
// subscription is closed.
func (s *Subscription) Events(ctx context.Context) iter.Seq[timer.Event] {
	return func(yield func(timer.Event) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.closeOnce.Do(func() { close(s.done) })
}
