// Package eventstream fans detection decisions out to subscribers.
//
// A [Broker] turns emitted [detector.Decision] values into [Event] values
// with a stable ID and delivers them to every subscriber without blocking
// the publisher: a subscriber whose buffer is full misses the event. The
// [Handler] streams events to WebSocket clients.
package eventstream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hearken/internal/detector"
	"github.com/MrWong99/hearken/internal/observe"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Event is one published detection.
type Event struct {
	// ID uniquely identifies the event across restarts.
	ID string `json:"id"`

	// Kind is "command", "silence" or "other".
	Kind string `json:"kind"`

	Label string  `json:"label"`
	Score float32 `json:"score"`

	// Time is when the detector made the decision.
	Time time.Time `json:"time"`
}

// Broker delivers events to subscribers. The zero value is not usable;
// create one with [NewBroker].
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	buffer       int
	includeOther atomic.Bool
	metrics      *observe.Metrics

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a [Broker].
type Option func(*Broker)

// WithBuffer sets the per-subscriber channel capacity. Values < 1 are
// ignored.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithIncludeOther publishes [detector.KindOther] decisions. By default only
// command and silence decisions are published.
func WithIncludeOther(include bool) Option {
	return func(b *Broker) { b.includeOther.Store(include) }
}

// WithMetrics records the subscriber gauge on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// NewBroker returns a ready-to-use Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[uint64]chan Event),
		buffer: DefaultBuffer,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetIncludeOther changes whether [detector.KindOther] decisions are
// published.
func (b *Broker) SetIncludeOther(include bool) { b.includeOther.Store(include) }

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
// Subscribing to a closed broker returns an already closed channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()
	b.addSubscribers(1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[id]
			if ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
			if ok {
				b.addSubscribers(-1)
			}
		})
	}
	return ch, cancel
}

// Publish converts d into an [Event] and delivers it to every subscriber. It
// reports false when d is not published: nothing was emitted, d is a
// non-command decision while other labels are excluded, or the broker is
// closed.
func (b *Broker) Publish(d detector.Decision) (Event, bool) {
	if !d.Emitted() {
		return Event{}, false
	}
	if d.Kind == detector.KindOther && !b.includeOther.Load() {
		return Event{}, false
	}

	ev := Event{
		ID:    uuid.NewString(),
		Kind:  d.Kind.String(),
		Label: d.Label,
		Score: d.Score,
		Time:  d.Time,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}, false
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			slog.Warn("eventstream: subscriber too slow, dropping event",
				"subscriber", id,
				"label", ev.Label,
			)
		}
	}
	b.published.Add(1)
	return ev, true
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns the number of published events and of per-subscriber
// deliveries dropped because a buffer was full.
func (b *Broker) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	n := len(b.subs)
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.addSubscribers(-int64(n))
}

func (b *Broker) addSubscribers(n int64) {
	if b.metrics != nil && n != 0 {
		b.metrics.ActiveSubscribers.Add(context.Background(), n)
	}
}
