// Package bus implements the tagged publish/subscribe primitive that
// connects Muster components. The coordinator holds one bus instance and
// each agent holds its own; the only cross-process hop is the Forwarder,
// which ships agent-local events in the reserved "coord." namespace over
// the transport to the coordinator's bus.
//
// Delivery is explicitly best-effort: each subscription owns a bounded
// queue, and when the queue is full the oldest undelivered event is
// dropped and counted. Publishing never blocks and never fails.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/muster-io/muster/pkg/fleet"
)

// DefaultQueueCapacity is the per-subscription delivery queue size used
// when a bus is created with a non-positive capacity.
const DefaultQueueCapacity = 64

// Bus is an in-process event dispatcher. A single instance is created at
// process start and handed to each component that publishes or subscribes;
// there is no package-level global.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	queueCap int
}

// New creates a bus whose subscriptions buffer up to queueCapacity events.
// A non-positive capacity selects DefaultQueueCapacity.
func New(queueCapacity int) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		queueCap: queueCapacity,
	}
}

// Publish creates an event and delivers it to every live subscription
// whose pattern matches the tag. Publish never blocks on slow subscribers
// and never returns an error to the caller; the built event is returned
// so callers can log or correlate it.
func (b *Bus) Publish(tag string, data map[string]any, origin string) *fleet.Event {
	ev := fleet.NewEvent(tag, data, origin)
	b.Forward(ev)
	return ev
}

// Forward delivers an existing event without reassigning its identity or
// origin. The coordinator's transport inlet uses this to re-publish
// agent-origin events as if they were published locally.
func (b *Bus) Forward(ev *fleet.Event) {
	if ev == nil || ev.Validate() != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// Synchronous fan-out under the read lock keeps per-origin publish
	// order intact for every subscriber.
	for sub := range b.subs {
		if fleet.MatchTag(sub.pattern, ev.Tag) {
			sub.offer(ev)
		}
	}
}

// Subscribe registers a subscription for the given pattern: an exact tag,
// the universal wildcard "*", or a prefix ending in ".*". The returned
// subscription must be released with Close (or bus.Unsubscribe) when the
// subscriber is done.
func (b *Bus) Subscribe(pattern string) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("subscription pattern cannot be empty")
	}
	if pattern != "*" {
		tag := pattern
		if cut, ok := cutWildcard(pattern); ok {
			tag = cut
		}
		if err := fleet.ValidateTag(tag); err != nil {
			return nil, fmt.Errorf("invalid subscription pattern %q: %w", pattern, err)
		}
	}

	sub := &Subscription{
		pattern: pattern,
		events:  make(chan *fleet.Event, b.queueCap),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// Unsubscribe releases a subscription. Events already queued are still
// delivered; the events channel closes once they are drained.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.Close()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func cutWildcard(pattern string) (string, bool) {
	if len(pattern) > 2 && pattern[len(pattern)-2:] == ".*" {
		return pattern[:len(pattern)-2], true
	}
	return pattern, false
}

// Subscription is one subscriber's handle on the bus. Receive from
// Events() to consume matching events; the channel blocks until an event
// arrives and closes after the subscription is released.
type Subscription struct {
	pattern string
	events  chan *fleet.Event
	dropped atomic.Uint64
	bus     *Bus

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// Events returns the delivery channel. It is closed by Close; events
// queued before the close are still delivered first.
func (s *Subscription) Events() <-chan *fleet.Event {
	return s.events
}

// Pattern returns the tag pattern this subscription was created with.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Dropped returns how many events this subscription has lost to queue
// overflow. Overflow is expected behavior under the best-effort contract,
// not an error.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close releases the subscription. Safe to call multiple times. Implements
// io.Closer.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

// offer enqueues an event without ever blocking the publisher. When the
// queue is full the oldest queued event is discarded and counted, then
// the new event takes its place.
func (s *Subscription) offer(ev *fleet.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped.Add(1)
		default:
		}
	}
}
