// Package hub fans market events out to subscriber goroutines, one bounded
// broadcast channel per event kind. It is adapted from the teacher's
// internal/api/stream.go Hub/Client broadcast, generalized from a single
// fixed channel of dashboard ticks to one channel per types.EventKind with
// a per-subscriber drop-oldest policy and lag counter, per spec §4.7.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// DefaultCapacity is the spec's default bounded-buffer size.
const DefaultCapacity = 10_000

// Subscriber is a per-consumer receiver on one event kind's broadcast. It
// never blocks the publisher: on overflow the oldest buffered event is
// dropped and Lagged is incremented.
type Subscriber struct {
	id     uint64
	ch     chan types.MarketEvent
	lagged atomic.Uint64
}

// C returns the receive channel.
func (s *Subscriber) C() <-chan types.MarketEvent { return s.ch }

// Lagged returns the number of events dropped for this subscriber since
// it was created (monotonic; never resets).
func (s *Subscriber) Lagged() uint64 { return s.lagged.Load() }

type channel struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	capacity    int
	seq         atomic.Uint64
}

func newChannel(capacity int) *channel {
	return &channel{subscribers: make(map[uint64]*Subscriber), capacity: capacity}
}

// Hub holds one bounded broadcast channel per event kind.
type Hub struct {
	capacity int
	mu       sync.RWMutex
	channels map[types.EventKind]*channel
	nextID   atomic.Uint64
}

func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{capacity: capacity, channels: make(map[types.EventKind]*channel)}
}

func (h *Hub) channelFor(kind types.EventKind) *channel {
	h.mu.RLock()
	c, ok := h.channels[kind]
	h.mu.RUnlock()
	if ok {
		return c
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.channels[kind]; ok {
		return c
	}
	c = newChannel(h.capacity)
	h.channels[kind] = c
	return c
}

// Subscribe registers a new Subscriber on kind's channel.
func (h *Hub) Subscribe(kind types.EventKind) *Subscriber {
	c := h.channelFor(kind)
	sub := &Subscriber{id: h.nextID.Add(1), ch: make(chan types.MarketEvent, c.capacity)}

	c.mu.Lock()
	c.subscribers[sub.id] = sub
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from kind's channel. The subscriber's channel is
// closed; further reads return the zero value with ok=false.
func (h *Hub) Unsubscribe(kind types.EventKind, sub *Subscriber) {
	c := h.channelFor(kind)
	c.mu.Lock()
	if _, ok := c.subscribers[sub.id]; ok {
		delete(c.subscribers, sub.id)
		close(sub.ch)
	}
	c.mu.Unlock()
}

// Publish assigns the next sequence number for kind and broadcasts evt to
// every current subscriber. Publish never blocks: a full subscriber
// channel has its oldest event dropped to make room, and the subscriber's
// lag counter is incremented.
func (h *Hub) Publish(kind types.EventKind, evt types.MarketEvent) types.MarketEvent {
	c := h.channelFor(kind)
	evt.Seq = c.seq.Add(1)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		deliver(sub, evt)
	}
	return evt
}

func deliver(sub *Subscriber, evt types.MarketEvent) {
	select {
	case sub.ch <- evt:
		return
	default:
	}

	// Full: drop the oldest buffered event, then retry once. Another
	// publisher could race us for the slot; a second miss just counts as
	// an additional lag rather than spinning.
	select {
	case <-sub.ch:
		sub.lagged.Add(1)
	default:
	}
	select {
	case sub.ch <- evt:
	default:
		sub.lagged.Add(1)
	}
}
