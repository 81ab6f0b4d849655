// Package bus is the in-process event stream for deliberations. Stage
// transitions and votes are published as they happen so CLI progress output
// and tests can observe a run without touching the engine.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Kind names an event on the bus.
type Kind string

const (
	KindDeliberationStart Kind = "council.deliberation_start"
	KindStage1Complete    Kind = "council.stage1.complete"
	KindVoteCast          Kind = "model.vote_cast"
	KindStage2Complete    Kind = "council.stage2.complete"
	KindStage3Complete    Kind = "council.stage3.complete"
	KindComplete          Kind = "council.complete"
	KindError             Kind = "council.error"

	// KindSubscriberLagged is emitted to surviving subscribers when a slow
	// one is dropped.
	KindSubscriberLagged Kind = "bus.subscriber_lagged"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Kind      Kind           `json:"event"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an envelope.
func NewEvent(kind Kind, requestID string, data map[string]any) Event {
	return Event{Kind: kind, RequestID: requestID, Timestamp: time.Now().UTC(), Data: data}
}

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Metrics are the bus delivery counters.
type Metrics struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Lagged    int64 `json:"lagged_subscribers"`
}

// Subscription is one consumer's view of the bus. Events for a given
// request arrive on C in publish order. When the subscriber falls behind
// its buffer, the bus closes C and removes the subscription rather than
// block the publisher.
type Subscription struct {
	ID        uint64
	RequestID string // "" subscribes to all requests
	C         <-chan Event

	ch chan Event
}

// Bus fans events out to subscribers. Publish never blocks.
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	lagged    atomic.Int64
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[uint64]*Subscription),
	}
}

// Subscribe registers a consumer. requestID narrows delivery to one
// request; empty means everything. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(requestID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{ID: b.nextID, RequestID: requestID, C: ch, ch: ch}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers an event to every matching subscriber. A subscriber
// whose buffer is full is dropped with a diagnostic so one stalled consumer
// cannot stall the deliberation.
func (b *Bus) Publish(ev Event) {
	b.published.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	var laggedSubs []uint64
	for id, sub := range b.subs {
		if sub.RequestID != "" && sub.RequestID != ev.RequestID {
			continue
		}
		select {
		case sub.ch <- ev:
			b.delivered.Add(1)
		default:
			laggedSubs = append(laggedSubs, id)
		}
	}

	for _, id := range laggedSubs {
		sub := b.subs[id]
		delete(b.subs, id)
		close(sub.ch)
		b.dropped.Add(1)
		b.lagged.Add(1)
		b.log.Warn().
			Uint64("subscriber", id).
			Str("request_id", ev.RequestID).
			Str("event", string(ev.Kind)).
			Msg("subscriber lagged, dropping")
	}

	if len(laggedSubs) > 0 {
		diag := NewEvent(KindSubscriberLagged, ev.RequestID, map[string]any{"dropped": len(laggedSubs)})
		for _, sub := range b.subs {
			select {
			case sub.ch <- diag:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Metrics returns a snapshot of the delivery counters.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Lagged:    b.lagged.Load(),
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
