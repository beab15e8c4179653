package events

import (
	"sync"
)

// DefaultSubscriberQueueSize bounds each subscriber's outgoing channel.
// Sized the same as the teacher corpus's websocket broadcast buffer.
const DefaultSubscriberQueueSize = 256

// Subscription is a live event feed. Events arrive on Events in strict
// ascending EventID order. Closed is closed by the Hub when the
// subscription is dropped (queue overflow or explicit Unsubscribe); the
// caller's transport loop should treat a Closed signal as "reconnect and
// replay from your last observed EventID".
type Subscription struct {
	Events chan Event
	Closed chan struct{}

	id     uint64
	hub    *Hub
	closed bool
}

// Unsubscribe removes the subscription from the hub. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s.id)
}

// Hub fans out committed events to live subscribers. It holds no
// authoritative state — ListSince against the store remains the source
// of truth for replay; the Hub only distributes events committed after a
// subscriber has caught up.
type Hub struct {
	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextID    uint64
	queueSize int
}

// NewHub constructs an empty hub. queueSize <= 0 uses
// DefaultSubscriberQueueSize.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	return &Hub{
		subs:      make(map[uint64]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new live subscriber. A replay-then-live caller
// subscribes before reading its replay (via ListSince), so nothing
// committed between the replay read and the subscription is missed, and
// skips live events whose EventID the replay already covered.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		Events: make(chan Event, h.queueSize),
		Closed: make(chan struct{}),
		id:     h.nextID,
		hub:    h,
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	if !sub.closed {
		sub.closed = true
		close(sub.Closed)
	}
}

// Publish delivers ev to every live subscriber. A subscriber whose queue
// is full is dropped immediately rather than blocking the publisher or
// reordering delivery to other subscribers — the log itself never loses
// the event, only this subscriber's live-push fan-out does.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.Events <- ev:
		default:
			delete(h.subs, id)
			if !sub.closed {
				sub.closed = true
				close(sub.Closed)
			}
		}
	}
}

// SubscriberCount reports the number of currently live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
