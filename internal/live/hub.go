// Package live fans out transient events to connected feed subscribers.
package live

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/monitor"
)

const defaultSubscriberBuffer = 64

// Hub broadcasts LiveEvents to all current subscribers. Delivery is
// best-effort and at-most-once: a subscriber joining after an event was
// emitted never receives it, and each subscriber's backlog is bounded
// independently so one slow client cannot back-pressure the rest.
type Hub struct {
	bufSize int
	logger  *zap.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber is one live-feed connection. Events arrive on Events();
// when the buffer fills, the oldest queued event is dropped.
type Subscriber struct {
	ch chan monitor.LiveEvent
}

// Events returns the subscriber's event channel. It is closed when the
// subscriber is removed or the hub shuts down.
func (s *Subscriber) Events() <-chan monitor.LiveEvent {
	return s.ch
}

// NewHub constructs a Hub. bufSize bounds each subscriber's backlog.
func NewHub(bufSize int, logger *zap.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bufSize: bufSize,
		logger:  logger,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber and returns it.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan monitor.LiveEvent, h.bufSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// for subscribers that were already removed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Emit broadcasts an event to every subscriber. It never blocks: a full
// subscriber buffer drops its oldest event to make room.
func (h *Hub) Emit(evt monitor.LiveEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
				h.logger.Debug("live event dropped", zap.String("kind", string(evt.Kind)))
			}
		}
	}
}

// Close removes all subscribers and closes their channels. Emit and
// Subscribe become no-ops afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*Subscriber]struct{})
}
