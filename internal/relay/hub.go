// Package relay fans tab session updates out to attached popup views over
// SSE and WebSocket.
package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/ipvwatch/internal/types"
)

// DefaultBufSize is the per-subscriber channel capacity.
const DefaultBufSize = 256

// Subscription is one attached popup. C is closed on Unsubscribe.
type Subscription struct {
	ID  int64
	Tab string
	C   <-chan types.Message

	ch      chan types.Message
	dropped atomic.Int64
}

// Dropped returns how many messages were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub fans out messages to the subscribers of each tab.
type Hub struct {
	bufSize int

	mu    sync.RWMutex
	subs  map[int64]*Subscription
	byTab map[string]map[int64]*Subscription

	nextID atomic.Int64
}

// NewHub returns an empty hub. bufSize <= 0 selects DefaultBufSize.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &Hub{
		bufSize: bufSize,
		subs:    make(map[int64]*Subscription),
		byTab:   make(map[string]map[int64]*Subscription),
	}
}

// Subscribe registers a subscriber for tab.
func (h *Hub) Subscribe(tab string) *Subscription {
	ch := make(chan types.Message, h.bufSize)
	sub := &Subscription{ID: h.nextID.Add(1), Tab: tab, C: ch, ch: ch}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	tabSubs := h.byTab[tab]
	if tabSubs == nil {
		tabSubs = make(map[int64]*Subscription)
		h.byTab[tab] = tabSubs
	}
	tabSubs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored, so detaching twice is harmless.
func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	if tabSubs := h.byTab[sub.Tab]; tabSubs != nil {
		delete(tabSubs, id)
		if len(tabSubs) == 0 {
			delete(h.byTab, sub.Tab)
		}
	}
	close(sub.ch)
}

// Publish sends msg to every subscriber of tab without blocking.
func (h *Hub) Publish(tab string, msg types.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.byTab[tab] {
		h.deliver(sub, msg)
	}
}

// Send delivers msg to a single subscriber. It reports false when the
// subscriber is gone.
func (h *Hub) Send(id int64, msg types.Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sub, ok := h.subs[id]
	if !ok {
		return false
	}
	h.deliver(sub, msg)
	return true
}

// Watching reports whether tab has at least one subscriber.
func (h *Hub) Watching(tab string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTab[tab]) > 0
}

// ClientCount returns the number of active subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) deliver(sub *Subscription, msg types.Message) {
	select {
	case sub.ch <- msg:
	default:
		n := sub.dropped.Add(1)
		slog.Warn("subscriber buffer full, dropping message", "subscriber_id", sub.ID, "tab_id", sub.Tab, "cmd", msg.Cmd, "dropped", n)
	}
}
