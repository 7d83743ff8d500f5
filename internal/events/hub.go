// Package events fans supervisor notifications out to live listeners.
package events

import (
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	// TypeDecision is published after every completed analysis.
	TypeDecision Type = "decision"
	// TypeAwaitingConfirmation signals a decision held for a human.
	TypeAwaitingConfirmation Type = "awaiting_confirmation"
	// TypeProviderState signals a provider health transition.
	TypeProviderState Type = "provider_state"
	// TypeSessionClosed signals a supervised session ending.
	TypeSessionClosed Type = "session_closed"
)

// Event is one notification.
type Event struct {
	Type      Type        `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub is an in-process publish/subscribe fan-out. Delivery is best-effort:
// a subscriber that stops draining loses events rather than stalling the
// publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish delivers an event to every current subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The cancel func must be called when the
// listener goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
