// Package rosterfeed pushes newly recorded marks to faculty dashboards over websockets.
package rosterfeed

import (
	"sync"

	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/rs/zerolog/log"
)

const defaultBuffer = 32

type subscriber struct {
	ch   chan ledger.Mark
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans marks out to per-session subscribers. Publish never blocks: a subscriber whose
// buffer is full is dropped and its channel closed.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

// HubOption defines a function type to modify the Hub instance.
type HubOption func(*Hub)

// WithBuffer sets how many undelivered marks a subscriber may queue before it is dropped.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func NewHub(options ...HubOption) *Hub {
	h := &Hub{subs: make(map[string]map[*subscriber]struct{}), buffer: defaultBuffer}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Subscribe returns a channel of marks for sessionID and a function that unsubscribes.
// The channel is closed on unsubscribe or when the subscriber falls behind.
func (h *Hub) Subscribe(sessionID string) (<-chan ledger.Mark, func()) {
	sub := &subscriber{ch: make(chan ledger.Mark, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sessionID, sub) }
}

// Publish delivers m to the subscribers of its session. It is a ledger.Observer.
func (h *Hub) Publish(m ledger.Mark) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[m.SessionID] {
		select {
		case sub.ch <- m:
		default:
			log.Warn().Str("session_id", m.SessionID).Msg("dropping slow roster subscriber")
			h.removeLocked(m.SessionID, sub)
		}
	}
}

// Subscribers reports how many listeners a session has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID, sub)
}

func (h *Hub) removeLocked(sessionID string, sub *subscriber) {
	set := h.subs[sessionID]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
	sub.close()
}
