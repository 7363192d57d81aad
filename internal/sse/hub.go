// Package sse fans "new email" events out to open inbox pages.
package sse

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a listener and returns its channel with a function
// that unregisters and closes it. Every listener sees every event since the
// inbox is shared.
func (h *Hub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of open listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers payload to every listener. Slow listeners drop events.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// EmailEvent renders the SSE frame announcing a stored email.
func EmailEvent(emailID, from, subject string, createdAt time.Time) []byte {
	payload := map[string]any{
		"email_id":   emailID,
		"from":       from,
		"subject":    subject,
		"created_at": createdAt.UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: email\ndata: %s\n\n", data))
}
