// Package hub fans transfer events out to live subscribers such as the
// websocket event stream.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
)

// Message is the wire form of a downloader event.
type Message struct {
	ID      string            `json:"id"`
	Kind    data.TransferKind `json:"kind"`
	Type    string            `json:"type"`
	Product string            `json:"product,omitempty"`
	Name    string            `json:"name"`
	Size    float64           `json:"size,omitempty"`
	Percent uint8             `json:"percent"`
	Error   string            `json:"error,omitempty"`
	Time    time.Time         `json:"time"`
}

// FromEvent converts e to its wire form.
func FromEvent(e downloader.Event) Message {
	m := Message{
		ID:      e.ID,
		Kind:    e.Kind,
		Type:    string(e.Type),
		Product: e.Product,
		Name:    e.Name,
		Size:    e.Size,
		Time:    e.Time,
	}
	if e.Progress != nil {
		m.Percent = e.Progress.Percent
	}
	if e.Err != nil {
		m.Error = data.ErrorString(e.Err)
	}
	return m
}

// Hub delivers published messages to every subscriber. A subscriber that
// falls behind loses messages instead of blocking the publisher.
type Hub struct {
	log  *slog.Logger
	mu   sync.RWMutex
	subs map[chan Message]struct{}
}

func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log.With("component", "hub"), subs: make(map[chan Message]struct{})}
}

// Subscribe registers a subscriber with a buffer of size buf. The returned
// func unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(buf int) (<-chan Message, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Message, buf)
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

// Publish converts e and delivers it.
func (h *Hub) Publish(e downloader.Event) {
	h.Send(FromEvent(e))
}

// Send delivers m to all subscribers without blocking.
func (h *Hub) Send(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- m:
		default:
			h.log.Debug("subscriber slow, dropping message", "id", m.ID, "type", m.Type)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
