// Package realtime is the status event channel. Every connected client,
// rider apps and driver apps alike, sees ride lifecycle events as they
// happen. Delivery is at-most-once per client; missed events are not
// persisted or replayed.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/tripshare/dispatch/internal/observability"
)

// Conn mirrors presence.Conn: the slice of *websocket.Conn we write through.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type Subscription struct {
	conn Conn
	mu   sync.Mutex
}

func (c *Subscription) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans status events out to all subscribers. The dispatch engine depends
// on it only through its Publish method, so any pub/sub transport could stand
// in without touching dispatch logic.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Subscription]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[*Subscription]struct{}), logger: logger}
}

// Subscribe attaches a connection to the stream. The returned handle is an
// opaque token for Unsubscribe.
func (h *Hub) Subscribe(conn Conn) *Subscription {
	c := &Subscription{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observability.EventSubscribers.Inc()
	return c
}

func (h *Hub) Unsubscribe(c *Subscription) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		observability.EventSubscribers.Dec()
	}
}

func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends the event to every subscriber, fire-and-forget.
func (h *Hub) Publish(event any) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(event); err != nil {
			h.logger.Debug("status event dropped", "error", err)
		}
	}
}
