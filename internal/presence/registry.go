// Package presence tracks which drivers are currently reachable for ride
// offer broadcasts. Membership is ephemeral: it exists only while the
// driver's websocket is up and is rebuilt on every reconnect.
package presence

import (
	"log/slog"
	"sync"

	"github.com/tripshare/dispatch/internal/observability"
)

// Conn is the subset of *websocket.Conn the registry needs. Fakes stand in
// for it in tests.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one driver's live channel. Writes are serialized because
// gorilla/websocket allows only one concurrent writer per connection.
type Session struct {
	DriverID string
	conn     Conn
	mu       sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry is the broadcast target set. It is injected into the dispatch
// engine; ride operations only read it (Broadcast), never mutate membership.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

// Join registers a driver as reachable and returns the session handle the
// connection handler must pass back to Leave on disconnect.
func (r *Registry) Join(driverID string, conn Conn) *Session {
	s := &Session{DriverID: driverID, conn: conn}
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	observability.DriversConnected.Inc()
	r.logger.Info("driver joined", "driver_id", driverID)
	return s
}

func (r *Registry) Leave(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s]
	delete(r.sessions, s)
	r.mu.Unlock()
	if ok {
		observability.DriversConnected.Dec()
		r.logger.Info("driver left", "driver_id", s.DriverID)
	}
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast delivers the event to every joined driver, best-effort. A session
// mid-disconnect may miss it; the ride stays pending and reachable, so no
// acknowledgement or retry is attempted.
func (r *Registry) Broadcast(event any) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(event); err != nil {
			observability.BroadcastsDropped.Inc()
			r.logger.Debug("broadcast dropped", "driver_id", s.DriverID, "error", err)
			continue
		}
		observability.BroadcastsDelivered.Inc()
	}
}
