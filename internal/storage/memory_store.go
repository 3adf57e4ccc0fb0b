package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tripshare/dispatch/internal/models"
)

// MemoryStore keeps rides in process memory. It honors the same conditional
// transition contract as the Postgres store (the mutex plays the role of the
// row guard), so tests and single-node dev runs exercise identical semantics.
type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[int64]*models.Ride
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[int64]*models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, ride *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ride.ID = m.nextID
	ride.Status = models.StatusPending
	if ride.CreatedAt.IsZero() {
		ride.CreatedAt = time.Now()
	}
	cp := *ride
	m.rides[ride.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) TryAssign(ctx context.Context, rideID int64, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok || r.Status != models.StatusPending {
		return nil, ErrRideUnavailable
	}
	now := time.Now()
	r.Status = models.StatusAssigned
	r.DriverID = driverID
	r.AssignedAt = &now
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Complete(ctx context.Context, rideID int64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrRideNotFound
	}
	if r.Status != models.StatusAssigned {
		return nil, ErrRideUnavailable
	}
	now := time.Now()
	r.Status = models.StatusCompleted
	r.CompletedAt = &now
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListForParty(ctx context.Context, userID string) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.RiderID == userID || r.DriverID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > HistoryPageSize {
		out = out[:HistoryPageSize]
	}
	return out, nil
}
