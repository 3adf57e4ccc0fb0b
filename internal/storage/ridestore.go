// Package storage is the single source of truth for ride state. The race
// between drivers accepting the same ride is resolved here, by conditional
// writes, never in application memory.
package storage

import (
	"context"
	"errors"

	"github.com/tripshare/dispatch/internal/models"
)

var (
	// ErrRideNotFound means the ride id does not exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrRideUnavailable means the conditional transition did not apply:
	// the ride is past the required state. Under concurrent accepts this
	// is the expected outcome for every losing driver, not a fault.
	ErrRideUnavailable = errors.New("ride unavailable")
)

// HistoryPageSize bounds ListForParty; history consumers page no deeper.
const HistoryPageSize = 20

// RideStore defines persistence operations for rides.
//
// TryAssign and Complete are conditional: they succeed only if the ride is
// currently in the prior state (pending and assigned respectively). Under any
// interleaving of concurrent TryAssign calls for one ride, at most one wins.
type RideStore interface {
	Create(ctx context.Context, ride *models.Ride) error
	Get(ctx context.Context, id int64) (*models.Ride, error)
	TryAssign(ctx context.Context, rideID int64, driverID string) (*models.Ride, error)
	Complete(ctx context.Context, rideID int64) (*models.Ride, error)
	ListForParty(ctx context.Context, userID string) ([]models.Ride, error)
}
