// Package geo maintains the queryable index of last-known driver locations.
// It is operational telemetry, separate from the presence channel: a driver
// can report locations without being joined for broadcasts and vice versa.
package geo

import (
	"context"

	"github.com/tripshare/dispatch/internal/models"
)

// Index stores and queries driver positions.
type Index interface {
	Upsert(ctx context.Context, d models.DriverLocation) error
	Nearby(ctx context.Context, lat, lon float64, limit int) ([]models.DriverLocation, error)
}
