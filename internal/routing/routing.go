// Package routing talks to the external route provider. The dispatch engine
// only consumes its output; computing the road-network path is not our job.
package routing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tripshare/dispatch/internal/models"
)

var (
	// ErrRouteUnavailable covers provider unreachable, timeout, and
	// malformed responses. Not retried: a user-facing request should fail
	// fast rather than stack latency on a broken upstream.
	ErrRouteUnavailable = errors.New("route provider unavailable")

	// ErrNoRoute means the provider answered but found no feasible path.
	ErrNoRoute = errors.New("no route between points")
)

// Route is what the provider computed between two coordinates. Geometry is
// opaque to the engine and forwarded verbatim to drivers.
type Route struct {
	DistanceKm  float64
	DurationMin float64
	Geometry    json.RawMessage
}

// Provider resolves the road-network route between two points.
type Provider interface {
	Route(ctx context.Context, origin, dest models.Coord) (*Route, error)
}
