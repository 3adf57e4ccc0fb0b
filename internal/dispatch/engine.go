// Package dispatch orchestrates the ride lifecycle: price a request, persist
// it, fan it out to drivers, and resolve the accept race to a single winner.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/tripshare/dispatch/internal/models"
	"github.com/tripshare/dispatch/internal/observability"
	"github.com/tripshare/dispatch/internal/pricing"
	"github.com/tripshare/dispatch/internal/routing"
	"github.com/tripshare/dispatch/internal/storage"
)

// ErrInvalidRequest flags missing or malformed rider input.
var ErrInvalidRequest = errors.New("invalid ride request")

// DriverBroadcaster delivers ride offers to the driver presence pool.
type DriverBroadcaster interface {
	Broadcast(event any)
}

// StatusPublisher delivers lifecycle events to all interested parties.
type StatusPublisher interface {
	Publish(event any)
}

// PaymentProcessor holds and captures fares. Optional: a nil processor
// disables payments entirely.
type PaymentProcessor interface {
	HoldFare(ctx context.Context, rideID int64, amountMinor int64, currency string) error
	CaptureFare(ctx context.Context, rideID int64) error
}

// Engine serves concurrent rider and driver requests. It holds no locks of
// its own: per-ride ordering is enforced entirely by the store's conditional
// updates, so unrelated rides never serialize behind each other.
type Engine struct {
	Store    storage.RideStore
	Routes   routing.Provider
	Rates    pricing.Rates
	Drivers  DriverBroadcaster
	Status   StatusPublisher
	Payments PaymentProcessor
	Logger   *slog.Logger
}

// RequestRide validates the request, obtains a route, prices it, persists the
// pending ride, and broadcasts the offer. If the route lookup fails nothing
// is persisted and nothing is broadcast.
func (e *Engine) RequestRide(ctx context.Context, req models.RideRequest) (*models.Ride, error) {
	if req.RiderID == "" || req.Origin.Zero() || req.Destination.Zero() {
		return nil, ErrInvalidRequest
	}
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, ErrInvalidRequest
	}

	route, err := e.Routes.Route(ctx, req.Origin, req.Destination)
	if err != nil {
		e.Logger.Warn("route lookup failed", "rider_id", req.RiderID, "error", err)
		return nil, err
	}

	ride := &models.Ride{
		RiderID:      req.RiderID,
		Origin:       req.Origin,
		Destination:  req.Destination,
		OriginText:   coordText(req.Origin),
		DestText:     coordText(req.Destination),
		DistanceKm:   route.DistanceKm,
		DurationMin:  route.DurationMin,
		PathGeometry: route.Geometry,
		Fare:         e.Rates.Fare(route.DistanceKm, route.DurationMin),
	}
	if err := e.Store.Create(ctx, ride); err != nil {
		return nil, err
	}

	e.Drivers.Broadcast(models.RideOffer{
		Type:        models.EventRideOffer,
		RideID:      ride.ID,
		Fare:        ride.Fare,
		DistanceKm:  ride.DistanceKm,
		DurationMin: ride.DurationMin,
		Geometry:    ride.PathGeometry,
	})
	observability.RidesRequested.Inc()
	e.Logger.Info("ride created",
		"ride_id", ride.ID, "rider_id", ride.RiderID,
		"fare", ride.Fare, "distance_km", ride.DistanceKm)
	return ride, nil
}

// AcceptRide performs the conditional assignment. Exactly one of any number
// of concurrent callers for the same ride succeeds; the rest get
// storage.ErrRideUnavailable and nothing is published for them.
func (e *Engine) AcceptRide(ctx context.Context, rideID int64, driverID string) (*models.Ride, error) {
	if rideID <= 0 || driverID == "" {
		return nil, ErrInvalidRequest
	}

	ride, err := e.Store.TryAssign(ctx, rideID, driverID)
	if err != nil {
		if errors.Is(err, storage.ErrRideUnavailable) {
			observability.AcceptConflicts.Inc()
			e.Logger.Debug("accept lost race", "ride_id", rideID, "driver_id", driverID)
		}
		return nil, err
	}

	if e.Payments != nil {
		// A failed hold does not undo the assignment; the fare is
		// settled out of band in that case.
		if err := e.Payments.HoldFare(ctx, ride.ID, pricing.MinorUnits(ride.Fare), e.Rates.Currency); err != nil {
			e.Logger.Warn("fare hold failed", "ride_id", ride.ID, "error", err)
		}
	}

	e.Status.Publish(models.StatusEvent{
		Type:     models.EventAssigned,
		RideID:   ride.ID,
		DriverID: ride.DriverID,
		Status:   ride.Status,
	})
	observability.RidesAssigned.Inc()
	e.Logger.Info("ride assigned", "ride_id", ride.ID, "driver_id", ride.DriverID)
	return ride, nil
}

// CompleteRide finishes an assigned ride. Completing a ride that is still
// pending is rejected; the record must move strictly forward.
func (e *Engine) CompleteRide(ctx context.Context, rideID int64) (*models.Ride, error) {
	if rideID <= 0 {
		return nil, ErrInvalidRequest
	}

	ride, err := e.Store.Complete(ctx, rideID)
	if err != nil {
		return nil, err
	}

	if e.Payments != nil {
		if err := e.Payments.CaptureFare(ctx, ride.ID); err != nil {
			e.Logger.Warn("fare capture failed", "ride_id", ride.ID, "error", err)
		}
	}

	e.Status.Publish(models.StatusEvent{
		Type:     models.EventCompleted,
		RideID:   ride.ID,
		DriverID: ride.DriverID,
		Status:   ride.Status,
	})
	observability.RidesCompleted.Inc()
	e.Logger.Info("ride completed", "ride_id", ride.ID, "driver_id", ride.DriverID)
	return ride, nil
}

// History lists past rides for a rider or driver, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]models.Ride, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	return e.Store.ListForParty(ctx, userID)
}

func coordText(c models.Coord) string {
	// Same lon,lat ordering the route provider uses.
	return strconv.FormatFloat(c.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lat, 'f', 6, 64)
}
