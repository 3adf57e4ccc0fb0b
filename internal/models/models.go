package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Zero reports whether the coordinate was never set. (0,0) is open ocean,
// which no rider here ever requests, so it doubles as "missing".
func (c Coord) Zero() bool { return c.Lat == 0 && c.Lon == 0 }

func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusAssigned  RideStatus = "assigned"
	StatusCompleted RideStatus = "completed"
)

// Ride is the durable dispatch record. Fare and route metrics are fixed at
// creation; DriverID is empty exactly while Status is pending.
type Ride struct {
	ID           int64           `json:"id"`
	RiderID      string          `json:"rider_id"`
	DriverID     string          `json:"driver_id,omitempty"`
	Origin       Coord           `json:"origin"`
	Destination  Coord           `json:"destination"`
	OriginText   string          `json:"origin_text,omitempty"`
	DestText     string          `json:"destination_text,omitempty"`
	DistanceKm   float64         `json:"distance_km"`
	DurationMin  float64         `json:"duration_min"`
	PathGeometry json.RawMessage `json:"path_geometry,omitempty"`
	Fare         float64         `json:"fare"`
	Status       RideStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	AssignedAt   *time.Time      `json:"assigned_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type RideRequest struct {
	RiderID     string `json:"rider_id"`
	Origin      Coord  `json:"origin"`
	Destination Coord  `json:"destination"`
}

const (
	EventRideOffer = "ride_offer"
	EventAssigned  = "assigned"
	EventCompleted = "completed"
)

// RideOffer is broadcast to every driver on the presence channel when a new
// ride enters the pending state.
type RideOffer struct {
	Type        string          `json:"type"` // EventRideOffer
	RideID      int64           `json:"ride_id"`
	Fare        float64         `json:"fare"`
	DistanceKm  float64         `json:"distance_km"`
	DurationMin float64         `json:"duration_min"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
}

// StatusEvent fans out to all connected parties (rider and driver apps alike)
// whenever a ride moves forward in its lifecycle.
type StatusEvent struct {
	Type     string     `json:"type"` // EventAssigned or EventCompleted
	RideID   int64      `json:"ride_id"`
	DriverID string     `json:"driver_id,omitempty"`
	Status   RideStatus `json:"status"`
}

// DriverLocation is the ingest payload flowing API -> Kafka -> Redis GEO.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	Online   bool      `json:"online"`
	Updated  time.Time `json:"updated"`
}
