// Package httpapi is the request boundary: it decodes client input, invokes
// the dispatch engine, and maps the error taxonomy onto HTTP status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripshare/dispatch/internal/dispatch"
	"github.com/tripshare/dispatch/internal/geo"
	"github.com/tripshare/dispatch/internal/ingest"
	"github.com/tripshare/dispatch/internal/models"
	"github.com/tripshare/dispatch/internal/presence"
	"github.com/tripshare/dispatch/internal/realtime"
	"github.com/tripshare/dispatch/internal/routing"
	"github.com/tripshare/dispatch/internal/storage"
)

type Server struct {
	Engine   *dispatch.Engine
	Presence *presence.Registry
	Events   *realtime.Hub
	Geo      geo.Index             // optional
	Kafka    *ingest.KafkaProducer // optional

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(engine *dispatch.Engine, reg *presence.Registry, hub *realtime.Hub, logger *slog.Logger) *Server {
	s := &Server{
		Engine:   engine,
		Presence: reg,
		Events:   hub,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRequestRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/accept", s.handleAcceptRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/complete", s.handleCompleteRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{user_id}", s.handleHistory).Methods("GET")

	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/events", s.handleEventsWS)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/internal/drivers/nearby", s.handleNearbyDrivers).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, dispatch.ErrInvalidRequest)
		return
	}
	ride, err := s.Engine.RequestRide(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"ride_id":      ride.ID,
		"status":       ride.Status,
		"fare":         ride.Fare,
		"distance_km":  ride.DistanceKm,
		"duration_min": ride.DurationMin,
	})
}

type acceptRequest struct {
	RideID   int64  `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, dispatch.ErrInvalidRequest)
		return
	}
	ride, err := s.Engine.AcceptRide(r.Context(), req.RideID, req.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": ride.Status, "ride": ride})
}

type completeRequest struct {
	RideID int64 `json:"ride_id"`
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, dispatch.ErrInvalidRequest)
		return
	}
	ride, err := s.Engine.CompleteRide(r.Context(), req.RideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": ride.Status, "ride": ride})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	rides, err := s.Engine.History(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []models.Ride{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": rides})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleDriverWS puts a driver on the presence channel for the lifetime of
// the socket. Membership is torn down when the read loop ends, so a dropped
// connection cleans itself up.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if driverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	session := s.Presence.Join(driverID, conn)
	go func() {
		defer func() {
			s.Presence.Leave(session)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	sub := s.Events.Subscribe(conn)
	go func() {
		defer func() {
			s.Events.Unsubscribe(sub)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.DriverID == "" || !d.Loc.Valid() {
		http.Error(w, "driver_id and valid loc required", http.StatusBadRequest)
		return
	}
	d.Online = true
	d.Updated = time.Now()

	// Kafka is the system of record for the stream; the direct geo upsert
	// keeps the index warm when no consumer is running.
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(r.Context(), d); err != nil {
			s.logger.Warn("location publish failed", "driver_id", d.DriverID, "error", err)
		}
	}
	if s.Geo != nil {
		if err := s.Geo.Upsert(r.Context(), d); err != nil {
			s.logger.Warn("geo upsert failed", "driver_id", d.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		http.Error(w, "geo index not configured", http.StatusServiceUnavailable)
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lon required", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	drivers, err := s.Geo.Nearby(r.Context(), lat, lon, limit)
	if err != nil {
		http.Error(w, "geo query failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// writeError converts the error taxonomy to HTTP statuses. Conflicts are
// normal concurrent behavior and are not logged as errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrRideNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrRideUnavailable):
		status = http.StatusConflict
	case errors.Is(err, routing.ErrNoRoute), errors.Is(err, routing.ErrRouteUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
