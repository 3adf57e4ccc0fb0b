package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tripshare/dispatch/internal/dispatch"
	"github.com/tripshare/dispatch/internal/models"
	"github.com/tripshare/dispatch/internal/presence"
	"github.com/tripshare/dispatch/internal/pricing"
	"github.com/tripshare/dispatch/internal/realtime"
	"github.com/tripshare/dispatch/internal/routing"
	"github.com/tripshare/dispatch/internal/storage"
)

type stubProvider struct {
	err error
}

func (s *stubProvider) Route(ctx context.Context, origin, dest models.Coord) (*routing.Route, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &routing.Route{DistanceKm: 2.0, DurationMin: 6, Geometry: []byte(`{"type":"LineString","coordinates":[]}`)}, nil
}

func testServer(provider routing.Provider) *Server {
	logger := slog.Default()
	engine := &dispatch.Engine{
		Store:   storage.NewMemoryStore(),
		Routes:  provider,
		Rates:   pricing.Rates{BaseFare: 4.00, PerKm: 1.60, PerMin: 0.30, Currency: "brl"},
		Drivers: presence.NewRegistry(logger),
		Status:  realtime.NewHub(logger),
		Logger:  logger,
	}
	return NewServer(engine, presence.NewRegistry(logger), realtime.NewHub(logger), logger)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

var requestBody = map[string]any{
	"rider_id":    "rider-1",
	"origin":      map[string]float64{"lat": -23.550, "lon": -46.633},
	"destination": map[string]float64{"lat": -23.560, "lon": -46.625},
}

func TestRequestRideEndpoint(t *testing.T) {
	s := testServer(&stubProvider{})
	w := postJSON(t, s, "/api/v1/rides/request", requestBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		RideID int64   `json:"ride_id"`
		Status string  `json:"status"`
		Fare   float64 `json:"fare"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" || resp.Fare != 9.00 || resp.RideID == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRequestRideInvalidInput(t *testing.T) {
	s := testServer(&stubProvider{})
	w := postJSON(t, s, "/api/v1/rides/request", map[string]any{"rider_id": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRequestRideUpstreamFailure(t *testing.T) {
	s := testServer(&stubProvider{err: fmt.Errorf("%w: dial", routing.ErrRouteUnavailable)})
	w := postJSON(t, s, "/api/v1/rides/request", requestBody)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestAcceptRideConflict(t *testing.T) {
	s := testServer(&stubProvider{})
	w := postJSON(t, s, "/api/v1/rides/request", requestBody)
	var created struct {
		RideID int64 `json:"ride_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	first := postJSON(t, s, "/api/v1/rides/accept", map[string]any{"ride_id": created.RideID, "driver_id": "driver-a"})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := postJSON(t, s, "/api/v1/rides/accept", map[string]any{"ride_id": created.RideID, "driver_id": "driver-b"})
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
}

func TestCompleteRideNotFound(t *testing.T) {
	s := testServer(&stubProvider{})
	w := postJSON(t, s, "/api/v1/rides/complete", map[string]any{"ride_id": 4040})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	s := testServer(&stubProvider{})
	w := postJSON(t, s, "/api/v1/rides/request", requestBody)
	var created struct {
		RideID int64 `json:"ride_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := postJSON(t, s, "/api/v1/rides/accept", map[string]any{"ride_id": created.RideID, "driver_id": "driver-a"}); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	done := postJSON(t, s, "/api/v1/rides/complete", map[string]any{"ride_id": created.RideID})
	if done.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", done.Code)
	}
	var resp struct {
		Status string      `json:"status"`
		Ride   models.Ride `json:"ride"`
	}
	if err := json.Unmarshal(done.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.Ride.AssignedAt == nil || resp.Ride.CompletedAt == nil {
		t.Fatalf("unexpected final state: %+v", resp)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := testServer(&stubProvider{})
	postJSON(t, s, "/api/v1/rides/request", requestBody)
	postJSON(t, s, "/api/v1/rides/request", requestBody)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rides/rider-1", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		History []models.Ride `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("expected 2 rides, got %d", len(resp.History))
	}
	if resp.History[0].ID < resp.History[1].ID {
		t.Fatal("history not newest-first")
	}
}

func TestHealthz(t *testing.T) {
	s := testServer(&stubProvider{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
