package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/tripshare/dispatch/internal/models"
	"github.com/tripshare/dispatch/internal/pricing"
	"github.com/tripshare/dispatch/internal/routing"
	"github.com/tripshare/dispatch/internal/storage"
)

type fakeProvider struct {
	route *routing.Route
	err   error
	calls int
}

func (f *fakeProvider) Route(ctx context.Context, origin, dest models.Coord) (*routing.Route, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []any
}

func (f *fakeBroadcaster) Broadcast(event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []any
}

func (f *fakePublisher) Publish(event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

type fakePayments struct {
	mu       sync.Mutex
	held     []int64
	captured []int64
}

func (f *fakePayments) HoldFare(ctx context.Context, rideID, amountMinor int64, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = append(f.held, amountMinor)
	return nil
}

func (f *fakePayments) CaptureFare(ctx context.Context, rideID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, rideID)
	return nil
}

var testRates = pricing.Rates{BaseFare: 4.00, PerKm: 1.60, PerMin: 0.30, Currency: "brl"}

func testEngine(provider routing.Provider) (*Engine, *storage.MemoryStore, *fakeBroadcaster, *fakePublisher) {
	store := storage.NewMemoryStore()
	drivers := &fakeBroadcaster{}
	status := &fakePublisher{}
	e := &Engine{
		Store:   store,
		Routes:  provider,
		Rates:   testRates,
		Drivers: drivers,
		Status:  status,
		Logger:  slog.Default(),
	}
	return e, store, drivers, status
}

var testRequest = models.RideRequest{
	RiderID:     "rider-1",
	Origin:      models.Coord{Lat: -23.550, Lon: -46.633},
	Destination: models.Coord{Lat: -23.560, Lon: -46.625},
}

func okProvider() *fakeProvider {
	return &fakeProvider{route: &routing.Route{
		DistanceKm:  2.0,
		DurationMin: 6,
		Geometry:    []byte(`{"type":"LineString","coordinates":[]}`),
	}}
}

func TestRequestRidePricesAndBroadcasts(t *testing.T) {
	e, _, drivers, _ := testEngine(okProvider())

	ride, err := e.RequestRide(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if ride.Fare != 9.00 {
		t.Fatalf("expected fare 9.00, got %v", ride.Fare)
	}
	if ride.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", ride.Status)
	}
	if ride.DriverID != "" {
		t.Fatalf("new ride must have no driver, got %q", ride.DriverID)
	}
	if drivers.count() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", drivers.count())
	}
	offer, ok := drivers.events[0].(models.RideOffer)
	if !ok {
		t.Fatalf("unexpected broadcast payload %T", drivers.events[0])
	}
	if offer.RideID != ride.ID || offer.Fare != 9.00 || offer.DistanceKm != 2.0 {
		t.Fatalf("offer does not match ride: %+v", offer)
	}
}

func TestRequestRideValidation(t *testing.T) {
	e, _, drivers, _ := testEngine(okProvider())

	cases := []models.RideRequest{
		{Origin: testRequest.Origin, Destination: testRequest.Destination},
		{RiderID: "rider-1", Destination: testRequest.Destination},
		{RiderID: "rider-1", Origin: testRequest.Origin},
		{RiderID: "rider-1", Origin: models.Coord{Lat: 95, Lon: 0.1}, Destination: testRequest.Destination},
	}
	for i, req := range cases {
		if _, err := e.RequestRide(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
	if drivers.count() != 0 {
		t.Fatalf("invalid requests must not broadcast, got %d", drivers.count())
	}
}

func TestRequestRideRouteFailureLeavesNoRide(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("%w: timeout", routing.ErrRouteUnavailable)}
	e, store, drivers, _ := testEngine(provider)

	_, err := e.RequestRide(context.Background(), testRequest)
	if !errors.Is(err, routing.ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
	if drivers.count() != 0 {
		t.Fatal("failed request must not broadcast")
	}
	rides, err := store.ListForParty(context.Background(), testRequest.RiderID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 0 {
		t.Fatalf("expected no persisted rides, got %d", len(rides))
	}
}

func TestRequestRideNoRoute(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("%w: osrm code %q", routing.ErrNoRoute, "NoRoute")}
	e, _, _, _ := testEngine(provider)

	if _, err := e.RequestRide(context.Background(), testRequest); !errors.Is(err, routing.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestAcceptRideSingleWinner(t *testing.T) {
	e, _, _, status := testEngine(okProvider())
	ride, err := e.RequestRide(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	const drivers = 10
	var wg sync.WaitGroup
	winners := make(chan string, drivers)
	conflicts := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		driverID := fmt.Sprintf("driver-%d", i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			got, err := e.AcceptRide(context.Background(), ride.ID, id)
			if err != nil {
				conflicts <- err
				return
			}
			winners <- got.DriverID
		}(driverID)
	}
	wg.Wait()
	close(winners)
	close(conflicts)

	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(winners))
	}
	if len(conflicts) != drivers-1 {
		t.Fatalf("expected %d conflicts, got %d", drivers-1, len(conflicts))
	}
	for err := range conflicts {
		if !errors.Is(err, storage.ErrRideUnavailable) {
			t.Fatalf("unexpected conflict error: %v", err)
		}
	}
	// Only the winner publishes; losers stay silent.
	events := status.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 status event, got %d", len(events))
	}
	ev := events[0].(models.StatusEvent)
	winner := <-winners
	if ev.Type != models.EventAssigned || ev.DriverID != winner || ev.RideID != ride.ID {
		t.Fatalf("unexpected status event: %+v", ev)
	}
}

func TestAcceptRideConflictOnTakenRide(t *testing.T) {
	e, _, _, status := testEngine(okProvider())
	ride, _ := e.RequestRide(context.Background(), testRequest)

	if _, err := e.AcceptRide(context.Background(), ride.ID, "driver-a"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.AcceptRide(context.Background(), ride.ID, "driver-b"); !errors.Is(err, storage.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}
	if _, err := e.CompleteRide(context.Background(), ride.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.AcceptRide(context.Background(), ride.ID, "driver-c"); !errors.Is(err, storage.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable on completed ride, got %v", err)
	}
	if got := len(status.all()); got != 2 {
		t.Fatalf("expected 2 status events (assigned, completed), got %d", got)
	}
}

func TestCompleteRideNotFound(t *testing.T) {
	e, _, _, status := testEngine(okProvider())
	if _, err := e.CompleteRide(context.Background(), 404); !errors.Is(err, storage.ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
	if len(status.all()) != 0 {
		t.Fatal("not-found completion must not publish")
	}
}

func TestCompleteRideRejectsPending(t *testing.T) {
	e, _, _, _ := testEngine(okProvider())
	ride, _ := e.RequestRide(context.Background(), testRequest)
	if _, err := e.CompleteRide(context.Background(), ride.ID); !errors.Is(err, storage.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable for pending ride, got %v", err)
	}
}

func TestRoundTripLifecycle(t *testing.T) {
	e, _, _, status := testEngine(okProvider())
	pay := &fakePayments{}
	e.Payments = pay

	ride, err := e.RequestRide(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	assigned, err := e.AcceptRide(context.Background(), ride.ID, "driver-a")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	done, err := e.CompleteRide(context.Background(), ride.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if done.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.AssignedAt == nil || done.CompletedAt == nil {
		t.Fatal("lifecycle timestamps missing")
	}
	if done.CompletedAt.Before(*done.AssignedAt) {
		t.Fatal("completed_at precedes assigned_at")
	}
	if assigned.Fare != ride.Fare || done.Fare != ride.Fare {
		t.Fatal("fare changed after creation")
	}

	if len(pay.held) != 1 || pay.held[0] != 900 {
		t.Fatalf("expected one hold of 900 minor units, got %v", pay.held)
	}
	if len(pay.captured) != 1 || pay.captured[0] != ride.ID {
		t.Fatalf("expected capture for ride %d, got %v", ride.ID, pay.captured)
	}

	events := status.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 status events, got %d", len(events))
	}
	if events[0].(models.StatusEvent).Type != models.EventAssigned ||
		events[1].(models.StatusEvent).Type != models.EventCompleted {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestHistoryRequiresUser(t *testing.T) {
	e, _, _, _ := testEngine(okProvider())
	if _, err := e.History(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
