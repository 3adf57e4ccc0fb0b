// Package payments wraps stripe-go for the fare hold/capture flow: a hold is
// placed when a driver is assigned and captured when the ride completes.
package payments

import (
	"context"
	"fmt"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient holds fares as manual-capture PaymentIntents. Intent ids are
// tracked per ride in memory; a restart between hold and capture means the
// capture is settled out of band, which is acceptable for this flow.
type StripeClient struct {
	mu      sync.Mutex
	intents map[int64]string
}

func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{intents: make(map[int64]string)}
}

// HoldFare creates a PaymentIntent with capture_method=manual for the fare.
func (s *StripeClient) HoldFare(ctx context.Context, rideID int64, amountMinor int64, currency string) error {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.intents[rideID] = pi.ID
	s.mu.Unlock()
	return nil
}

// CaptureFare finalizes the hold placed for the ride.
func (s *StripeClient) CaptureFare(ctx context.Context, rideID int64) error {
	s.mu.Lock()
	id, ok := s.intents[rideID]
	delete(s.intents, rideID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no held payment for ride %d", rideID)
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(id, params)
	return err
}
