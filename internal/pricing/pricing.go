// Package pricing turns route metrics into a fare. The computation is total:
// it never fails and never talks to anything, so callers price a ride exactly
// once at creation and store the result.
package pricing

import "math"

// Rates holds the process-wide pricing constants.
type Rates struct {
	BaseFare float64
	PerKm    float64
	PerMin   float64
	Currency string
}

// Fare applies base + km*perKm + min*perMin and rounds half-up to 2 decimals.
func (r Rates) Fare(distanceKm, durationMin float64) float64 {
	total := r.BaseFare + distanceKm*r.PerKm + durationMin*r.PerMin
	return roundHalfUp2(total)
}

// MinorUnits expresses a fare in minor currency units for payment providers.
func MinorUnits(fare float64) int64 {
	return int64(math.Round(roundHalfUp2(fare) * 100))
}

func roundHalfUp2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
