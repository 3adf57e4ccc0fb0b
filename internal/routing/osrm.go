package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tripshare/dispatch/internal/models"
	"github.com/tripshare/dispatch/internal/observability"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// Route queries OSRM /route/v1/driving between the two points.
// OSRM reports coordinates lon-first: {lon1},{lat1};{lon2},{lat2}.
func (o *OSRMClient) Route(ctx context.Context, origin, dest models.Coord) (*Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, origin.Lon, origin.Lat, dest.Lon, dest.Lat)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		observability.RouteLookupFailures.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	observability.RouteLookupDuration.Observe(time.Since(start).Seconds())

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64         `json:"distance"` // meters
			Duration float64         `json:"duration"` // seconds
			Geometry json.RawMessage `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.RouteLookupFailures.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: decode: %v", ErrRouteUnavailable, err)
	}

	switch {
	case out.Code == "Ok" && len(out.Routes) > 0:
		r := out.Routes[0]
		return &Route{
			DistanceKm:  r.Distance / 1000,
			DurationMin: r.Duration / 60,
			Geometry:    r.Geometry,
		}, nil
	case out.Code == "NoRoute" || out.Code == "NoSegment" || (out.Code == "Ok" && len(out.Routes) == 0):
		observability.RouteLookupFailures.WithLabelValues("no_route").Inc()
		return nil, fmt.Errorf("%w: osrm code %q", ErrNoRoute, out.Code)
	default:
		observability.RouteLookupFailures.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: osrm code %q", ErrRouteUnavailable, out.Code)
	}
}
