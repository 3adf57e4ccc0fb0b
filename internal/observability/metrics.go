package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "rides_requested_total", Help: "Rides successfully created and broadcast"})
	RidesAssigned  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "rides_assigned_total", Help: "Rides claimed by a driver"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "rides_completed_total", Help: "Rides finished by a driver"})

	// AcceptConflicts counts drivers that lost the accept race. High values
	// under load are normal, not a fault signal.
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "accept_conflicts_total", Help: "Accept attempts rejected because the ride was already taken"})

	RouteLookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tripshare", Name: "route_lookup_failures_total", Help: "Route provider lookups that failed"},
		[]string{"reason"}, // "unavailable" or "no_route"
	)
	RouteLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripshare",
		Name:      "route_lookup_duration_seconds",
		Help:      "Route provider lookup latency",
		Buckets:   prometheus.DefBuckets,
	})

	DriversConnected    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "tripshare", Name: "drivers_connected", Help: "Drivers currently joined to the presence channel"})
	EventSubscribers    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "tripshare", Name: "event_subscribers", Help: "Clients subscribed to the status event stream"})
	BroadcastsDelivered = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "broadcasts_delivered_total", Help: "Ride offers delivered to driver sessions"})
	BroadcastsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripshare", Name: "broadcasts_dropped_total", Help: "Ride offer deliveries that failed mid-disconnect"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tripshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tripshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
