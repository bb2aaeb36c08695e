package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_http_requests_total",
			Help: "Total number of HTTP requests by route, method, and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "berthcare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_cache_hits_total",
			Help: "Total number of cache hits by key family",
		},
		[]string{"family"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_cache_misses_total",
			Help: "Total number of cache misses by key family",
		},
		[]string{"family"},
	)

	// Rate limiter metrics
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter, by policy",
		},
		[]string{"policy"},
	)

	// Notification metrics
	NotificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_notifications_dispatched_total",
			Help: "Total number of notification dispatches by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	AlertsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "berthcare_alerts_total",
			Help: "Current number of alerts by escalation status",
		},
		[]string{"status"},
	)

	// Visit metrics
	VisitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "berthcare_visit_transitions_total",
			Help: "Total number of visit status transitions by target status",
		},
		[]string{"to"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(NotificationsDispatched)
	prometheus.MustRegister(AlertsByStatus)
	prometheus.MustRegister(VisitTransitions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
