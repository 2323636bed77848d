package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "requests_created_total", Help: "Exchange requests created"})
	RequestsAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "requests_accepted_total", Help: "Exchange requests accepted"})
	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "requests_completed_total", Help: "Exchange requests completed"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "cash_exchange", Name: "realtime_connections", Help: "Live realtime connections"})
	DeliveriesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "deliveries_total", Help: "Successful realtime deliveries"})
	DeliveriesFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "deliveries_failed_total", Help: "Failed realtime deliveries (connection pruned)"})
	AuthFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cash_exchange", Name: "realtime_auth_failures_total", Help: "Rejected realtime handshakes"})

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cash_exchange", Name: "events_dispatched_total", Help: "Notification events dispatched by type"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cash_exchange", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cash_exchange",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
