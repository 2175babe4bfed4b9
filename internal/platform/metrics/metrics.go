// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	QueueEntriesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_entries_created_total",
			Help:      "Patients added to a doctor or lab queue",
		},
		[]string{"target_type"},
	)

	PaymentsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Bills settled, by payment status",
		},
		[]string{"status"},
	)

	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Outbound payment gateway attempts",
		},
		[]string{"operation", "outcome"},
	)

	LowStockAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_alerts_total",
			Help:      "Low-stock alerts emitted after stock movements",
		},
	)

	PanicsRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_recovered_total",
			Help:      "Handler panics turned into 500 responses",
		},
		[]string{"route"},
	)

	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Domain event handler invocations",
		},
		[]string{"event", "outcome"},
	)

	PushDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Web push and websocket deliveries",
		},
		[]string{"channel", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPDuration,
		QueueEntriesCreated,
		PaymentsConfirmed,
		GatewayRequests,
		LowStockAlerts,
		PanicsRecovered,
		EventsDispatched,
		PushDeliveries,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
