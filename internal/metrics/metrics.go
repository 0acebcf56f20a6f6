package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agromesh_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Ingest metrics
	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_readings_total",
			Help: "Total number of sensor readings submitted",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_threshold_violations_total",
			Help: "Threshold violations found by the evaluator",
		},
		[]string{"metric", "bound"},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"type", "severity"},
	)

	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agromesh_alerts_suppressed_total",
			Help: "Violations suppressed by the quiet period",
		},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_alert_transitions_total",
			Help: "Alert lifecycle actions",
		},
		[]string{"action", "result"}, // result: applied, rejected
	)

	AlertsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agromesh_alerts_purged_total",
			Help: "Terminal alerts deleted after retention",
		},
	)

	// Real-time metrics
	HubSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agromesh_hub_sessions",
			Help: "Currently connected real-time sessions",
		},
	)

	HubSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agromesh_hub_subscriptions",
			Help: "Current topic subscriptions across all sessions",
		},
	)

	HubDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_hub_delivered_total",
			Help: "Messages enqueued to subscribers",
		},
		[]string{"kind"},
	)

	HubDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agromesh_hub_dropped_total",
			Help: "Messages dropped from full client queues",
		},
	)

	HubAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agromesh_hub_auth_failures_total",
			Help: "Rejected real-time handshakes",
		},
	)

	// Notification metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_notification_dispatch_total",
			Help: "Notification dispatch attempts",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agromesh_notification_queue_size",
			Help: "Alerts waiting for notification dispatch",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agromesh_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
