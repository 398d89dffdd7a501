// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup results
const (
	ResultOK     = "ok"
	ResultExists = "exists"
	ResultFailed = "failed"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wamux_sessions_active",
		Help: "Number of registered sessions",
	})

	SessionSetups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wamux_session_setups_total",
		Help: "Session setup attempts by result",
	}, []string{"result"})

	SessionSetupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wamux_session_setup_duration_seconds",
		Help:    "Time from setup start to client initialized",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	SessionRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wamux_session_recoveries_total",
		Help: "Sessions re-created after a page close or crash",
	})

	SessionValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wamux_session_validations_total",
		Help: "Session validations by reason",
	}, []string{"reason"})

	SessionDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wamux_session_deletes_total",
		Help: "Sessions deleted",
	})

	QRIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wamux_qr_issued_total",
		Help: "Pairing codes issued",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wamux_events_dispatched_total",
		Help: "Events handed to a delivery channel by category",
	}, []string{"category", "channel"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wamux_delivery_failures_total",
		Help: "Failed event deliveries by channel",
	}, []string{"channel"})

	WebSocketSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wamux_websocket_subscribers",
		Help: "Connected websocket subscribers",
	})

	HealthAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wamux_health_alerts_total",
		Help: "Health notifications sent by status",
	}, []string{"status"})
)

// ObserveSetup records a setup outcome and, for successful ones, its duration.
func ObserveSetup(result string, started time.Time) {
	SessionSetups.WithLabelValues(result).Inc()
	if result == ResultOK {
		SessionSetupDuration.Observe(time.Since(started).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
