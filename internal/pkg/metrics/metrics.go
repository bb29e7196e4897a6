package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "drivewatch"

var (
	// SessionActive is 1 while a driving session is active, 0 otherwise.
	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "Whether a driving session is active (1) or not (0).",
		},
	)

	// AlertActive mirrors the drowsiness alert flag.
	AlertActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_active",
			Help:      "Whether the drowsiness alert is currently raised (1) or not (0).",
		},
	)

	// SessionTransitionsTotal counts state transitions by event.
	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session state transitions.",
		},
		[]string{"event"}, // start/stop
	)

	// PollsTotal counts drowsiness checks by outcome.
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of drowsiness checks.",
		},
		[]string{"result"}, // ok/failed/stale/skipped
	)

	// AlertsRaisedTotal counts rising edges of the alert flag.
	AlertsRaisedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Total number of drowsiness alerts raised.",
		},
	)

	// RequestLatency records detection service round trips.
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_request_duration_seconds",
			Help:      "Latency of requests to the detection service.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "result"}, // result: ok/unavailable/bad_response
	)

	// NotificationsTotal counts delivered notifications by kind.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of driver notifications.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionActive,
		AlertActive,
		SessionTransitionsTotal,
		PollsTotal,
		AlertsRaisedTotal,
		RequestLatency,
		NotificationsTotal,
	)
}

// BoolGauge sets g to 1 when v is true and 0 otherwise.
func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
