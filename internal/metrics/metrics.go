// Package metrics declares the Prometheus collectors exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts manager events by type and outcome
	// (handled, ignored, unknown, unattributable, error).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_ami_events_total",
		Help: "Manager events processed, by event type and outcome",
	}, []string{"event", "outcome"})

	// EventHandleSeconds tracks reconciliation latency per event.
	EventHandleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallboard_event_handle_seconds",
		Help:    "Time spent reconciling one manager event",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// SessionState is 1 for the supervisor's current state label.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wallboard_session_state",
		Help: "Daemon supervisor state (1 for the active state)",
	}, []string{"state"})

	// Reconnects counts reconnect attempts by result.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_ami_reconnects_total",
		Help: "Manager reconnect attempts, by result",
	}, []string{"result"})

	// LastEventTimestamp is the unix time of the last event read.
	LastEventTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallboard_ami_last_event_timestamp_seconds",
		Help: "Unix time of the most recent manager event",
	})

	// CallsWaiting is the waiting-call count per monitored queue.
	CallsWaiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wallboard_queue_calls_waiting",
		Help: "Calls currently waiting, by queue",
	}, []string{"queue"})

	// AlertsTriggered counts alerts raised by rule type.
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_alerts_triggered_total",
		Help: "Alerts triggered, by rule type",
	}, []string{"type"})

	// AlertsResolved counts alerts cleared by rule type.
	AlertsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_alerts_resolved_total",
		Help: "Alerts resolved, by rule type",
	}, []string{"type"})

	// NotificationsTotal counts notification deliveries by channel and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_notifications_total",
		Help: "Notification deliveries, by channel and result",
	}, []string{"channel", "result"})

	// TaskErrors counts failed periodic tasks.
	TaskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallboard_task_errors_total",
		Help: "Periodic task failures, by task",
	}, []string{"task"})
)

// SetState marks state as the active supervisor state.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
