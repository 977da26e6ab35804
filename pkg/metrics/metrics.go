// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task lifecycle metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_total",
			Help: "Total number of task state transitions by state",
		},
		[]string{"state"},
	)

	QueuedTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queued_tasks",
			Help: "Tasks waiting for their executor to register",
		},
	)

	// Graph metrics
	Frameworks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_frameworks",
			Help: "Frameworks currently tracked by the agent",
		},
	)

	Executors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_executors",
			Help: "Executors currently tracked by the agent",
		},
	)

	// Status-update pipeline metrics
	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_status_updates_total",
			Help: "Status updates received from executors by validity",
		},
		[]string{"validity"},
	)

	StatusUpdateRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_status_update_retries_total",
			Help: "Status updates re-sent to the master after a retry interval",
		},
	)

	PendingStatusUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_pending_status_updates",
			Help: "Status updates sent upstream and awaiting acknowledgement",
		},
	)

	// Framework message metrics
	FrameworkMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_framework_messages_total",
			Help: "Framework/executor data messages forwarded by validity",
		},
		[]string{"validity"},
	)

	// Master link metrics
	MasterDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_master_detections_total",
			Help: "Master elections observed by the agent",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(QueuedTasks)
	prometheus.MustRegister(Frameworks)
	prometheus.MustRegister(Executors)
	prometheus.MustRegister(StatusUpdatesTotal)
	prometheus.MustRegister(StatusUpdateRetries)
	prometheus.MustRegister(PendingStatusUpdates)
	prometheus.MustRegister(FrameworkMessagesTotal)
	prometheus.MustRegister(MasterDetections)
}

// Validity label values for counter vectors.
const (
	Valid   = "valid"
	Invalid = "invalid"
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
