// Package metrics exposes dispatchd's Prometheus instrumentation: gauges
// for current fleet/task/lock state and counters/histograms for request
// and operation latency, plus a ticker-driven Collector that refreshes
// the gauges from the live components.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_nodes_total",
			Help: "Total number of registered nodes by availability",
		},
		[]string{"availability"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_tasks_total",
			Help: "Total number of tasks by type and status",
		},
		[]string{"type", "status"},
	)

	FolderWorkItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_folder_work_items_total",
			Help: "Total number of fan-out folder work items by status",
		},
		[]string{"status"},
	)

	LocksHeldTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_locks_held_total",
			Help: "Total number of currently held file locks",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TaskAssignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_task_assign_duration_seconds",
			Help:    "Time taken to assign or poll-match a task to a node",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_created_total",
			Help: "Total number of tasks created by type",
		},
		[]string{"type"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"type", "status"},
	)

	LockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_lock_contention_total",
			Help: "Total number of lock acquisition attempts that failed due to an existing holder",
		},
		[]string{"path"},
	)

	LockSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_locks_swept_total",
			Help: "Total number of expired locks released by the sweeper",
		},
	)

	NodesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_nodes_reaped_total",
			Help: "Total number of nodes marked offline by the sweeper due to heartbeat timeout",
		},
	)

	FoldersReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_folders_reclaimed_total",
			Help: "Total number of in-progress folder work items reverted to pending after node loss",
		},
	)

	EventBusSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_eventbus_subscribers_total",
			Help: "Current number of active event bus subscribers",
		},
	)

	EventBusDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_eventbus_dropped_total",
			Help: "Total number of events dropped because a subscriber's channel was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		TasksTotal,
		FolderWorkItemsTotal,
		LocksHeldTotal,
		APIRequestsTotal,
		APIRequestDuration,
		TaskAssignDuration,
		TasksCreatedTotal,
		TasksCompletedTotal,
		LockContentionTotal,
		LockSweptTotal,
		NodesReapedTotal,
		FoldersReclaimedTotal,
		EventBusSubscribersTotal,
		EventBusDroppedTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
