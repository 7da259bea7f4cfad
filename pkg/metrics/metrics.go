package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "havoc_tasks_total",
			Help: "Total number of stored tasks by type and current status",
		},
		[]string{"type", "status"},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "havoc_tasks_running",
			Help: "Number of tasks currently held by the executor",
		},
	)

	TaskExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "havoc_task_executions_total",
			Help: "Total number of finished task executions by type and final status",
		},
		[]string{"type", "status"},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "havoc_task_execution_duration_seconds",
			Help:    "Wall time of one task execution in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"type"},
	)

	SubstageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "havoc_substage_transitions_total",
			Help: "Total number of substage checkpoints written by substage",
		},
		[]string{"substage"},
	)

	// Command metrics
	CommandExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "havoc_command_executions_total",
			Help: "Total number of remote command attempts by result",
		},
		[]string{"result"},
	)

	CommandRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "havoc_command_retries_total",
			Help: "Total number of remote command retries",
		},
	)

	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "havoc_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "havoc_reconciliation_duration_seconds",
			Help:    "Duration of one reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "havoc_reconciliation_transitions_total",
			Help: "Total number of task status changes made by the reconciler by status",
		},
		[]string{"status"},
	)

	// Scheduler metrics
	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "havoc_tasks_scheduled_total",
			Help: "Total number of tasks deferred to the scheduler",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksRunning)
	prometheus.MustRegister(TaskExecutionsTotal)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(SubstageTransitionsTotal)
	prometheus.MustRegister(CommandExecutionsTotal)
	prometheus.MustRegister(CommandRetriesTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationTransitionsTotal)
	prometheus.MustRegister(TasksScheduled)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
