/*
Package metrics provides Prometheus metrics and health endpoints for Havoc.

All collectors are package-level variables registered with the default
registry at init and exposed by Handler on /metrics.

# Metrics Catalog

Tasks:
  - havoc_tasks_total{type, status}: stored tasks by current status (Collector)
  - havoc_tasks_running: tasks held by the executor
  - havoc_task_executions_total{type, status}: finished executions
  - havoc_task_execution_duration_seconds{type}: wall time of one execution
  - havoc_substage_transitions_total{substage}: checkpoints written

Commands:
  - havoc_command_executions_total{result}: attempts by "success", "failed", "error"
  - havoc_command_retries_total: retries after a failed attempt

Reconciliation:
  - havoc_reconciliation_cycles_total
  - havoc_reconciliation_duration_seconds
  - havoc_reconciliation_transitions_total{status}

Scheduler:
  - havoc_tasks_scheduled_total

# Timing Operations

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskExecutionDuration, string(task.TaskType))

# Health

Components report their state with UpdateComponent. /health is unhealthy when
any component is; /ready additionally requires the store, executor and
reconciler to have registered.
*/
package metrics
