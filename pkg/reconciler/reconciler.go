package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/remote"
	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/rs/zerolog"
)

// Tokens searched for in status command output
const (
	StatusTokenCompleted = "COMPLETED"
	StatusTokenFailed    = "FAILED"
)

// Failure reasons recorded by the reconciler
const (
	ReasonRecoveryWindow  = "endpoint unreachable, still within recovery window, will keep polling"
	ReasonEndpointUnknown = "endpoint unreachable after recovery window"
	ReasonAgentMissing    = "fault agent files are missing on the endpoint"
	ReasonAgentNotRunning = "fault agent is not running on the endpoint"
	ReasonResourceMissing = "target resource no longer exists"
	ReasonNoSuchContainer = "target container no longer exists"
)

// Error signatures
var (
	socketNotEstablished  = []string{"socket is not established"}
	agentFilesMissing     = []string{"agent files are missing", "fault agent not found"}
	agentNotRunning       = []string{"agent is not running", "agent not running"}
	k8sResourceNotFound   = []string{"resource not found", "the server could not find the requested resource"}
	k8sContainerNotFound  = []string{"container not found", "pod not found"}
	dockerNotAvailable    = []string{"container not available"}
	dockerNoSuchContainer = []string{"no such container", "No such container"}
)

// Store is the persistence the reconciler depends on
type Store interface {
	ListTasks() ([]*types.Task, error)
	AddOrUpdateTask(task *types.Task) error
}

// ExecutorResolver builds the remote executor for an endpoint
type ExecutorResolver interface {
	Resolve(ctx context.Context, endpoint *types.Endpoint) (remote.Executor, error)
}

// CommandRunner runs a command list and returns the last output
type CommandRunner interface {
	Run(ctx context.Context, exec remote.Executor, commands []*types.CommandInfo, info *types.TroubleShootingInfo, args map[string]string) (string, error)
}

// Config configures the reconciler
type Config struct {
	Interval       time.Duration
	RecoveryWindow time.Duration
}

// Reconciler polls in-flight system-resource faults on their endpoints and
// corrects task status when the endpoint disagrees with it.
type Reconciler struct {
	cfg       Config
	store     Store
	resolver  ExecutorResolver
	runner    CommandRunner
	publisher events.Publisher

	// now is replaced in tests
	now func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	doneCh    chan struct{}
	logger    zerolog.Logger
}

// NewReconciler creates a new reconciler. publisher may be nil.
func NewReconciler(cfg Config, store Store, resolver ExecutorResolver, runner CommandRunner, publisher events.Publisher) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 120 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		runner:    runner,
		publisher: publisher,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
		logger:    log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run()
	})
}

// Stop halts the loop, interrupting any command in flight, and waits for it
func (r *Reconciler) Stop() {
	r.cancel()
	if r.started.Load() {
		<-r.doneCh
	}
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile(r.ctx)
		case <-r.ctx.Done():
			return
		}
	}
}

// reconcile performs one reconciliation cycle. It never panics out of the
// loop.
func (r *Reconciler) reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("Reconciliation cycle panicked")
		}
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	tasks, err := r.store.ListTasks()
	if err != nil {
		r.logError(err, "", "Failed to list tasks")
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !inFlight(task) {
			continue
		}
		r.reconcileTask(ctx, task)
	}
}

// inFlight reports whether task is a system-resource fault believed active
func inFlight(task *types.Task) bool {
	if task.ExtensionName != types.ExtensionSystemResource {
		return false
	}
	switch task.Status() {
	case types.TaskStatusInProgress, types.TaskStatusInjected, types.TaskStatusMachineInvalidState:
		return true
	}
	return false
}

func (r *Reconciler) reconcileTask(ctx context.Context, task *types.Task) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Str("task_id", task.ID).Msg("Task reconciliation panicked")
		}
	}()

	if task.TaskType != types.TaskTypeInjection || task.IsRemediated() {
		return
	}
	if task.TaskData == nil || len(task.TaskData.StatusCommands) == 0 {
		return
	}

	exec, err := r.resolver.Resolve(ctx, task.Endpoint())
	if err != nil {
		r.classify(task, err)
		return
	}

	output, err := r.runner.Run(ctx, exec, task.TaskData.StatusCommands, task.Info(), task.Args())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.classify(task, err)
		return
	}
	r.applyStatus(task, output)
}

// applyStatus reads the terminal tokens from status command output
func (r *Reconciler) applyStatus(task *types.Task, output string) {
	status := task.Status()
	switch {
	case strings.Contains(output, StatusTokenCompleted) &&
		(status == types.TaskStatusInProgress || status == types.TaskStatusInjected || status == types.TaskStatusMachineInvalidState):
		r.transition(task, types.TaskStatusCompleted, 100, "", true)

	case strings.Contains(output, StatusTokenFailed) &&
		(status == types.TaskStatusInProgress || status == types.TaskStatusInjected):
		r.transition(task, types.TaskStatusFailed, 100, strings.TrimSpace(output), true)
	}
}

// classify maps a polling error onto a task status
func (r *Reconciler) classify(task *types.Task, err error) {
	msg := err.Error()
	status := task.Status()

	var endpointType types.EndpointType
	if ep := task.Endpoint(); ep != nil {
		endpointType = ep.Type
	}

	switch {
	case storage.IsUnavailable(err):
		r.logError(err, task.ID, "Store unavailable while polling")

	case matches(msg, socketNotEstablished):
		if task.TaskData.FaultClass == types.FaultClassKernelPanic {
			// The endpoint going away is what the fault does
			r.transition(task, types.TaskStatusCompleted, 100, "", true)
			return
		}
		r.recoveryWindow(task)

	case agentMissing(msg) &&
		(status == types.TaskStatusInjected || status == types.TaskStatusMachineInvalidState):
		r.transition(task, types.TaskStatusFailed, 100, ReasonAgentMissing, false)

	case matches(msg, agentNotRunning):
		r.transition(task, types.TaskStatusFailed, 100, ReasonAgentNotRunning, false)

	case endpointType == types.EndpointKubernetes && matches(msg, k8sResourceNotFound):
		r.transition(task, types.TaskStatusEndpointUnknownState, 50, ReasonResourceMissing, false)

	case endpointType == types.EndpointKubernetes && matches(msg, k8sContainerNotFound):
		r.recoveryWindow(task)

	case endpointType == types.EndpointDocker && matches(msg, dockerNoSuchContainer):
		r.transition(task, types.TaskStatusEndpointUnknownState, 100, ReasonNoSuchContainer, false)

	case endpointType == types.EndpointDocker && matches(msg, dockerNotAvailable):
		r.recoveryWindow(task)

	default:
		r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Status check failed")
	}
}

// recoveryWindow keeps an unreachable endpoint in TEST_MACHINE_INVALID_STATE
// until start + fault timeout + recovery window, then gives up on it
func (r *Reconciler) recoveryWindow(task *types.Task) {
	tr, _ := task.Trigger()
	start := r.now()
	if tr.StartTime != nil {
		start = *tr.StartTime
	}
	deadline := start.Add(task.TaskData.Timeout()).Add(r.cfg.RecoveryWindow)

	if r.now().Before(deadline) {
		if tr.TaskStatus == types.TaskStatusMachineInvalidState {
			return
		}
		r.transition(task, types.TaskStatusMachineInvalidState, 50, ReasonRecoveryWindow, false)
		return
	}
	r.transition(task, types.TaskStatusEndpointUnknownState, 100, ReasonEndpointUnknown, false)
}

// transition records the new status, persists it and notifies listeners
func (r *Reconciler) transition(task *types.Task, status types.TaskStatus, percentage int, reason string, remediated bool) {
	from := task.Status()
	if !task.TransitionWithReason(status, percentage, reason) {
		return
	}
	if remediated {
		task.SetRemediated(true)
	}
	metrics.ReconciliationTransitionsTotal.WithLabelValues(string(status)).Inc()

	r.logger.Info().
		Str("task_id", task.ID).
		Str("from", string(from)).
		Str("to", string(status)).
		Str("reason", reason).
		Msg("Task status reconciled")

	if err := r.store.AddOrUpdateTask(task); err != nil {
		r.logError(err, task.ID, "Failed to persist reconciled task")
	}

	r.publish(events.EventTaskModified, task, fmt.Sprintf("reconciled to %s", status))
	if status.IsFinal() {
		r.publish(events.EventTaskCompleted, task, "task "+string(status))
	}
}

// logError keeps store connectivity noise at debug level
func (r *Reconciler) logError(err error, taskID, msg string) {
	ev := r.logger.Warn()
	if storage.IsUnavailable(err) {
		ev = r.logger.Debug()
	}
	if taskID != "" {
		ev = ev.Str("task_id", taskID)
	}
	ev.Err(err).Msg(msg)
}

func (r *Reconciler) publish(eventType events.EventType, task *types.Task, msg string) {
	if r.publisher != nil {
		r.publisher.Publish(events.NewTaskEvent(eventType, task, msg))
	}
}

// agentMissing reports a missing agent file. A bare "No such file or
// directory" counts only when it names an agent path, so a missing status
// script does not fail the fault.
func agentMissing(msg string) bool {
	if matches(msg, agentFilesMissing) {
		return true
	}
	return strings.Contains(msg, "No such file or directory") && strings.Contains(strings.ToLower(msg), "agent")
}

func matches(msg string, signatures []string) bool {
	for _, s := range signatures {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
