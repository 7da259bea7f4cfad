package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/havoc/pkg/command"
	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/fault"
	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handlers resolves the handler for an extension name
type Handlers interface {
	Resolve(extension string) (fault.Handler, error)
}

// Store is the persistence the executor depends on
type Store interface {
	AddOrUpdateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	GetNodeStatus(nodeID string) (types.NodeStatus, error)
}

// Scheduler takes tasks whose submission is deferred
type Scheduler interface {
	Schedule(task *types.Task) error
	MarkFinished(task *types.Task)
}

// Config configures the executor
type Config struct {
	NodeID            string
	ChildPollInterval time.Duration
	ChildWaitTimeout  time.Duration
}

// entry is a task in the running set
type entry struct {
	task    *types.Task
	started bool
}

// Executor runs tasks, one goroutine each, and tracks the running set. All
// status bookkeeping happens under mu; handlers run without it.
type Executor struct {
	cfg       Config
	handlers  Handlers
	store     Store
	publisher events.Publisher
	scheduler Scheduler

	mu      sync.Mutex
	started *sync.Cond
	done    *sync.Cond
	running map[string]*entry

	// ctx is the parent of every worker context; Stop cancels it
	ctx    context.Context
	cancel context.CancelFunc

	watchers sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewExecutor creates an executor. publisher may be nil.
func NewExecutor(cfg Config, handlers Handlers, store Store, publisher events.Publisher) *Executor {
	if cfg.ChildPollInterval <= 0 {
		cfg.ChildPollInterval = time.Second
	}
	if cfg.ChildWaitTimeout <= 0 {
		cfg.ChildWaitTimeout = 6 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		handlers:  handlers,
		store:     store,
		publisher: publisher,
		running:   make(map[string]*entry),
		stopCh:    make(chan struct{}),
		logger:    log.WithNode(log.WithComponent("executor"), cfg.NodeID),
	}
	e.started = sync.NewCond(&e.mu)
	e.done = sync.NewCond(&e.mu)
	return e
}

// SetScheduler installs the collaborator that takes scheduled tasks
func (e *Executor) SetScheduler(s Scheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduler = s
}

// SubmitTask runs task, or hands it to the scheduler when its spec carries
// a schedule. Failures are recorded on the task and returned as
// TASK_EXECUTION_FAILED.
func (e *Executor) SubmitTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task.TriggerCount() == 0 {
		e.publish(events.EventTaskCreated, task, "task submitted")
	}

	if sched := e.deferTo(task); sched != nil {
		task.SetScheduled(true)
		if err := sched.Schedule(task); err != nil {
			return task, &Error{Code: CodeTaskExecutionFailed, TaskID: task.ID, Err: err}
		}
		e.persist(task)
		e.logger.Info().
			Str("task_id", task.ID).
			Time("start_at", task.TaskData.Schedule.StartAt).
			Msg("Task scheduled")
		return task, nil
	}

	if _, err := e.Execute(ctx, task); err != nil {
		wrapped := &Error{Code: CodeTaskExecutionFailed, TaskID: task.ID, Err: err}
		e.mu.Lock()
		task.Fail(err.Error())
		e.mu.Unlock()
		e.persist(task)
		e.publish(events.EventTaskModified, task, "task failed to start")
		return task, wrapped
	}
	return task, nil
}

// deferTo returns the scheduler when task must be deferred
func (e *Executor) deferTo(task *types.Task) Scheduler {
	e.mu.Lock()
	sched := e.scheduler
	e.mu.Unlock()

	if sched == nil || task.TaskData == nil || task.TaskData.Schedule == nil {
		return nil
	}
	if task.TaskType != types.TaskTypeInjection && task.ExtensionName != types.ExtensionNodeStatus {
		return nil
	}
	return sched
}

// Execute starts task and returns once its worker has begun
func (e *Executor) Execute(ctx context.Context, task *types.Task) (*types.Task, error) {
	e.mu.Lock()
	if _, ok := e.running[task.ID]; ok {
		e.mu.Unlock()
		e.logger.Warn().Str("task_id", task.ID).Msg("Task is already executing")
		return task, nil
	}

	// An attempt left running by an earlier call is resumed, not replaced.
	// A fresh attempt after a finished pipeline starts it over.
	if !resumable(task) {
		task.PushTrigger(e.cfg.NodeID)
		if task.Substage() == types.SubstageCompleted {
			task.SetSubstage("")
		}
	}

	if task.ExtensionName != types.ExtensionNodeStatus {
		if status := e.nodeStatus(); !status.AllowsExecution() {
			task.TransitionWithReason(types.TaskStatusSkipped, 0, fmt.Sprintf("node %s is %s", e.cfg.NodeID, status))
			e.mu.Unlock()
			e.logger.Info().Str("task_id", task.ID).Str("node_status", string(status)).Msg("Task skipped")
			e.persist(task)
			e.publish(events.EventTaskModified, task, "task skipped")
			return task, nil
		}
	}

	if !task.Initialized {
		e.mu.Unlock()
		e.logger.Error().Bool("fatal_bookkeeping", true).Str("task_id", task.ID).Msg("Task submitted before initialization")
		return task, &Error{Code: CodeTaskNotInitialized, TaskID: task.ID}
	}

	ent := &entry{task: task}
	e.running[task.ID] = ent
	metrics.TasksRunning.Set(float64(len(e.running)))

	wctx, release := e.workerContext(ctx)
	go func() {
		defer release()
		e.runTask(wctx, ent)
	}()
	for !ent.started {
		e.started.Wait()
	}
	e.mu.Unlock()

	if task.ExtensionName == types.ExtensionComposite && task.TaskData != nil && task.TaskData.Composite != nil {
		e.watchers.Add(1)
		wctx, release := e.workerContext(ctx)
		go func() {
			defer release()
			e.watchChildren(wctx, task)
		}()
	}
	return task, nil
}

// workerContext keeps the values of the caller's ctx but is canceled only
// by Stop
func (e *Executor) workerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.ctx, cancel)
	return wctx, func() {
		stop()
		cancel()
	}
}

// resumable reports whether the task's current attempt was cut short and
// should continue under its trigger
func resumable(task *types.Task) bool {
	if task.TriggerCount() == 0 {
		return false
	}
	status := task.Status()
	return status.IsRunning() || status == types.TaskStatusCanceling
}

// Resume executes every task whose attempt was cut short by a previous
// process, including tasks that were CANCELING. It returns how many were
// started.
func (e *Executor) Resume(ctx context.Context, tasks []*types.Task) int {
	n := 0
	for _, task := range tasks {
		if !resumable(task) {
			continue
		}
		e.logger.Info().
			Str("task_id", task.ID).
			Str("status", string(task.Status())).
			Str("substage", string(task.Substage())).
			Msg("Resuming task")
		if _, err := e.Execute(ctx, task); err != nil {
			e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to resume task")
			continue
		}
		n++
	}
	return n
}

// nodeStatus reads this node's status; a missing record means READY.
// Caller holds mu.
func (e *Executor) nodeStatus() types.NodeStatus {
	status, err := e.store.GetNodeStatus(e.cfg.NodeID)
	if err != nil {
		if !storage.IsNotFound(err) {
			e.logger.Warn().Err(err).Msg("Failed to read node status")
		}
		return types.NodeStatusReady
	}
	return status
}

func (e *Executor) runTask(ctx context.Context, ent *entry) {
	task := ent.task
	logger := log.WithTask(e.logger, task.ID, task.ExtensionName)
	timer := metrics.NewTimer()

	e.mu.Lock()
	canceling := task.Status() == types.TaskStatusCanceling
	if !canceling {
		task.Transition(types.TaskStatusInProgress, 0)
	}
	ent.started = true
	e.started.Broadcast()
	e.mu.Unlock()

	e.persist(task)
	e.publish(events.EventTaskModified, task, "task started")
	logger.Info().Str("task_type", string(task.TaskType)).Msg("Task started")

	// A cancel requested before a restart is settled without running again
	var err error
	if canceling {
		logger.Info().Msg("Settling cancel requested by a previous process")
	} else {
		err = e.runHandler(ctx, task)
	}
	if err != nil && e.ctx.Err() != nil {
		// Stopped mid-attempt: keep the running status and the substage
		// checkpoint so the next process resumes the task
		logger.Warn().Err(err).Str("substage", string(task.Substage())).Msg("Task interrupted by shutdown")
		e.release(task)
		return
	}
	if err != nil {
		reason := err.Error()
		if cause, ok := command.Diagnosis(err); ok {
			reason = cause
		}
		e.mu.Lock()
		task.Fail(reason)
		e.mu.Unlock()
		logger.Error().Err(err).Str("code", ErrorCode(err)).Msg("Task failed")
	}

	e.complete(task)
	timer.ObserveDurationVec(metrics.TaskExecutionDuration, string(task.TaskType))

	switch status := task.Status(); status {
	case types.TaskStatusCompleted, types.TaskStatusFailed, types.TaskStatusInjected:
		e.publish(events.EventTaskCompleted, task, "task "+string(status))
		logger.Info().Str("status", string(status)).Msg("Task finished")
	}
}

func (e *Executor) runHandler(ctx context.Context, task *types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, err := e.handlers.Resolve(task.ExtensionName)
	if err != nil {
		return err
	}
	return h.Run(ctx, task)
}

// complete settles the attempt, releases the task and wakes joiners
func (e *Executor) complete(task *types.Task) {
	e.mu.Lock()

	switch task.Status() {
	case types.TaskStatusInProgress:
		if task.TaskType == types.TaskTypeInjection && task.ExtensionName == types.ExtensionSystemResource {
			task.Transition(types.TaskStatusInjected, 100)
		} else {
			task.Transition(types.TaskStatusCompleted, 100)
		}
	case types.TaskStatusCanceling:
		task.Fail("task canceled")
	}
	status := task.Status()

	var injection *types.Task
	if task.TaskType == types.TaskTypeRemediation && task.InjectionTaskID != "" {
		injection = e.lookup(task.InjectionTaskID)
		if injection != nil && (status == types.TaskStatusCompleted ||
			(status == types.TaskStatusFailed && injection.IsRemediated())) {
			injection.SetRemediated(true)
			injection.Transition(types.TaskStatusCompleted, 100)
		} else {
			injection = nil
		}
	}

	if task.IsScheduled() && e.scheduler != nil {
		e.scheduler.MarkFinished(task)
	}

	e.persist(task)
	if injection != nil {
		e.persist(injection)
	}

	e.remove(task)
	metrics.TaskExecutionsTotal.WithLabelValues(string(task.TaskType), string(status)).Inc()

	e.done.Broadcast()
	e.mu.Unlock()

	if injection != nil {
		e.publish(events.EventTaskModified, injection, "remediated by "+task.ID)
		e.publish(events.EventTaskCompleted, injection, "task COMPLETED")
	}
}

// release drops an interrupted task from the running set without settling
// its attempt
func (e *Executor) release(task *types.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persist(task)
	e.remove(task)
	e.done.Broadcast()
}

// remove deletes task from the running set. Caller holds mu.
func (e *Executor) remove(task *types.Task) {
	if _, ok := e.running[task.ID]; ok {
		delete(e.running, task.ID)
	} else {
		e.logger.Error().
			Bool("fatal_bookkeeping", true).
			Str("task_id", task.ID).
			Msg("Completed task was not in the running set")
	}
	metrics.TasksRunning.Set(float64(len(e.running)))
}

// lookup finds a task in the running set, then in the store. Caller holds mu.
func (e *Executor) lookup(id string) *types.Task {
	if ent, ok := e.running[id]; ok {
		return ent.task
	}
	task, err := e.store.GetTask(id)
	if err != nil {
		e.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to load task")
		return nil
	}
	return task
}

// Cancel requests that a running task stop. It is a no-op for a COMPLETED
// task and an error for any task this executor is not running.
func (e *Executor) Cancel(task *types.Task) error {
	e.mu.Lock()
	status := task.Status()
	if status == types.TaskStatusCompleted {
		e.mu.Unlock()
		return nil
	}
	if _, ok := e.running[task.ID]; !ok || status != types.TaskStatusInProgress {
		e.mu.Unlock()
		return &Error{Code: CodeTaskNotBelongToRunner, TaskID: task.ID, Err: fmt.Errorf("status %s", status)}
	}
	tr, _ := task.Trigger()
	task.Transition(types.TaskStatusCanceling, tr.PercentageCompleted)
	e.mu.Unlock()

	if h, err := e.handlers.Resolve(task.ExtensionName); err == nil {
		h.Cancel(task)
	}
	e.persist(task)
	e.publish(events.EventTaskModified, task, "cancel requested")
	e.logger.Info().Str("task_id", task.ID).Msg("Task cancel requested")
	return nil
}

// Join blocks until task has left the running set
func (e *Executor) Join(task *types.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if task.Status() == types.TaskStatusInitializing {
		return &Error{Code: CodeTaskNotStarted, TaskID: task.ID}
	}
	for {
		if _, ok := e.running[task.ID]; !ok {
			return nil
		}
		e.done.Wait()
	}
}

// JoinAll blocks until no task is running
func (e *Executor) JoinAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.running) > 0 {
		e.done.Wait()
	}
}

// IsExecuting reports whether task is in the running set
func (e *Executor) IsExecuting(task *types.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[task.ID]
	return ok
}

// IsComplete reports whether task finished its latest attempt here. An
// INJECTED system-resource fault counts as complete.
func (e *Executor) IsComplete(task *types.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[task.ID]; ok {
		return false
	}
	status := task.Status()
	return status.IsTerminal() || status == types.TaskStatusInjected
}

// HasStarted reports whether the latest attempt has left INITIALIZING
func (e *Executor) HasStarted(task *types.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return task.TriggerCount() > 0 && task.Status() != types.TaskStatusInitializing
}

// GetNumberOfExecutingTasks returns the size of the running set
func (e *Executor) GetNumberOfExecutingTasks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// GetRunningTasks returns the tasks in the running set
func (e *Executor) GetRunningTasks() []*types.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	tasks := make([]*types.Task, 0, len(e.running))
	for _, ent := range e.running {
		tasks = append(tasks, ent.task)
	}
	return tasks
}

// Stop interrupts running handlers, stops child watchers and waits for the
// workers to return. Interrupted tasks keep their running status.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.cancel()
	})
	e.watchers.Wait()
	e.JoinAll()
}

// watchChildren waits for a composite parent to mark its children ready,
// then submits them all. Nothing is submitted if the parent leaves
// IN_PROGRESS first or the wait times out.
func (e *Executor) watchChildren(ctx context.Context, parent *types.Task) {
	defer e.watchers.Done()
	composite := parent.TaskData.Composite
	logger := log.WithTask(e.logger, parent.ID, parent.ExtensionName)

	ticker := time.NewTicker(e.cfg.ChildPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.cfg.ChildWaitTimeout)
	defer deadline.Stop()

	for !composite.Ready() && parent.Status() == types.TaskStatusInProgress {
		select {
		case <-ticker.C:
		case <-deadline.C:
			logger.Warn().Dur("timeout", e.cfg.ChildWaitTimeout).Msg("Child tasks not ready, giving up")
			return
		case <-e.stopCh:
			return
		}
	}
	if !composite.Ready() {
		logger.Debug().Str("status", string(parent.Status())).Msg("Parent finished without child tasks")
		return
	}

	children := composite.Children()
	var g errgroup.Group
	for _, child := range children {
		g.Go(func() error {
			_, err := e.SubmitTask(ctx, child)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("Child task submission failed")
	}

	composite.Clear()
	e.persist(parent)
	logger.Info().Int("children", len(children)).Msg("Child tasks submitted")
}

// persist saves task; a store error is logged and otherwise ignored
func (e *Executor) persist(task *types.Task) {
	if err := e.store.AddOrUpdateTask(task); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to persist task")
	}
}

func (e *Executor) publish(eventType events.EventType, task *types.Task, msg string) {
	if e.publisher != nil {
		e.publisher.Publish(events.NewTaskEvent(eventType, task, msg))
	}
}
