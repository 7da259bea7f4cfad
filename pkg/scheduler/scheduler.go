package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/rs/zerolog"
)

// Runner executes a task that is due
type Runner interface {
	Execute(ctx context.Context, task *types.Task) (*types.Task, error)
}

// Store persists schedule changes
type Store interface {
	AddOrUpdateTask(task *types.Task) error
}

// Scheduler holds tasks until their start time and then executes them
type Scheduler struct {
	store    Store
	interval time.Duration

	// now is replaced in tests
	now func() time.Time

	mu      sync.Mutex
	runner  Runner
	pending map[string]*types.Task

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewScheduler creates a new scheduler checking for due tasks every interval
func NewScheduler(interval time.Duration, store Store) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		store:    store,
		interval: interval,
		now:      time.Now,
		pending:  make(map[string]*types.Task),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("scheduler"),
	}
}

// SetRunner installs the executor due tasks are handed to
func (s *Scheduler) SetRunner(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Schedule holds task until its StartAt time
func (s *Scheduler) Schedule(task *types.Task) error {
	if task.TaskData == nil || task.TaskData.Schedule == nil {
		return fmt.Errorf("task %s has no schedule", task.ID)
	}

	s.mu.Lock()
	task.SetScheduleState(types.ScheduleStateScheduled)
	s.pending[task.ID] = task
	s.mu.Unlock()

	metrics.TasksScheduled.Inc()
	s.persist(task)
	return nil
}

// Restore re-queues stored tasks whose schedule never fired. It returns
// how many were queued.
func (s *Scheduler) Restore(tasks []*types.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, task := range tasks {
		if task.TaskData == nil || task.TaskData.Schedule == nil {
			continue
		}
		if task.ScheduleState() != types.ScheduleStateScheduled {
			continue
		}
		s.pending[task.ID] = task
		n++
	}
	return n
}

// MarkFinished records that a scheduled task has run
func (s *Scheduler) MarkFinished(task *types.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, task.ID)
	task.SetScheduleState(types.ScheduleStateFinished)
}

// Pending returns the waiting tasks ordered by start time
func (s *Scheduler) Pending() []*types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*types.Task, 0, len(s.pending))
	for _, task := range s.pending {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].TaskData.Schedule.StartAt.Before(tasks[j].TaskData.Schedule.StartAt)
	})
	return tasks
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatch(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// dispatch executes every task whose start time has passed. The lock is
// released before tasks are handed over.
func (s *Scheduler) dispatch(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	runner := s.runner
	if runner == nil {
		s.mu.Unlock()
		return 0
	}
	var due []*types.Task
	for id, task := range s.pending {
		if task.TaskData.Schedule.StartAt.After(now) {
			continue
		}
		task.SetScheduleState(types.ScheduleStateRunning)
		delete(s.pending, id)
		due = append(due, task)
	}
	s.mu.Unlock()

	for _, task := range due {
		s.logger.Info().Str("task_id", task.ID).Msg("Scheduled task is due")
		if _, err := runner.Execute(ctx, task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to execute scheduled task")
			task.Fail(err.Error())
			s.MarkFinished(task)
			s.persist(task)
		}
	}
	return len(due)
}

func (s *Scheduler) persist(task *types.Task) {
	if s.store == nil {
		return
	}
	if err := s.store.AddOrUpdateTask(task); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to persist scheduled task")
	}
}
