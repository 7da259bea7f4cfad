package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	err  error
	hook func(task *types.Task)
}

func (f *fakeRunner) Execute(_ context.Context, task *types.Task) (*types.Task, error) {
	f.mu.Lock()
	f.ran = append(f.ran, task.ID)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(task)
	}
	return task, f.err
}

func (f *fakeRunner) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func scheduledTask(id string, startAt time.Time) *types.Task {
	task := types.NewTask(id, types.TaskTypeInjection, types.ExtensionCommand, &types.FaultSpec{
		Schedule: &types.Schedule{StartAt: startAt},
	})
	task.Initialized = true
	return task
}

func TestScheduleAndDispatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore()
	s := NewScheduler(time.Second, store)
	s.now = func() time.Time { return base }
	runner := &fakeRunner{}
	s.SetRunner(runner)

	early := scheduledTask("early", base.Add(-time.Minute))
	late := scheduledTask("late", base.Add(time.Hour))
	require.NoError(t, s.Schedule(late))
	require.NoError(t, s.Schedule(early))

	assert.Equal(t, types.ScheduleStateScheduled, early.ScheduleState())
	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].ID)

	_, err := store.GetTask("late")
	require.NoError(t, err)

	assert.Equal(t, 1, s.dispatch(context.Background()))
	assert.Equal(t, []string{"early"}, runner.Ran())
	assert.Equal(t, types.ScheduleStateRunning, early.ScheduleState())

	s.MarkFinished(early)
	assert.Equal(t, types.ScheduleStateFinished, early.ScheduleState())

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Equal(t, 1, s.dispatch(context.Background()))
	assert.Empty(t, s.Pending())
}

func TestScheduleRequiresSchedule(t *testing.T) {
	s := NewScheduler(0, nil)
	task := types.NewTask("t1", types.TaskTypeInjection, types.ExtensionCommand, &types.FaultSpec{})
	assert.Error(t, s.Schedule(task))
}

func TestDispatchWithoutRunner(t *testing.T) {
	s := NewScheduler(0, nil)
	require.NoError(t, s.Schedule(scheduledTask("t1", time.Now().Add(-time.Second))))
	assert.Equal(t, 0, s.dispatch(context.Background()))
	assert.Len(t, s.Pending(), 1)
}

func TestDispatchFailureMarksTask(t *testing.T) {
	s := NewScheduler(0, storage.NewMemoryStore())
	s.SetRunner(&fakeRunner{
		err:  errors.New("TASK_NOT_INITIALIZED"),
		hook: func(task *types.Task) { task.PushTrigger("node-1") },
	})

	task := scheduledTask("t1", time.Now().Add(-time.Second))
	require.NoError(t, s.Schedule(task))
	s.dispatch(context.Background())

	assert.Equal(t, types.TaskStatusFailed, task.Status())
	assert.Equal(t, types.ScheduleStateFinished, task.ScheduleState())
}

func TestRestore(t *testing.T) {
	s := NewScheduler(0, nil)

	waiting := scheduledTask("waiting", time.Now().Add(time.Hour))
	waiting.SetScheduleState(types.ScheduleStateScheduled)
	finished := scheduledTask("finished", time.Now())
	finished.SetScheduleState(types.ScheduleStateFinished)
	plain := types.NewTask("plain", types.TaskTypeInjection, types.ExtensionCommand, &types.FaultSpec{})

	assert.Equal(t, 1, s.Restore([]*types.Task{waiting, finished, plain}))
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, "waiting", s.Pending()[0].ID)
}

func TestLoopRunsDueTasks(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)
	runner := &fakeRunner{}
	s.SetRunner(runner)
	require.NoError(t, s.Schedule(scheduledTask("t1", time.Now())))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(runner.Ran()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScheduleStateWritesAreSerializedWithPersistence(t *testing.T) {
	store := storage.NewMemoryStore()
	s := NewScheduler(time.Second, store)
	s.SetRunner(&fakeRunner{})

	task := scheduledTask("t1", time.Now().Add(-time.Second))
	require.NoError(t, s.Schedule(task))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := json.Marshal(task)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		s.dispatch(context.Background())
		s.MarkFinished(task)
	}()
	wg.Wait()

	assert.Equal(t, types.ScheduleStateFinished, task.ScheduleState())
}
