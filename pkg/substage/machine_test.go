package substage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStages struct {
	calls []string
	fail  map[string]error
}

func (f *fakeStages) do(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeStages) CheckPrerequisites(context.Context, *types.Task) error {
	return f.do("prerequisites")
}
func (f *fakeStages) PrepareTarget(context.Context, *types.Task) error { return f.do("prepare") }
func (f *fakeStages) Inject(context.Context, *types.Task) error        { return f.do("inject") }
func (f *fakeStages) CheckRemediationPrerequisites(context.Context, *types.Task) error {
	return f.do("remediation-prerequisites")
}
func (f *fakeStages) Remediate(context.Context, *types.Task) error { return f.do("remediate") }
func (f *fakeStages) Cleanup(context.Context, *types.Task) error   { return f.do("cleanup") }

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) substages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == events.EventTaskSubstageChanged {
			out = append(out, e.Metadata["substage"])
		}
	}
	return out
}

func injectionTask() *types.Task {
	task := types.NewTask("task-1", types.TaskTypeInjection, types.ExtensionCommand, &types.FaultSpec{Name: "cpu"})
	task.PushTrigger("node-1")
	task.Transition(types.TaskStatusInProgress, 0)
	return task
}

func TestInjectionPipeline(t *testing.T) {
	stages := &fakeStages{}
	rec := &recorder{}
	store := storage.NewMemoryStore()
	m := NewMachine(stages, store, rec)

	task := injectionTask()
	require.NoError(t, m.Run(context.Background(), task))

	assert.Equal(t, []string{"prerequisites", "prepare", "inject"}, stages.calls)
	assert.Equal(t, types.SubstageCompleted, task.Substage())
	assert.Equal(t, []string{
		"INITIALISED", "PREREQUISITES_CHECK", "PREPARE_TARGET_MACHINE", "COMPLETED",
	}, rec.substages())

	stored, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.SubstageCompleted, stored.Substage())
}

func TestRemediationPipeline(t *testing.T) {
	stages := &fakeStages{}
	rec := &recorder{}
	m := NewMachine(stages, nil, rec)

	task := types.NewTask("task-2", types.TaskTypeRemediation, types.ExtensionCommand, &types.FaultSpec{})
	task.PushTrigger("node-1")
	require.NoError(t, m.Run(context.Background(), task))

	assert.Equal(t, []string{"remediation-prerequisites", "remediate", "cleanup"}, stages.calls)
	assert.Equal(t, []string{
		"INITIALISED", "REMEDIATION_PREREQUISITES_CHECK", "TRIGGER_REMEDIATION", "COMPLETED",
	}, rec.substages())
}

func TestFailureKeepsCheckpointAndResumes(t *testing.T) {
	stages := &fakeStages{fail: map[string]error{"inject": errors.New("boom")}}
	m := NewMachine(stages, nil, nil)

	task := injectionTask()
	err := m.Run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, types.SubstagePrepareTargetMachine, task.Substage())

	// Resume: completed stages are not replayed
	stages.calls = nil
	stages.fail = nil
	require.NoError(t, m.Run(context.Background(), task))
	assert.Equal(t, []string{"inject"}, stages.calls)
	assert.Equal(t, types.SubstageCompleted, task.Substage())
}

func TestFirstStageFailureLeavesInitialised(t *testing.T) {
	stages := &fakeStages{fail: map[string]error{"prerequisites": errors.New("no agent")}}
	rec := &recorder{}
	m := NewMachine(stages, nil, rec)

	task := injectionTask()
	require.Error(t, m.Run(context.Background(), task))
	assert.Equal(t, types.SubstageInitialised, task.Substage())
	assert.Equal(t, []string{"INITIALISED"}, rec.substages())
}

func TestPrepareSkippedAfterCompletedTrigger(t *testing.T) {
	stages := &fakeStages{}
	m := NewMachine(stages, nil, nil)

	task := injectionTask()
	task.Transition(types.TaskStatusCompleted, 100)
	task.SetSubstage(types.SubstageInitialised)
	task.PushTrigger("node-1")
	task.Transition(types.TaskStatusInProgress, 0)

	require.NoError(t, m.Run(context.Background(), task))
	assert.Equal(t, []string{"prerequisites", "inject"}, stages.calls)
	assert.Equal(t, types.SubstageCompleted, task.Substage())
}

func TestCompletedTaskRunsNothing(t *testing.T) {
	stages := &fakeStages{}
	m := NewMachine(stages, nil, nil)

	task := injectionTask()
	task.SetSubstage(types.SubstageCompleted)
	require.NoError(t, m.Run(context.Background(), task))
	assert.Empty(t, stages.calls)
}

func TestCancelObservedBetweenStages(t *testing.T) {
	stages := &fakeStages{}
	m := NewMachine(stages, nil, nil)

	task := injectionTask()
	task.Transition(types.TaskStatusCanceling, 0)
	err := m.Run(context.Background(), task)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, stages.calls)
}

func TestSubstageFromOtherPipeline(t *testing.T) {
	m := NewMachine(&fakeStages{}, nil, nil)
	task := injectionTask()
	task.SetSubstage(types.SubstageTriggerRemediation)
	assert.Error(t, m.Run(context.Background(), task))
}
