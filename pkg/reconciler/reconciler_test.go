package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/havoc/pkg/command"
	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/remote"
	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(context.Context, *types.Endpoint) (remote.Executor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return remote.ExecutorFunc(func(context.Context, string) (remote.Result, error) {
		return remote.Result{}, nil
	}), nil
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	output string
	err    error
}

func (f *fakeRunner) Run(context.Context, remote.Executor, []*types.CommandInfo, *types.TroubleShootingInfo, map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.output, f.err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func injectedTask(id string, endpointType types.EndpointType) *types.Task {
	task := types.NewTask(id, types.TaskTypeInjection, types.ExtensionSystemResource, &types.FaultSpec{
		Name:                  "cpu-burn",
		Endpoint:              &types.Endpoint{Name: "target", Type: endpointType, ContainerID: "c1"},
		TimeoutInMilliseconds: 60000,
		StatusCommands:        []*types.CommandInfo{{Command: "fault-agent status"}},
	})
	task.Initialized = true
	task.PushTrigger("node-1")
	task.Transition(types.TaskStatusInProgress, 0)
	task.Transition(types.TaskStatusInjected, 100)
	return task
}

func newReconciler(t *testing.T, runner CommandRunner, resolver ExecutorResolver, tasks ...*types.Task) (*Reconciler, *storage.MemoryStore, *recorder) {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, task := range tasks {
		require.NoError(t, store.AddOrUpdateTask(task))
	}
	rec := &recorder{}
	r := NewReconciler(Config{}, store, resolver, runner, rec)
	return r, store, rec
}

func startOf(task *types.Task) time.Time {
	tr, _ := task.Trigger()
	return *tr.StartTime
}

func TestStatusTokens(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		task := injectedTask("t1", types.EndpointDocker)
		r, _, rec := newReconciler(t, &fakeRunner{output: "fault COMPLETED\n"}, &fakeResolver{}, task)

		r.reconcile(context.Background())

		assert.Equal(t, types.TaskStatusCompleted, task.Status())
		assert.True(t, task.IsRemediated())
		assert.Equal(t, []events.EventType{events.EventTaskModified, events.EventTaskCompleted}, rec.kinds())
	})

	t.Run("failed", func(t *testing.T) {
		task := injectedTask("t1", types.EndpointDocker)
		r, _, _ := newReconciler(t, &fakeRunner{output: "FAILED: oom killed\n"}, &fakeResolver{}, task)

		r.reconcile(context.Background())

		tr, _ := task.Trigger()
		assert.Equal(t, types.TaskStatusFailed, tr.TaskStatus)
		assert.Equal(t, "FAILED: oom killed", tr.TaskFailureReason)
		assert.True(t, task.IsRemediated())
	})

	t.Run("still running", func(t *testing.T) {
		task := injectedTask("t1", types.EndpointDocker)
		r, _, rec := newReconciler(t, &fakeRunner{output: "RUNNING"}, &fakeResolver{}, task)

		r.reconcile(context.Background())

		assert.Equal(t, types.TaskStatusInjected, task.Status())
		assert.Empty(t, rec.kinds())
	})

	t.Run("failed token ignored in invalid state", func(t *testing.T) {
		task := injectedTask("t1", types.EndpointDocker)
		task.Transition(types.TaskStatusMachineInvalidState, 50)
		r, _, _ := newReconciler(t, &fakeRunner{output: "FAILED"}, &fakeResolver{}, task)

		r.reconcile(context.Background())
		assert.Equal(t, types.TaskStatusMachineInvalidState, task.Status())
	})
}

func TestSkipsTasksNotPolled(t *testing.T) {
	remediated := injectedTask("remediated", types.EndpointDocker)
	remediated.SetRemediated(true)

	other := injectedTask("command", types.EndpointDocker)
	other.ExtensionName = types.ExtensionCommand

	done := injectedTask("done", types.EndpointDocker)
	done.Transition(types.TaskStatusCompleted, 100)

	remediation := injectedTask("remediation", types.EndpointDocker)
	remediation.TaskType = types.TaskTypeRemediation

	runner := &fakeRunner{output: "COMPLETED"}
	r, _, _ := newReconciler(t, runner, &fakeResolver{}, remediated, other, done, remediation)
	r.reconcile(context.Background())

	assert.Equal(t, 0, runner.Calls())
}

func TestRecoveryWindow(t *testing.T) {
	task := injectedTask("t1", types.EndpointSSH)
	runner := &fakeRunner{err: errors.New("ssh: socket is not established")}
	r, store, _ := newReconciler(t, runner, &fakeResolver{}, task)

	// timeout 60s + 60s is inside the 120s window
	r.now = func() time.Time { return startOf(task).Add(60*time.Second + 60*time.Second) }
	r.reconcile(context.Background())

	tr, _ := task.Trigger()
	assert.Equal(t, types.TaskStatusMachineInvalidState, tr.TaskStatus)
	assert.Equal(t, 50, tr.PercentageCompleted)
	assert.Equal(t, ReasonRecoveryWindow, tr.TaskFailureReason)

	// timeout 60s + 121s is past it
	r.now = func() time.Time { return startOf(task).Add(60*time.Second + 121*time.Second) }
	r.reconcile(context.Background())

	tr, _ = task.Trigger()
	assert.Equal(t, types.TaskStatusEndpointUnknownState, tr.TaskStatus)
	assert.Equal(t, 100, tr.PercentageCompleted)

	stored, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusEndpointUnknownState, stored.Status())
}

func TestKernelPanicSocketLossCompletes(t *testing.T) {
	task := injectedTask("t1", types.EndpointSSH)
	task.TaskData.FaultClass = types.FaultClassKernelPanic
	r, _, rec := newReconciler(t, &fakeRunner{err: errors.New("socket is not established")}, &fakeResolver{}, task)

	r.reconcile(context.Background())

	assert.Equal(t, types.TaskStatusCompleted, task.Status())
	assert.True(t, task.IsRemediated())
	assert.Contains(t, rec.kinds(), events.EventTaskCompleted)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		endpointType types.EndpointType
		status       types.TaskStatus
		err          error
		want         types.TaskStatus
		percentage   int
		reason       string
	}{
		{
			name:         "agent files missing",
			endpointType: types.EndpointSSH,
			status:       types.TaskStatusInjected,
			err:          errors.New("cat /opt/agent/pid: No such file or directory"),
			want:         types.TaskStatusFailed,
			percentage:   100,
			reason:       ReasonAgentMissing,
		},
		{
			name:         "missing status script is not an agent failure",
			endpointType: types.EndpointSSH,
			status:       types.TaskStatusInjected,
			err:          errors.New("sh: /usr/local/bin/status.sh: No such file or directory"),
			want:         types.TaskStatusInjected,
		},
		{
			name:         "agent files missing while in progress",
			endpointType: types.EndpointSSH,
			status:       types.TaskStatusInProgress,
			err:          errors.New("fault agent not found"),
			want:         types.TaskStatusInProgress,
		},
		{
			name:         "agent not running",
			endpointType: types.EndpointSSH,
			status:       types.TaskStatusInjected,
			err:          errors.New("fault agent is not running"),
			want:         types.TaskStatusFailed,
			percentage:   100,
			reason:       ReasonAgentNotRunning,
		},
		{
			name:         "k8s resource not found",
			endpointType: types.EndpointKubernetes,
			status:       types.TaskStatusInjected,
			err:          errors.New("deployments.apps \"web\": resource not found"),
			want:         types.TaskStatusEndpointUnknownState,
			percentage:   50,
			reason:       ReasonResourceMissing,
		},
		{
			name:         "k8s container not found",
			endpointType: types.EndpointKubernetes,
			status:       types.TaskStatusInjected,
			err:          errors.New("container not found (\"web\")"),
			want:         types.TaskStatusMachineInvalidState,
			percentage:   50,
			reason:       ReasonRecoveryWindow,
		},
		{
			name:         "docker container not available",
			endpointType: types.EndpointDocker,
			status:       types.TaskStatusInjected,
			err:          errors.New("container not available: c1: no running task found"),
			want:         types.TaskStatusMachineInvalidState,
			percentage:   50,
			reason:       ReasonRecoveryWindow,
		},
		{
			name:         "docker no such container",
			endpointType: types.EndpointDocker,
			status:       types.TaskStatusInjected,
			err:          errors.New("no such container: c1"),
			want:         types.TaskStatusEndpointUnknownState,
			percentage:   100,
			reason:       ReasonNoSuchContainer,
		},
		{
			name:         "no such container on k8s is not classified",
			endpointType: types.EndpointKubernetes,
			status:       types.TaskStatusInjected,
			err:          errors.New("no such container: c1"),
			want:         types.TaskStatusInjected,
		},
		{
			name:         "store unavailable",
			endpointType: types.EndpointDocker,
			status:       types.TaskStatusInjected,
			err:          fmt.Errorf("%w: connection refused", storage.ErrUnavailable),
			want:         types.TaskStatusInjected,
		},
		{
			name:         "unknown error",
			endpointType: types.EndpointDocker,
			status:       types.TaskStatusInjected,
			err:          errors.New("permission denied"),
			want:         types.TaskStatusInjected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := injectedTask("t1", tt.endpointType)
			if tt.status == types.TaskStatusInProgress {
				task.PushTrigger("node-1")
				task.Transition(types.TaskStatusInProgress, 0)
			}
			require.Equal(t, tt.status, task.Status())

			r, _, _ := newReconciler(t, &fakeRunner{err: tt.err}, &fakeResolver{}, task)
			r.reconcile(context.Background())

			tr, _ := task.Trigger()
			assert.Equal(t, tt.want, tr.TaskStatus)
			if tt.reason != "" {
				assert.Equal(t, tt.percentage, tr.PercentageCompleted)
				assert.Equal(t, tt.reason, tr.TaskFailureReason)
			}
		})
	}
}

func TestResolveErrorIsClassified(t *testing.T) {
	task := injectedTask("t1", types.EndpointDocker)
	runner := &fakeRunner{}
	r, _, _ := newReconciler(t, runner, &fakeResolver{err: errors.New("no such container: c1")}, task)

	r.reconcile(context.Background())
	assert.Equal(t, 0, runner.Calls())
	assert.Equal(t, types.TaskStatusEndpointUnknownState, task.Status())
}

func TestUnavailableStoreDoesNotStopLoop(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Close())

	r := NewReconciler(Config{}, store, &fakeResolver{}, &fakeRunner{}, nil)
	assert.NotPanics(t, func() { r.reconcile(context.Background()) })
}

func TestLoopWithCommandEngine(t *testing.T) {
	store := storage.NewMemoryStore()
	task := injectedTask("t1", types.EndpointLocal)
	task.TaskData.StatusCommands = []*types.CommandInfo{
		{Command: "fault-agent status --id $FI_ARG_id"},
	}
	task.TaskData.Args = map[string]string{"id": "12345"}
	require.NoError(t, store.AddOrUpdateTask(task))

	var mu sync.Mutex
	var ran []string
	resolver := remote.NewResolver()
	resolver.Register(types.EndpointLocal, func(context.Context, *types.Endpoint) (remote.Executor, error) {
		return remote.ExecutorFunc(func(_ context.Context, cmd string) (remote.Result, error) {
			mu.Lock()
			ran = append(ran, cmd)
			mu.Unlock()
			return remote.Result{Output: "COMPLETED\n"}, nil
		}), nil
	})

	r := NewReconciler(Config{Interval: 10 * time.Millisecond}, store, resolver, command.NewEngine(), nil)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return task.Status() == types.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "fault-agent status --id 12345", ran[0])
}

func TestStopWithoutStart(t *testing.T) {
	r := NewReconciler(Config{}, storage.NewMemoryStore(), &fakeResolver{}, &fakeRunner{}, nil)
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}
