package storage

import (
	"errors"
	"testing"

	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string) *types.Task {
	task := types.NewTask(id, types.TaskTypeInjection, types.ExtensionSystemResource, &types.FaultSpec{
		Name:                  "cpu-hog",
		TimeoutInMilliseconds: 60000,
		Endpoint:              &types.Endpoint{Name: "db", Type: types.EndpointDocker, ContainerID: "c1"},
		InjectionCommands:     []*types.CommandInfo{{Command: "stress --cpu $FI_ARG_cpus", NoOfRetries: 2}},
	})
	task.PushTrigger("node-1")
	return task
}

func stores(t *testing.T) map[string]Store {
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"bolt":   bolt,
		"memory": NewMemoryStore(),
	}
}

func TestStoreTaskUpsert(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			task := newTask("task-1")
			require.NoError(t, s.AddOrUpdateTask(task))

			task.Transition(types.TaskStatusInjected, 100)
			task.SetSubstage(types.SubstageCompleted)
			require.NoError(t, s.AddOrUpdateTask(task))

			got, err := s.GetTask("task-1")
			require.NoError(t, err)
			assert.Equal(t, types.TaskStatusInjected, got.Status())
			assert.Equal(t, types.SubstageCompleted, got.Substage())
			assert.Equal(t, 1, got.TriggerCount())
			require.Len(t, got.TaskData.InjectionCommands, 1)
			assert.Equal(t, 2, got.TaskData.InjectionCommands[0].NoOfRetries)

			tasks, err := s.ListTasks()
			require.NoError(t, err)
			assert.Len(t, tasks, 1)

			require.NoError(t, s.DeleteTask("task-1"))
			_, err = s.GetTask("task-1")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStoreNodeStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetNodeStatus("node-1")
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.SetNodeStatus("node-1", types.NodeStatusPaused))
			status, err := s.GetNodeStatus("node-1")
			require.NoError(t, err)
			assert.Equal(t, types.NodeStatusPaused, status)
		})
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, bolt.Close())

	err = bolt.AddOrUpdateTask(newTask("task-1"))
	assert.True(t, IsUnavailable(err))

	mem := NewMemoryStore()
	require.NoError(t, mem.Close())
	_, err = mem.ListTasks()
	assert.True(t, IsUnavailable(err))
}
