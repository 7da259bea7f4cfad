package events

import (
	"testing"
	"time"

	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskCreated, TaskID: "task-1"})

	for _, sub := range []Subscriber{s1, s2} {
		ev := receive(t, sub)
		assert.Equal(t, EventTaskCreated, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestBrokerDoesNotDropForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	const total = 120
	for i := 0; i < total; i++ {
		b.Publish(&Event{Type: EventTaskModified})
	}

	for i := 0; i < total; i++ {
		receive(t, sub)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	// Unknown subscriber is a no-op
	b.Unsubscribe(sub)
}

func TestNewTaskEvent(t *testing.T) {
	task := types.NewTask("task-1", types.TaskTypeInjection, types.ExtensionCommand, nil)
	task.PushTrigger("node")
	task.Fail("agent not running")
	task.SetSubstage(types.SubstagePrerequisitesCheck)

	ev := NewTaskEvent(EventTaskCompleted, task, "done")
	require.NotNil(t, ev)
	assert.Equal(t, "task-1", ev.TaskID)
	assert.Equal(t, "FAILED", ev.Metadata["status"])
	assert.Equal(t, "PREREQUISITES_CHECK", ev.Metadata["substage"])
	assert.Equal(t, "agent not running", ev.Metadata["failure_reason"])
}
