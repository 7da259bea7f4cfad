/*
Package events publishes task lifecycle events to in-process listeners.

Four event types are emitted:

	task.created           a task was handed to the executor
	task.modified          a task's status changed (executor or reconciler)
	task.completed         a task reached COMPLETED, FAILED or INJECTED
	task.substage_changed  the substage pipeline wrote a new checkpoint

# Delivery

Publishing is fire-and-forget: Publish returns once the broker has queued the
event. Each subscriber has a buffered channel; when it is full the event is
delivered by a helper goroutine as soon as the subscriber catches up, so
events are never dropped for a live subscriber. There is no ordering
guarantee across subscribers, and a late delivery may overtake earlier ones.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.TaskID, ev.Metadata["status"])
		}
	}()
*/
package events
