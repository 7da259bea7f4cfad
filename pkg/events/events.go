package events

import (
	"sync"
	"time"

	"github.com/cuemby/havoc/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTaskCreated         EventType = "task.created"
	EventTaskModified        EventType = "task.modified"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskSubstageChanged EventType = "task.substage_changed"
)

// Event represents a task lifecycle event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	TaskID    string
	Message   string
	Metadata  map[string]string
}

// NewTaskEvent builds an event describing the current state of task
func NewTaskEvent(eventType EventType, task *types.Task, message string) *Event {
	metadata := map[string]string{
		"task_type": string(task.TaskType),
		"extension": task.ExtensionName,
		"status":    string(task.Status()),
		"substage":  string(task.Substage()),
	}
	if tr, ok := task.Trigger(); ok && tr.TaskFailureReason != "" {
		metadata["failure_reason"] = tr.TaskFailureReason
	}
	return &Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		TaskID:   task.ID,
		Message:  message,
		Metadata: metadata,
	}
}

// Publisher accepts events for delivery
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	ch      Subscriber
	done    chan struct{}
	pending sync.WaitGroup
}

// Broker fans events out to subscribers. Publishing never waits on a slow
// subscriber: when its buffer is full the event is handed to a goroutine
// that delivers it once there is room, so every subscriber sees every event
// published while it is subscribed. Order across those late deliveries is
// not preserved.
type Broker struct {
	subscribers map[Subscriber]*subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		ch:   make(Subscriber, 50),
		done: make(chan struct{}),
	}
	b.subscribers[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes a subscription. The channel is closed once no late
// delivery is pending.
func (b *Broker) Unsubscribe(ch Subscriber) {
	b.mu.Lock()
	sub, ok := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()
	if !ok {
		return
	}

	close(sub.done)
	go func() {
		sub.pending.Wait()
		close(sub.ch)
	}()
}

// Publish queues an event for all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.pending.Add(1)
			go b.deliverLate(sub, event)
		}
	}
}

func (b *Broker) deliverLate(sub *subscription, event *Event) {
	defer sub.pending.Done()
	select {
	case sub.ch <- event:
	case <-sub.done:
	case <-b.stopCh:
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
