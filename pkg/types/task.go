package types

import (
	"encoding/json"
	"sync"
	"time"
)

// Task is the unit of work driven through the injection lifecycle. Its
// triggers form an append-only log with the current attempt last; every
// mutation goes through the methods below.
type Task struct {
	mu sync.RWMutex

	ID                  string
	TaskType            TaskType
	ExtensionName       string
	TaskData            *FaultSpec
	Triggers            []*TaskTrigger
	TaskSubstage        Substage
	Initialized         bool
	ScheduledTask       bool
	TroubleShootingInfo *TroubleShootingInfo
	InjectionTaskID     string // Remediation tasks: the injection they undo
	Remediated          bool   // Injection tasks: fault has been undone
	ParentTaskID        string
	CreatedAt           time.Time
}

// NewTask creates an uninitialized task with an empty trigger log
func NewTask(id string, taskType TaskType, extension string, spec *FaultSpec) *Task {
	return &Task{
		ID:                  id,
		TaskType:            taskType,
		ExtensionName:       extension,
		TaskData:            spec,
		TroubleShootingInfo: NewTroubleShootingInfo(),
		CreatedAt:           time.Now(),
	}
}

// PushTrigger starts a new execution attempt in INITIALIZING
func (t *Task) PushTrigger(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Triggers = append(t.Triggers, &TaskTrigger{
		TaskStatus: TaskStatusInitializing,
		NodeID:     nodeID,
	})
}

// Trigger returns a copy of the current attempt
func (t *Task) Trigger() (TaskTrigger, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.Triggers) == 0 {
		return TaskTrigger{}, false
	}
	return *t.Triggers[len(t.Triggers)-1], true
}

// PreviousTrigger returns a copy of the attempt before the current one
func (t *Task) PreviousTrigger() (TaskTrigger, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.Triggers) < 2 {
		return TaskTrigger{}, false
	}
	return *t.Triggers[len(t.Triggers)-2], true
}

// TriggerCount returns the number of attempts so far
func (t *Task) TriggerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Triggers)
}

// Status returns the status of the current attempt, or "" before the first
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.Triggers) == 0 {
		return ""
	}
	return t.Triggers[len(t.Triggers)-1].TaskStatus
}

// Transition moves the current attempt to status. It returns false when there
// is no attempt or when the move would take a final attempt back to running.
func (t *Task) Transition(status TaskStatus, percentage int) bool {
	return t.TransitionWithReason(status, percentage, "")
}

// TransitionWithReason is Transition plus a failure reason. An empty reason
// leaves the recorded one untouched.
func (t *Task) TransitionWithReason(status TaskStatus, percentage int, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Triggers) == 0 {
		return false
	}
	tr := t.Triggers[len(t.Triggers)-1]
	if tr.TaskStatus.IsFinal() && status.IsRunning() {
		return false
	}

	now := time.Now()
	tr.TaskStatus = status
	tr.PercentageCompleted = percentage
	if reason != "" {
		tr.TaskFailureReason = reason
	}
	if status == TaskStatusInProgress && tr.StartTime == nil {
		tr.StartTime = &now
	}
	if status.IsTerminal() || status == TaskStatusInjected {
		tr.EndTime = &now
	}
	return true
}

// Fail marks the current attempt FAILED with reason
func (t *Task) Fail(reason string) bool {
	return t.TransitionWithReason(TaskStatusFailed, 100, reason)
}

// Substage returns the recorded pipeline checkpoint
func (t *Task) Substage() Substage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.TaskSubstage
}

// SetSubstage records a pipeline checkpoint
func (t *Task) SetSubstage(s Substage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TaskSubstage = s
}

// IsRemediated reports whether the injected fault has been undone
func (t *Task) IsRemediated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Remediated
}

// SetRemediated flags the injected fault as undone
func (t *Task) SetRemediated(remediated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Remediated = remediated
}

// IsScheduled reports whether the task was deferred to the scheduler
func (t *Task) IsScheduled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ScheduledTask
}

// SetScheduled flags the task as deferred to the scheduler
func (t *Task) SetScheduled(scheduled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ScheduledTask = scheduled
}

// ScheduleState returns the scheduler state of a deferred task, or "" when
// the task has no schedule
func (t *Task) ScheduleState() ScheduleState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.TaskData == nil || t.TaskData.Schedule == nil {
		return ""
	}
	return t.TaskData.Schedule.State
}

// SetScheduleState records the scheduler state. It is a no-op for a task
// without a schedule.
func (t *Task) SetScheduleState(state ScheduleState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.TaskData != nil && t.TaskData.Schedule != nil {
		t.TaskData.Schedule.State = state
	}
}

// Info returns the troubleshooting info, creating it on first use
func (t *Task) Info() *TroubleShootingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.TroubleShootingInfo == nil {
		t.TroubleShootingInfo = NewTroubleShootingInfo()
	}
	return t.TroubleShootingInfo
}

// Args returns the fault arguments
func (t *Task) Args() map[string]string {
	if t.TaskData == nil {
		return nil
	}
	return t.TaskData.Args
}

// Endpoint returns the fault's endpoint, or nil
func (t *Task) Endpoint() *Endpoint {
	if t.TaskData == nil {
		return nil
	}
	return t.TaskData.Endpoint
}

// MarshalJSON serializes the task under its read lock
func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	type plain struct {
		ID                  string
		TaskType            TaskType
		ExtensionName       string
		TaskData            *FaultSpec
		Triggers            []*TaskTrigger
		TaskSubstage        Substage
		Initialized         bool
		ScheduledTask       bool
		TroubleShootingInfo *TroubleShootingInfo
		InjectionTaskID     string
		Remediated          bool
		ParentTaskID        string
		CreatedAt           time.Time
	}
	return json.Marshal(plain{
		ID:                  t.ID,
		TaskType:            t.TaskType,
		ExtensionName:       t.ExtensionName,
		TaskData:            t.TaskData,
		Triggers:            t.Triggers,
		TaskSubstage:        t.TaskSubstage,
		Initialized:         t.Initialized,
		ScheduledTask:       t.ScheduledTask,
		TroubleShootingInfo: t.TroubleShootingInfo,
		InjectionTaskID:     t.InjectionTaskID,
		Remediated:          t.Remediated,
		ParentTaskID:        t.ParentTaskID,
		CreatedAt:           t.CreatedAt,
	})
}
