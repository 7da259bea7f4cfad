package types

import (
	"encoding/json"
	"sync"
	"time"
)

// TaskType distinguishes the injection half of a fault from its remediation
type TaskType string

const (
	TaskTypeInjection   TaskType = "INJECTION"
	TaskTypeRemediation TaskType = "REMEDIATION"
)

// TaskStatus represents the state of one execution attempt
type TaskStatus string

const (
	TaskStatusInitializing         TaskStatus = "INITIALIZING"
	TaskStatusInProgress           TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted            TaskStatus = "COMPLETED"
	TaskStatusFailed               TaskStatus = "FAILED"
	TaskStatusInjected             TaskStatus = "INJECTED"
	TaskStatusCanceling            TaskStatus = "CANCELING"
	TaskStatusSkipped              TaskStatus = "TASK_SKIPPED"
	TaskStatusMachineInvalidState  TaskStatus = "TEST_MACHINE_INVALID_STATE"
	TaskStatusEndpointUnknownState TaskStatus = "TEST_ENDPOINT_UNKNOWN_STATE"
)

// IsFinal reports whether the status is COMPLETED or FAILED. A final trigger
// never moves back to a running status.
func (s TaskStatus) IsFinal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsTerminal reports whether no further transition is expected for the attempt
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusEndpointUnknownState:
		return true
	}
	return false
}

// IsRunning reports whether the attempt has not yet left its start phase
func (s TaskStatus) IsRunning() bool {
	return s == TaskStatusInitializing || s == TaskStatusInProgress
}

// Substage is a named checkpoint inside an injection or remediation pipeline
type Substage string

const (
	SubstageInitialised                   Substage = "INITIALISED"
	SubstagePrerequisitesCheck            Substage = "PREREQUISITES_CHECK"
	SubstagePrepareTargetMachine          Substage = "PREPARE_TARGET_MACHINE"
	SubstageRemediationPrerequisitesCheck Substage = "REMEDIATION_PREREQUISITES_CHECK"
	SubstageTriggerRemediation            Substage = "TRIGGER_REMEDIATION"
	SubstageCompleted                     Substage = "COMPLETED"
)

// Reserved extension names with behavior inside the executor and reconciler
const (
	// ExtensionSystemResource owns long-running faults that end in INJECTED
	// and are followed by the reconciler.
	ExtensionSystemResource = "system-resource"

	// ExtensionNodeStatus owns the task that changes this node's status. It is
	// exempt from the paused/maintenance check.
	ExtensionNodeStatus = "node-status"

	// ExtensionComposite owns multi-task parents whose children are fanned out.
	ExtensionComposite = "composite"

	// ExtensionCommand owns plain command-list faults.
	ExtensionCommand = "command"
)

// FaultClassKernelPanic marks faults that take the endpoint down on purpose
const FaultClassKernelPanic = "kernel-panic"

// NodeStatus is the global state of the process node running tasks
type NodeStatus string

const (
	NodeStatusReady           NodeStatus = "READY"
	NodeStatusPaused          NodeStatus = "PAUSED"
	NodeStatusMaintenanceMode NodeStatus = "MAINTENANCE_MODE"
)

// AllowsExecution reports whether new tasks may run on a node in this status
func (s NodeStatus) AllowsExecution() bool {
	return s != NodeStatusPaused && s != NodeStatusMaintenanceMode
}

// EndpointType identifies which remote executor reaches an endpoint
type EndpointType string

const (
	EndpointLocal      EndpointType = "local"
	EndpointDocker     EndpointType = "docker"
	EndpointKubernetes EndpointType = "k8s"
	EndpointSSH        EndpointType = "ssh"
	EndpointVCenter    EndpointType = "vcenter"
)

// Endpoint references the remote target of a fault
type Endpoint struct {
	Name        string
	Type        EndpointType
	Address     string // Host address for ssh endpoints
	ContainerID string // Container for docker endpoints
	Namespace   string // Runtime or cluster namespace
	Labels      map[string]string
}

// ScheduleState tracks a deferred task through the scheduler
type ScheduleState string

const (
	ScheduleStateScheduled ScheduleState = "SCHEDULED"
	ScheduleStateRunning   ScheduleState = "RUNNING"
	ScheduleStateFinished  ScheduleState = "FINISHED"
)

// Schedule defers a task submission to a later time
type Schedule struct {
	StartAt        time.Time
	CronExpression string // Kept for display; recurrence is not evaluated
	State          ScheduleState
}

// FieldExtraction copies part of a command's output into the
// troubleshooting info under Field. An empty Regex takes the whole output.
type FieldExtraction struct {
	Field string
	Regex string
}

// CommandInfo is one remote command to run
type CommandInfo struct {
	Command              string // Template, see package command
	IgnoreExitValueCheck bool
	ExpectedOutputList   []string          // Output must contain one entry when set
	KnownFailureMap      map[string]string // Output substring -> explanation
	NoOfRetries          int
	RetryInterval        int // Seconds
	Extractions          []*FieldExtraction
}

// FaultSpec is the fault specification carried by a task
type FaultSpec struct {
	Name                  string
	FaultClass            string
	Endpoint              *Endpoint
	Args                  map[string]string
	TimeoutInMilliseconds int64
	Schedule              *Schedule

	PrerequisiteCommands            []*CommandInfo
	PrepareCommands                 []*CommandInfo
	InjectionCommands               []*CommandInfo
	RemediationPrerequisiteCommands []*CommandInfo
	RemediationCommands             []*CommandInfo
	CleanupCommands                 []*CommandInfo
	StatusCommands                  []*CommandInfo

	Composite *CompositeSpec `json:",omitempty"`
}

// Timeout returns the declared fault duration
func (f *FaultSpec) Timeout() time.Duration {
	if f == nil {
		return 0
	}
	return time.Duration(f.TimeoutInMilliseconds) * time.Millisecond
}

// CompositeSpec holds the children of a multi-task fault. The parent's
// handler fills TaskObjMap and marks it ready; the executor then fans the
// children out and clears the map.
type CompositeSpec struct {
	mu         sync.Mutex
	Members    []*CompositeMember
	TaskObjMap map[string]*Task
	ChildReady bool
}

// CompositeMember is one child fault of a composite task
type CompositeMember struct {
	Name      string
	Extension string
	Spec      *FaultSpec
}

// SetChildren records the child tasks and marks them ready for submission
func (c *CompositeSpec) SetChildren(children map[string]*Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TaskObjMap = children
	c.ChildReady = true
}

// Ready reports whether the children may be submitted
func (c *CompositeSpec) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ChildReady && len(c.TaskObjMap) > 0
}

// Children returns a copy of the child task map
func (c *CompositeSpec) Children() map[string]*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Task, len(c.TaskObjMap))
	for k, v := range c.TaskObjMap {
		out[k] = v
	}
	return out
}

// Clear drops the fan-out bookkeeping after submission
func (c *CompositeSpec) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TaskObjMap = nil
	c.ChildReady = false
}

// SupportFile records a diagnostic file collected from an endpoint
type SupportFile struct {
	Name        string
	Path        string
	CollectedAt time.Time
}

// TroubleShootingInfo is an append-only set of diagnostic fields
type TroubleShootingInfo struct {
	mu           sync.RWMutex
	Fields       map[string]string
	SupportFiles []SupportFile
}

// NewTroubleShootingInfo creates an empty TroubleShootingInfo
func NewTroubleShootingInfo() *TroubleShootingInfo {
	return &TroubleShootingInfo{Fields: make(map[string]string)}
}

// Set stores a field
func (i *TroubleShootingInfo) Set(field, value string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Fields == nil {
		i.Fields = make(map[string]string)
	}
	i.Fields[field] = value
}

// Get returns a field
func (i *TroubleShootingInfo) Get(field string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.Fields[field]
	return v, ok
}

// Snapshot returns a copy of all fields
func (i *TroubleShootingInfo) Snapshot() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]string, len(i.Fields))
	for k, v := range i.Fields {
		out[k] = v
	}
	return out
}

// AddSupportFile appends a support file record
func (i *TroubleShootingInfo) AddSupportFile(name, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.SupportFiles = append(i.SupportFiles, SupportFile{Name: name, Path: path, CollectedAt: time.Now()})
}

// MarshalJSON serializes under the read lock
func (i *TroubleShootingInfo) MarshalJSON() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	type plain struct {
		Fields       map[string]string
		SupportFiles []SupportFile
	}
	return json.Marshal(plain{Fields: i.Fields, SupportFiles: i.SupportFiles})
}

// TaskTrigger is one execution attempt of a task
type TaskTrigger struct {
	StartTime           *time.Time
	EndTime             *time.Time
	TaskStatus          TaskStatus
	TaskFailureReason   string
	PercentageCompleted int
	NodeID              string
}

// MarshalJSON serializes under the lock
func (c *CompositeSpec) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	type plain struct {
		Members    []*CompositeMember
		TaskObjMap map[string]*Task
		ChildReady bool
	}
	return json.Marshal(plain{Members: c.Members, TaskObjMap: c.TaskObjMap, ChildReady: c.ChildReady})
}
