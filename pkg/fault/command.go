package fault

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/havoc/pkg/command"
	"github.com/cuemby/havoc/pkg/remote"
	"github.com/cuemby/havoc/pkg/substage"
	"github.com/cuemby/havoc/pkg/types"
)

// ExecutorResolver builds the remote executor for an endpoint
type ExecutorResolver interface {
	Resolve(ctx context.Context, endpoint *types.Endpoint) (remote.Executor, error)
}

// CommandStages runs each pipeline stage as the matching command list of
// the task's fault spec. An empty list is a no-op stage.
type CommandStages struct {
	engine   *command.Engine
	resolver ExecutorResolver
}

// NewCommandStages creates command-driven stages
func NewCommandStages(engine *command.Engine, resolver ExecutorResolver) *CommandStages {
	return &CommandStages{engine: engine, resolver: resolver}
}

func (s *CommandStages) run(ctx context.Context, task *types.Task, commands []*types.CommandInfo) error {
	if len(commands) == 0 {
		return nil
	}
	exec, err := s.resolver.Resolve(ctx, task.Endpoint())
	if err != nil {
		return err
	}
	return s.engine.RunCommands(ctx, exec, commands, task.Info(), task.Args())
}

func (s *CommandStages) CheckPrerequisites(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.PrerequisiteCommands)
}

func (s *CommandStages) PrepareTarget(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.PrepareCommands)
}

func (s *CommandStages) Inject(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.InjectionCommands)
}

func (s *CommandStages) CheckRemediationPrerequisites(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.RemediationPrerequisiteCommands)
}

func (s *CommandStages) Remediate(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.RemediationCommands)
}

func (s *CommandStages) Cleanup(ctx context.Context, task *types.Task) error {
	return s.run(ctx, task, task.TaskData.CleanupCommands)
}

// CommandHandler runs a fault through the substage machine. Registered
// under "command" for faults that finish when their commands do, and under
// "system-resource" for faults that stay active on the endpoint after
// injection.
type CommandHandler struct {
	name    string
	machine *substage.Machine

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCommandHandler creates a handler named name
func NewCommandHandler(name string, machine *substage.Machine) *CommandHandler {
	return &CommandHandler{
		name:    name,
		machine: machine,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes the task's pipeline from its recorded substage
func (h *CommandHandler) Run(ctx context.Context, task *types.Task) error {
	if task.TaskData == nil {
		return fmt.Errorf("task %s has no fault spec", task.ID)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancels[task.ID] = cancel
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.cancels, task.ID)
		h.mu.Unlock()
		cancel()
	}()

	return h.machine.Run(ctx, task)
}

// Cancel interrupts the command currently running for task, if any
func (h *CommandHandler) Cancel(task *types.Task) {
	h.mu.Lock()
	cancel, ok := h.cancels[task.ID]
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

func (h *CommandHandler) Describe(task *types.Task) string {
	name := ""
	if task.TaskData != nil {
		name = task.TaskData.Name
	}
	ep := "no endpoint"
	if e := task.Endpoint(); e != nil {
		ep = fmt.Sprintf("%s endpoint %s", e.Type, e.Name)
	}
	return fmt.Sprintf("%s %s fault %q on %s", h.name, task.TaskType, name, ep)
}

func (h *CommandHandler) Info(task *types.Task) map[string]string {
	info := baseInfo(task)
	for k, v := range task.Info().Snapshot() {
		info["info."+k] = v
	}
	return info
}
