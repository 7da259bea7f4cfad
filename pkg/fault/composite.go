package fault

import (
	"context"
	"fmt"

	"github.com/cuemby/havoc/pkg/types"
	"github.com/google/uuid"
)

// CompositeHandler expands a composite fault into child tasks. It only
// builds the children; the executor submits them once they are marked
// ready.
type CompositeHandler struct{}

// NewCompositeHandler creates the composite handler
func NewCompositeHandler() *CompositeHandler {
	return &CompositeHandler{}
}

// Run creates one initialized injection task per member
func (h *CompositeHandler) Run(ctx context.Context, task *types.Task) error {
	if task.TaskData == nil || task.TaskData.Composite == nil {
		return fmt.Errorf("task %s has no composite spec", task.ID)
	}
	composite := task.TaskData.Composite
	if len(composite.Members) == 0 {
		return fmt.Errorf("composite task %s has no members", task.ID)
	}

	children := make(map[string]*types.Task, len(composite.Members))
	for i, member := range composite.Members {
		if member == nil || member.Spec == nil {
			return fmt.Errorf("composite task %s: member %d has no fault spec", task.ID, i)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		child := types.NewTask(uuid.New().String(), types.TaskTypeInjection, member.Extension, member.Spec)
		child.ParentTaskID = task.ID
		child.Initialized = true
		children[child.ID] = child
	}

	composite.SetChildren(children)
	task.Info().Set("children", fmt.Sprint(len(children)))
	return nil
}

// Cancel is a no-op; children are independent tasks once submitted
func (h *CompositeHandler) Cancel(*types.Task) {}

func (h *CompositeHandler) Describe(task *types.Task) string {
	n := 0
	if task.TaskData != nil && task.TaskData.Composite != nil {
		n = len(task.TaskData.Composite.Members)
	}
	return fmt.Sprintf("composite fault with %d members", n)
}

func (h *CompositeHandler) Info(task *types.Task) map[string]string {
	return baseInfo(task)
}
