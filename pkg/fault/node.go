package fault

import (
	"context"
	"fmt"

	"github.com/cuemby/havoc/pkg/types"
)

// Args read by the node-status handler
const (
	ArgNodeStatus = "status"
	ArgNodeID     = "node"
)

// NodeStatusStore records node status
type NodeStatusStore interface {
	SetNodeStatus(nodeID string, status types.NodeStatus) error
}

// NodeStatusHandler changes the execution status of a node. Its tasks run
// even while the node is paused, so a paused node can be resumed.
type NodeStatusHandler struct {
	store NodeStatusStore
}

// NewNodeStatusHandler creates the node-status handler
func NewNodeStatusHandler(store NodeStatusStore) *NodeStatusHandler {
	return &NodeStatusHandler{store: store}
}

// Run writes the requested status. The target node defaults to the node
// running the task.
func (h *NodeStatusHandler) Run(ctx context.Context, task *types.Task) error {
	args := task.Args()
	status := types.NodeStatus(args[ArgNodeStatus])
	switch status {
	case types.NodeStatusReady, types.NodeStatusPaused, types.NodeStatusMaintenanceMode:
	default:
		return fmt.Errorf("invalid node status %q", status)
	}

	nodeID := args[ArgNodeID]
	if nodeID == "" {
		if tr, ok := task.Trigger(); ok {
			nodeID = tr.NodeID
		}
	}
	if nodeID == "" {
		return fmt.Errorf("task %s does not name a node", task.ID)
	}

	if err := h.store.SetNodeStatus(nodeID, status); err != nil {
		return fmt.Errorf("failed to set status of node %s: %w", nodeID, err)
	}
	task.Info().Set("node_status", string(status))
	return nil
}

// Cancel is a no-op; the status write is a single step
func (h *NodeStatusHandler) Cancel(*types.Task) {}

func (h *NodeStatusHandler) Describe(task *types.Task) string {
	return fmt.Sprintf("set node status to %s", task.Args()[ArgNodeStatus])
}

func (h *NodeStatusHandler) Info(task *types.Task) map[string]string {
	info := baseInfo(task)
	info["requested_status"] = task.Args()[ArgNodeStatus]
	return info
}
