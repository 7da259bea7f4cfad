package storage

import (
	"errors"

	"github.com/cuemby/havoc/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps connectivity failures of the backing database.
	// Polling loops treat it as noise rather than as an error.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the persistence boundary of the engine. AddOrUpdateTask is an
// idempotent upsert keyed by task id; the last write wins.
type Store interface {
	// Tasks
	AddOrUpdateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	DeleteTask(id string) error

	// Node status
	GetNodeStatus(nodeID string) (types.NodeStatus, error)
	SetNodeStatus(nodeID string, status types.NodeStatus) error

	// Utility
	Close() error
}

// IsUnavailable reports whether err is a store connectivity failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotFound reports whether err is a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
