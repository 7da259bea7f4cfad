package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/havoc/pkg/types"
)

// MemoryStore keeps tasks in process memory. It stores the task pointers it
// is given, so readers see the live objects. Used by one-shot CLI runs and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*types.Task
	nodes  map[string]types.NodeStatus
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*types.Task),
		nodes: make(map[string]types.NodeStatus),
	}
}

func (s *MemoryStore) AddOrUpdateTask(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, nil
}

// ListTasks returns tasks ordered by creation time
func (s *MemoryStore) ListTasks() ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	tasks := make([]*types.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) GetNodeStatus(nodeID string) (types.NodeStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.nodes[nodeID]
	if !ok {
		return "", fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return status, nil
}

func (s *MemoryStore) SetNodeStatus(nodeID string, status types.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID] = status
	return nil
}

// Close makes every later task operation fail with ErrUnavailable
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
