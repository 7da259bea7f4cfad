package fault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/havoc/pkg/types"
)

// ErrUnsupportedFault is returned when no handler is registered for an
// extension name
var ErrUnsupportedFault = errors.New("unsupported fault")

// Handler runs one kind of fault. Cancel is a request: Run is expected to
// notice it and return.
type Handler interface {
	Run(ctx context.Context, task *types.Task) error
	Cancel(task *types.Task)
	Describe(task *types.Task) string
	Info(task *types.Task) map[string]string
}

// Registry maps extension names to handlers. It is filled at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h under name, replacing any previous handler
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Resolve returns the handler registered under name
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFault, name)
	}
	return h, nil
}

// Names returns the registered extension names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// baseInfo describes the fault spec of a task
func baseInfo(task *types.Task) map[string]string {
	info := map[string]string{
		"task_id":   task.ID,
		"task_type": string(task.TaskType),
		"extension": task.ExtensionName,
		"substage":  string(task.Substage()),
	}
	if spec := task.TaskData; spec != nil {
		info["fault"] = spec.Name
		if spec.FaultClass != "" {
			info["fault_class"] = spec.FaultClass
		}
		if ep := spec.Endpoint; ep != nil {
			info["endpoint"] = ep.Name
			info["endpoint_type"] = string(ep.Type)
		}
	}
	return info
}
