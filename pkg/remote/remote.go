package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/havoc/pkg/types"
)

// ErrUnsupportedEndpoint is returned when no executor is registered for an
// endpoint type
var ErrUnsupportedEndpoint = errors.New("unsupported endpoint type")

// Result is the outcome of one remote command
type Result struct {
	ExitCode int
	Output   string
}

// Executor runs a command on a remote endpoint. A command that ran and
// exited non-zero is a Result, not an error; errors mean the command could
// not be run or its exit status could not be collected.
type Executor interface {
	ExecuteCommand(ctx context.Context, command string) (Result, error)
}

// Factory builds an executor for one endpoint
type Factory func(ctx context.Context, endpoint *types.Endpoint) (Executor, error)

// Resolver maps endpoint types to executor factories
type Resolver struct {
	mu        sync.RWMutex
	factories map[types.EndpointType]Factory
}

// NewResolver creates an empty resolver
func NewResolver() *Resolver {
	return &Resolver{factories: make(map[types.EndpointType]Factory)}
}

// Register installs the factory for an endpoint type, replacing any previous one
func (r *Resolver) Register(endpointType types.EndpointType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[endpointType] = f
}

// Resolve builds the executor reaching endpoint
func (r *Resolver) Resolve(ctx context.Context, endpoint *types.Endpoint) (Executor, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("%w: no endpoint", ErrUnsupportedEndpoint)
	}

	r.mu.RLock()
	f, ok := r.factories[endpoint.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, endpoint.Type)
	}
	return f(ctx, endpoint)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, command string) (Result, error)

// ExecuteCommand calls f
func (f ExecutorFunc) ExecuteCommand(ctx context.Context, command string) (Result, error) {
	return f(ctx, command)
}
