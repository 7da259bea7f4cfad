package remote

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DockerNamespace is the containerd namespace used by dockerd
	DockerNamespace = "moby"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdExecutor runs commands inside a running container by starting an
// exec process in the container's task. Docker endpoints are reached this way
// through the containerd instance backing dockerd.
type ContainerdExecutor struct {
	client      *containerd.Client
	namespace   string
	containerID string
	timeout     time.Duration
}

// ContainerdConfig configures the containerd connection
type ContainerdConfig struct {
	SocketPath string
	Namespace  string
	Timeout    time.Duration
}

// NewContainerdFactory returns a Factory for docker endpoints. The client is
// created once and shared by all executors it builds; close it with the
// returned function.
func NewContainerdFactory(cfg ContainerdConfig) (Factory, func() error, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DockerNamespace
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	client, err := containerd.New(cfg.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	factory := func(ctx context.Context, endpoint *types.Endpoint) (Executor, error) {
		if endpoint.ContainerID == "" {
			return nil, fmt.Errorf("endpoint %s has no container id", endpoint.Name)
		}
		ns := cfg.Namespace
		if endpoint.Namespace != "" {
			ns = endpoint.Namespace
		}
		return &ContainerdExecutor{
			client:      client,
			namespace:   ns,
			containerID: endpoint.ContainerID,
			timeout:     cfg.Timeout,
		}, nil
	}
	return factory, client.Close, nil
}

// ExecuteCommand execs "sh -c command" in the container and waits for it
func (e *ContainerdExecutor) ExecuteCommand(ctx context.Context, command string) (Result, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	container, err := e.client.LoadContainer(ctx, e.containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Result{}, fmt.Errorf("no such container: %s", e.containerID)
		}
		return Result{}, fmt.Errorf("failed to load container %s: %w", e.containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container is not running
		return Result{}, fmt.Errorf("container not available: %s: %w", e.containerID, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load spec of container %s: %w", e.containerID, err)
	}

	pspec := specs.Process{}
	if spec.Process != nil {
		pspec = *spec.Process
	}
	pspec.Args = []string{"sh", "-c", command}
	pspec.Terminal = false

	var stdout, stderr bytes.Buffer
	execID := "havoc-" + uuid.New().String()[:12]
	process, err := task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return Result{}, fmt.Errorf("failed to exec in container %s: %w", e.containerID, err)
	}
	defer func() {
		_, _ = process.Delete(context.WithoutCancel(ctx), containerd.WithProcessKill)
	}()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to wait for exec process: %w", err)
	}

	if err := process.Start(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to start exec process: %w", err)
	}

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("exec in container %s: %w", e.containerID, ctx.Err())
	}

	code, _, err := status.Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read exit status: %w", err)
	}

	// Drain the copy goroutines before reading the buffers
	process.IO().Wait()

	return Result{
		ExitCode: int(code),
		Output:   stdout.String() + stderr.String(),
	}, nil
}
