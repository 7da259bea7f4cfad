/*
Package remote runs commands on fault endpoints.

The engine in package command only needs the Executor contract:

	ExecuteCommand(ctx, command) -> Result{ExitCode, Output}, error

A command that ran and exited non-zero is returned as a Result; an error
means the endpoint could not be reached or the exit status was lost. The
reconciler classifies those error messages ("no such container",
"container not available", ...) to tell transient from permanent failure.

# Executors

  - ShellExecutor: sh -c on the local host (local endpoints, tests)
  - ContainerdExecutor: exec process inside a running container through
    containerd; docker endpoints use the "moby" namespace of dockerd's
    containerd

SSH, Kubernetes and vCenter endpoints have no executor here. Resolving them
returns ErrUnsupportedEndpoint unless a Factory is registered by the caller.
*/
package remote
