package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/havoc/pkg/types"
)

// ShellExecutor runs commands through sh on the local host. It serves
// local endpoints and tests.
type ShellExecutor struct {
	// Shell is the interpreter invoked as "<Shell> -c <command>"
	Shell string

	// Timeout bounds one command (default: 5 minutes)
	Timeout time.Duration
}

// NewShellExecutor creates a shell executor with defaults
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{
		Shell:   "sh",
		Timeout: 5 * time.Minute,
	}
}

// ShellFactory is a Factory for local endpoints
func ShellFactory(ctx context.Context, endpoint *types.Endpoint) (Executor, error) {
	return NewShellExecutor(), nil
}

// ExecuteCommand runs command and returns its exit code and combined output
func (e *ShellExecutor) ExecuteCommand(ctx context.Context, command string) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Shell, "-c", command)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && execCtx.Err() == nil {
			return Result{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
		}
		return Result{}, fmt.Errorf("failed to run command: %w", err)
	}

	return Result{ExitCode: 0, Output: output.String()}, nil
}

// WithTimeout sets the execution timeout
func (e *ShellExecutor) WithTimeout(timeout time.Duration) *ShellExecutor {
	e.Timeout = timeout
	return e
}
