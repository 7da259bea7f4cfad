package executor

import (
	"errors"
	"fmt"

	"github.com/cuemby/havoc/pkg/command"
	"github.com/cuemby/havoc/pkg/fault"
	"github.com/cuemby/havoc/pkg/remote"
)

// Code classifies executor errors
type Code string

const (
	CodeTaskNotInitialized    Code = "TASK_NOT_INITIALIZED"
	CodeTaskNotBelongToRunner Code = "TASK_NOT_BELONG_TO_RUNNER"
	CodeTaskNotStarted        Code = "TASK_NOT_STARTED"
	CodeTaskExecutionFailed   Code = "TASK_EXECUTION_FAILED"
	CodeUnsupportedFault      Code = "UNSUPPORTED_FAULT"
	CodeUnsupportedEndpoint   Code = "UNSUPPORTED_ENDPOINT"
)

// Error is an executor contract failure
type Error struct {
	Code   Code
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: task %s: %v", e.Code, e.TaskID, e.Err)
	}
	return fmt.Sprintf("%s: task %s", e.Code, e.TaskID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the most specific code known for err
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fault.ErrUnsupportedFault):
		return string(CodeUnsupportedFault)
	case errors.Is(err, remote.ErrUnsupportedEndpoint):
		return string(CodeUnsupportedEndpoint)
	}
	if code := command.ErrorCode(err); code != "" {
		return string(code)
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return string(execErr.Code)
	}
	return ""
}
