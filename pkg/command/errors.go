package command

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies operational errors raised by the engine
type Code string

const (
	CodeExecutionFailed   Code = "COMMAND_EXECUTION_FAILED"
	CodeRetriesExhausted  Code = "COMMAND_EXEC_RETRIES_EXHAUSTED"
	CodeOutputMismatch    Code = "OUTPUT_MISMATCH"
	CodeMissingReference  Code = "MISSING_REFERENCE"
	CodeFieldExtraction   Code = "FIELD_EXTRACTION_FAILED"
	CodeInvalidExtraction Code = "INVALID_EXTRACTION_RULE"
)

// Error is an operational command failure
type Error struct {
	Code     Code
	Command  string
	ExitCode int
	Output   string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Command != "" {
		fmt.Fprintf(&b, " (command: %q)", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// DiagnosedError is a non-zero exit whose output matched a known failure.
// Cause is the documented explanation rather than the raw output.
type DiagnosedError struct {
	Command  string
	ExitCode int
	Output   string
	Cause    string
}

// Error implements the error interface
func (e *DiagnosedError) Error() string {
	return e.Cause
}

// MissingReferenceError lists template references that could not be resolved
type MissingReferenceError struct {
	Template   string
	References []string
}

// Error implements the error interface
func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s: unresolved references %s in %q",
		CodeMissingReference, strings.Join(e.References, ", "), e.Template)
}

// ErrorCode returns the code of the first engine error in err's chain, or ""
func ErrorCode(err error) Code {
	var missing *MissingReferenceError
	var cmdErr *Error
	var diagnosed *DiagnosedError
	switch {
	case errors.As(err, &missing):
		return CodeMissingReference
	case errors.As(err, &cmdErr):
		return cmdErr.Code
	case errors.As(err, &diagnosed):
		return CodeExecutionFailed
	}
	return ""
}

// Diagnosis returns the known-failure explanation carried by err, if any
func Diagnosis(err error) (string, bool) {
	var diagnosed *DiagnosedError
	if errors.As(err, &diagnosed) {
		return diagnosed.Cause, true
	}
	return "", false
}
