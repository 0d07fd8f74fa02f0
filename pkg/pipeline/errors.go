package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition signals a state advance with no defined successor,
// or an advance requested for a job already in a terminal state. It is a
// client error and is never retried.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidationError is returned by a stage executor that rejected the job's
// input or its own output. The orchestrator seals the stage record FAILED
// and moves the job to FAILED.
type ValidationError struct {
	Stage   Stage
	Phase   string // "input" or "output"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s: %s validation failed: %s", e.Stage, e.Phase, e.Message)
}

// NewInputValidationError builds a ValidationError for rejected stage input.
func NewInputValidationError(stage Stage, msg string) *ValidationError {
	return &ValidationError{Stage: stage, Phase: "input", Message: msg}
}

// NewOutputValidationError builds a ValidationError for rejected stage output.
func NewOutputValidationError(stage Stage, msg string) *ValidationError {
	return &ValidationError{Stage: stage, Phase: "output", Message: msg}
}

// ExecutionError wraps a failure raised by a stage executor's Execute.
// Handled identically to a validation failure.
type ExecutionError struct {
	Stage Stage
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %s: execution failed: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
