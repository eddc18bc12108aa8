package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is returned when a run is stopped by Cancel or by its
	// context before finishing.
	ErrCancelled = errors.New("cancelled")

	// ErrBusy is returned when a command is submitted while another one is
	// still running.
	ErrBusy = errors.New("another command is still running")
)

// InvalidPlanError means the plan was rejected before any worker ran.
type InvalidPlanError struct {
	Step   string
	Reason string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	msg := "invalid plan"
	if e.Step != "" {
		msg += fmt.Sprintf(": step %q", e.Step)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidPlanError) Unwrap() error {
	return e.Err
}

// WorkerExecutionError is a failure reported by, or on behalf of, a worker.
type WorkerExecutionError struct {
	Step     string
	WorkerID string
	TaskID   string
	Detail   string
	Err      error
}

func (e *WorkerExecutionError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %s", e.Step, e.WorkerID, e.Detail)
}

func (e *WorkerExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is a worker that did not answer within the step timeout.
// errors.As also matches it as a *WorkerExecutionError.
type TimeoutError struct {
	Step     string
	WorkerID string
	TaskID   string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q (%s) timed out after %s", e.Step, e.WorkerID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return &WorkerExecutionError{
		Step:     e.Step,
		WorkerID: e.WorkerID,
		TaskID:   e.TaskID,
		Detail:   fmt.Sprintf("timed out after %s", e.Timeout),
		Err:      context.DeadlineExceeded,
	}
}

// BindingError means an earlier step's output lacked a key a later step
// reads. It is detected before the later step is dispatched.
type BindingError struct {
	Step   string
	Target string
	From   string
	Key    string
}

func (e *BindingError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("step %q: no output from step %q to bind", e.Step, e.From)
	}
	return fmt.Sprintf("step %q: input %q needs %s.%s, which step %q did not produce", e.Step, e.Target, e.From, e.Key, e.From)
}
