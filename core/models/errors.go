package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTaskType is returned for a task type outside the action matrix
	ErrInvalidTaskType = errors.New("invalid task_type")
	// ErrActionNotAllowed is returned when the task type does not permit the action
	ErrActionNotAllowed = errors.New("action not allowed")
	// ErrMissingTaskType is returned when the config carries no task type
	ErrMissingTaskType = errors.New("missing task type: experiment.task.type is not set")
	// ErrNoSuccessfulTrial is returned when a tuning budget ran out without a usable trial
	ErrNoSuccessfulTrial = errors.New("auto-tuning finished without a successful trial")
)

// ValidationError names the offending task type and action
type ValidationError struct {
	TaskType TaskType
	Action   Action
	Err      error
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrInvalidTaskType) {
		return fmt.Sprintf("Invalid task_type %q, expected one of: compress, inference, rl, serve, train", e.TaskType)
	}
	return fmt.Sprintf("Action %q is not allowed for task_type %q", e.Action, e.TaskType)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConfigMigrationError reports a malformed legacy deploy sub-tree
type ConfigMigrationError struct {
	Path   string
	Reason string
}

func (e *ConfigMigrationError) Error() string {
	return fmt.Sprintf("cannot migrate %s: %s", e.Path, e.Reason)
}

// RunnerExecutionError wraps a backend failure raised while executing an action
type RunnerExecutionError struct {
	TaskType TaskType
	Action   Action
	Cause    error
}

func (e *RunnerExecutionError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.TaskType, e.Action, e.Cause)
}

func (e *RunnerExecutionError) Unwrap() error {
	return e.Cause
}
