// Package store provides the registry of in-flight and completed
// workflow records shared between the orchestrator and the HTTP surface.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates no record exists for the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a record with the same identifier
	// was already created.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrWorkflowAlreadyTerminal indicates a mutation was attempted on a
	// record that has reached a terminal status.
	ErrWorkflowAlreadyTerminal = errors.New("workflow already terminal")
)

// WorkflowError wraps store errors with the operation and workflow ID.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new store error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// IsWorkflowNotFound checks whether err means the record does not exist.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyTerminal checks whether err means the record can no
// longer be mutated.
func IsWorkflowAlreadyTerminal(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyTerminal)
}
