// Package errors provides contextual error wrapping for the sync engine.
package errors

import (
	"fmt"
	"time"
)

// OperationalError wraps an error with the sync-engine context in which it
// occurred: which component, which operation, and which (workflow, node) pair
// was affected. The engine never surfaces these to callers of the mutating
// API; they feed structured logs and diagnostics.
type OperationalError struct {
	Component  string                 // Engine component ("store", "registry", "dispatcher", ...)
	Operation  string                 // What was being performed
	WorkflowID string                 // Affected workflow, if any
	NodeID     string                 // Affected node, if any
	Timestamp  time.Time              // When the error occurred
	Attributes map[string]interface{} // Additional context (optional)
	Cause      error                  // Underlying error
}

// New creates an OperationalError wrapping cause. Returns nil if cause is
// nil, so call sites can wrap unconditionally.
func New(component, operation, workflowID, nodeID string, cause error) *OperationalError {
	if cause == nil {
		return nil
	}
	return &OperationalError{
		Component:  component,
		Operation:  operation,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// WithAttrs creates an OperationalError with additional attributes attached.
// Returns nil if cause is nil.
func WithAttrs(component, operation, workflowID, nodeID string, cause error, attrs map[string]interface{}) *OperationalError {
	e := New(component, operation, workflowID, nodeID, cause)
	if e != nil {
		e.Attributes = attrs
	}
	return e
}

// Error implements the error interface.
//
// Format: "[timestamp] component/operation: workflow={id} node={id}: {cause}"
// Empty workflow and node IDs are omitted.
func (e *OperationalError) Error() string {
	if e == nil {
		return "<nil OperationalError>"
	}

	msg := fmt.Sprintf("[%s] %s/%s:", e.Timestamp.Format(time.RFC3339), e.Component, e.Operation)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" workflow=%s", e.WorkflowID)
	}
	if e.NodeID != "" {
		msg += fmt.Sprintf(" node=%s", e.NodeID)
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
