// Package types defines core domain type aliases and identifiers for the
// node-execution sync engine.
package types

import "github.com/google/uuid"

// WorkflowID is a unique identifier for a workflow.
type WorkflowID string

// NodeID is a unique identifier for a node within a workflow.
type NodeID string

// SubscriptionID is a unique identifier for a registered node subscription.
type SubscriptionID string

// UpdateID is a unique identifier for a queued offline update.
type UpdateID string

// NewSubscriptionID generates a new unique subscription ID.
// IDs are never reused, even after the subscription is removed.
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.NewString())
}

// NewUpdateID generates a new unique update ID.
func NewUpdateID() UpdateID {
	return UpdateID(uuid.NewString())
}

// String returns the string representation of a SubscriptionID.
func (id SubscriptionID) String() string {
	return string(id)
}

// IsZero returns true if the SubscriptionID is the zero value.
func (id SubscriptionID) IsZero() bool {
	return id == ""
}

// String returns the string representation of an UpdateID.
func (id UpdateID) String() string {
	return string(id)
}

// IsZero returns true if the UpdateID is the zero value.
func (id UpdateID) IsZero() bool {
	return id == ""
}
