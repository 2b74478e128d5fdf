package sync

import (
	"time"

	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// UpdateType discriminates the kind of mutation an update payload carries.
type UpdateType string

const (
	// UpdateStatus changes a node's status.
	UpdateStatus UpdateType = "status"
	// UpdateProgress merges progress fields into a node.
	UpdateProgress UpdateType = "progress"
	// UpdateError records an error and forces status to error.
	UpdateError UpdateType = "error"
	// UpdateResult records a result and forces status to completed.
	UpdateResult UpdateType = "result"
	// UpdateLog appends a log entry without touching status.
	UpdateLog UpdateType = "log"
)

// UpdateData is the sealed payload union. Exactly one concrete type exists
// per UpdateType, so the reducer can match exhaustively and reject unknown
// kinds at the dispatch boundary instead of discovering them mid-merge.
type UpdateData interface {
	// Kind returns the update type this data belongs to.
	Kind() UpdateType
	// sealed prevents implementations outside this package.
	sealed()
}

// StatusData carries a bare status change.
type StatusData struct {
	Status NodeStatus `json:"status"`
}

// Kind implements UpdateData.
func (StatusData) Kind() UpdateType { return UpdateStatus }
func (StatusData) sealed()          {}

// ProgressData carries a partial progress report. Nil pointer fields were
// absent from the wire message and must leave the stored value untouched;
// this is what makes the store's merge shallow rather than a replace.
type ProgressData struct {
	Current    *int       `json:"current,omitempty"`
	Total      *int       `json:"total,omitempty"`
	Percentage *float64   `json:"percentage,omitempty"`
	Message    *string    `json:"message,omitempty"`
	Stages     []Stage    `json:"stages,omitempty"`
	Throughput *float64   `json:"throughput,omitempty"`
	ETA        *time.Time `json:"eta,omitempty"`
}

// Kind implements UpdateData.
func (ProgressData) Kind() UpdateType { return UpdateProgress }
func (ProgressData) sealed()          {}

// ErrorData carries an error report. Applying it replaces the node's error
// detail wholesale and forces status to error.
type ErrorData struct {
	Message     string                 `json:"message"`
	Code        string                 `json:"code,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// Kind implements UpdateData.
func (ErrorData) Kind() UpdateType { return UpdateError }
func (ErrorData) sealed()          {}

// ResultData carries a result report. The payload map is merged over any
// previously stored result payload; counts and schema overwrite when present.
type ResultData struct {
	Payload     map[string]interface{} `json:"payload,omitempty"`
	RowCount    *int                   `json:"rowCount,omitempty"`
	ColumnCount *int                   `json:"columnCount,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Statistics  map[string]interface{} `json:"statistics,omitempty"`
}

// Kind implements UpdateData.
func (ResultData) Kind() UpdateType { return UpdateResult }
func (ResultData) sealed()          {}

// LogData carries one log line to append.
type LogData struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Category  string    `json:"category,omitempty"`
}

// Kind implements UpdateData.
func (LogData) Kind() UpdateType { return UpdateLog }
func (LogData) sealed()          {}

// NodeUpdatePayload is a transient, immutable instruction to mutate one
// node's state. Payloads are produced by the message dispatcher from wire
// events, or directly by API callers (e.g. a UI-triggered retry).
type NodeUpdatePayload struct {
	NodeID     types.NodeID
	WorkflowID types.WorkflowID
	Type       UpdateType
	Data       UpdateData
	Timestamp  time.Time
}

// NewStatusUpdate builds a status-change payload.
func NewStatusUpdate(nodeID types.NodeID, workflowID types.WorkflowID, status NodeStatus) NodeUpdatePayload {
	return NodeUpdatePayload{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Type:       UpdateStatus,
		Data:       StatusData{Status: status},
		Timestamp:  time.Now(),
	}
}

// NewProgressUpdate builds a progress payload.
func NewProgressUpdate(nodeID types.NodeID, workflowID types.WorkflowID, data ProgressData) NodeUpdatePayload {
	return NodeUpdatePayload{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Type:       UpdateProgress,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// NewErrorUpdate builds an error payload.
func NewErrorUpdate(nodeID types.NodeID, workflowID types.WorkflowID, data ErrorData) NodeUpdatePayload {
	return NodeUpdatePayload{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Type:       UpdateError,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// NewResultUpdate builds a result payload.
func NewResultUpdate(nodeID types.NodeID, workflowID types.WorkflowID, data ResultData) NodeUpdatePayload {
	return NodeUpdatePayload{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Type:       UpdateResult,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// NewLogUpdate builds a log-append payload. A zero timestamp on the entry is
// filled in with the current time.
func NewLogUpdate(nodeID types.NodeID, workflowID types.WorkflowID, data LogData) NodeUpdatePayload {
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now()
	}
	return NodeUpdatePayload{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Type:       UpdateLog,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// OfflineUpdate wraps a payload that arrived while the connection was not in
// the connected state. It lives in the offline queue until it replays
// successfully or exceeds MaxRetries.
type OfflineUpdate struct {
	ID         types.UpdateID
	Payload    NodeUpdatePayload
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
}

// DefaultMaxRetries is the number of replay attempts before a queued update
// is dropped.
const DefaultMaxRetries = 3

// NewOfflineUpdate wraps a payload for the offline queue.
func NewOfflineUpdate(payload NodeUpdatePayload) *OfflineUpdate {
	return &OfflineUpdate{
		ID:         types.NewUpdateID(),
		Payload:    payload,
		EnqueuedAt: time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}
