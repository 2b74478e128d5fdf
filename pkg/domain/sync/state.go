package sync

import (
	"time"

	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// StageStatus is the status of one named sub-step within a node's progress.
type StageStatus string

const (
	// StagePending indicates the stage has not started.
	StagePending StageStatus = "pending"
	// StageRunning indicates the stage is in progress.
	StageRunning StageStatus = "running"
	// StageCompleted indicates the stage finished.
	StageCompleted StageStatus = "completed"
	// StageError indicates the stage failed.
	StageError StageStatus = "error"
)

// Stage is one named sub-step of a node's progress. Stages form an ordered
// sequence; order is preserved as reported by the backend.
type Stage struct {
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`
}

// Progress describes how far along a node execution is.
type Progress struct {
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Percentage float64   `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	Stages     []Stage   `json:"stages,omitempty"`
	Throughput float64   `json:"throughput,omitempty"`
	ETA        time.Time `json:"eta,omitempty"`
}

// ErrorDetail carries error information reported for a node.
type ErrorDetail struct {
	Message     string                 `json:"message"`
	Code        string                 `json:"code,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// Result carries the output reported for a completed node. Payload is opaque
// to the engine; row/column counts and schema apply to tabular results.
type Result struct {
	Payload     map[string]interface{} `json:"payload,omitempty"`
	RowCount    int                    `json:"rowCount,omitempty"`
	ColumnCount int                    `json:"columnCount,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Statistics  map[string]interface{} `json:"statistics,omitempty"`
}

// LogEntry is one line of node execution output. The log sequence is
// append-only and chronological; the engine never reorders or prunes it.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Category  string    `json:"category,omitempty"`
}

// NodeExecutionState is the engine's view of one executing node, identified
// by its (workflowId, nodeId) pair. Instances are owned exclusively by the
// state store; consumers receive copies.
//
// Version increases by exactly one on every accepted update and is the sole
// ordering signal: consumers use it to detect and discard stale reads. The
// engine itself never reorders updates by version or timestamp.
type NodeExecutionState struct {
	NodeID     types.NodeID     `json:"nodeId"`
	WorkflowID types.WorkflowID `json:"workflowId"`
	Status     NodeStatus       `json:"status"`
	Progress   *Progress        `json:"progress,omitempty"`
	Error      *ErrorDetail     `json:"error,omitempty"`
	Result     *Result          `json:"result,omitempty"`
	Logs       []LogEntry       `json:"logs,omitempty"`
	Version    int64            `json:"version"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// NewNodeExecutionState creates a fresh state for a node that has not been
// seen before. Every node enters the store through this constructor with
// status pending and version 0; the creating update is then applied on top.
func NewNodeExecutionState(nodeID types.NodeID, workflowID types.WorkflowID) *NodeExecutionState {
	return &NodeExecutionState{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Status:     NodeStatusPending,
		Version:    0,
	}
}

// Clone returns a deep copy safe to hand to subscribers and queries while the
// store keeps mutating the original.
func (s *NodeExecutionState) Clone() *NodeExecutionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Progress != nil {
		p := *s.Progress
		p.Stages = append([]Stage(nil), s.Progress.Stages...)
		out.Progress = &p
	}
	if s.Error != nil {
		e := *s.Error
		e.Details = cloneMap(s.Error.Details)
		e.Suggestions = append([]string(nil), s.Error.Suggestions...)
		out.Error = &e
	}
	if s.Result != nil {
		r := *s.Result
		r.Payload = cloneMap(s.Result.Payload)
		r.Schema = cloneMap(s.Result.Schema)
		r.Statistics = cloneMap(s.Result.Statistics)
		out.Result = &r
	}
	out.Logs = append([]LogEntry(nil), s.Logs...)
	return &out
}

// cloneMap shallow-copies a string-keyed map. Values are shared; the store
// never mutates values in place, only replaces or merges whole maps.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
