// Package sync implements the real-time node-execution synchronization
// engine: state store, subscription registry, offline queue, message
// dispatcher, and connection manager.
package sync

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// Store is the authoritative in-memory mapping from node identity to
// execution state. It is a pure reducer: Apply folds update payloads into
// node states and has no knowledge of transports, queues, or subscribers.
//
// Node states are keyed by node ID; node IDs are unique within a session
// and the owning workflow ID is carried on each state.
type Store struct {
	mu    sync.RWMutex
	nodes map[types.NodeID]*domain.NodeExecutionState

	// totalUpdates counts every accepted update for health reporting.
	totalUpdates atomic.Int64

	logger hclog.Logger
}

// NewStore creates an empty state store.
func NewStore(logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		nodes:  make(map[types.NodeID]*domain.NodeExecutionState),
		logger: logger.Named("store"),
	}
}

// Apply reduces one update payload into the store and returns a copy of the
// post-merge state. An update referencing an unknown node implicitly creates
// it with status pending and version 0 before the update is applied, so
// Apply never fails for an unknown node.
//
// Every accepted update increments the node's version by exactly one and
// stamps LastUpdated. Only the fields carried by the payload are touched;
// everything else is retained from the prior state. The returned error is
// non-nil only for payloads with no data, which cannot be produced by the
// payload constructors.
func (s *Store) Apply(p domain.NodeUpdatePayload) (*domain.NodeExecutionState, error) {
	if p.Data == nil {
		return nil, fmt.Errorf("update for node %s has no data", p.NodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.getOrCreateLocked(p.NodeID, p.WorkflowID)

	switch data := p.Data.(type) {
	case domain.StatusData:
		state.Status = data.Status
	case domain.ProgressData:
		applyProgress(state, data)
	case domain.ErrorData:
		state.Error = &domain.ErrorDetail{
			Message:     data.Message,
			Code:        data.Code,
			Details:     data.Details,
			Recoverable: data.Recoverable,
			Suggestions: data.Suggestions,
		}
		// An error report always leaves the node in the error status.
		state.Status = domain.NodeStatusError
	case domain.ResultData:
		applyResult(state, data)
		// A result report always leaves the node completed.
		state.Status = domain.NodeStatusCompleted
	case domain.LogData:
		state.Logs = append(state.Logs, domain.LogEntry{
			Timestamp: data.Timestamp,
			Level:     data.Level,
			Message:   data.Message,
			Category:  data.Category,
		})
	default:
		return nil, fmt.Errorf("unhandled update data kind %T for node %s", p.Data, p.NodeID)
	}

	state.Version++
	state.LastUpdated = time.Now()
	s.totalUpdates.Add(1)

	s.logger.Trace("applied update",
		"node", p.NodeID, "workflow", p.WorkflowID,
		"type", p.Type, "version", state.Version)

	return state.Clone(), nil
}

// getOrCreateLocked is the single code path through which nodes enter the
// store. Callers hold s.mu.
func (s *Store) getOrCreateLocked(nodeID types.NodeID, workflowID types.WorkflowID) *domain.NodeExecutionState {
	if state, ok := s.nodes[nodeID]; ok {
		return state
	}
	state := domain.NewNodeExecutionState(nodeID, workflowID)
	s.nodes[nodeID] = state
	return state
}

// GetNodeState returns a copy of the current state for a node, or false if
// the node has never been seen.
func (s *Store) GetNodeState(nodeID types.NodeID) (*domain.NodeExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.nodes[nodeID]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// GetNodesByWorkflow returns copies of all node states belonging to a
// workflow.
func (s *Store) GetNodesByWorkflow(workflowID types.WorkflowID) []*domain.NodeExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.NodeExecutionState
	for _, state := range s.nodes {
		if state.WorkflowID == workflowID {
			out = append(out, state.Clone())
		}
	}
	return out
}

// GetNodesByStatus returns copies of all node states with the given status.
func (s *Store) GetNodesByStatus(status domain.NodeStatus) []*domain.NodeExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.NodeExecutionState
	for _, state := range s.nodes {
		if state.Status == status {
			out = append(out, state.Clone())
		}
	}
	return out
}

// IsNodeRunning returns true iff the node exists and its status is running.
func (s *Store) IsNodeRunning(nodeID types.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.nodes[nodeID]
	return ok && state.Status == domain.NodeStatusRunning
}

// ClearNodeState removes a node from the store. No version side effects.
func (s *Store) ClearNodeState(nodeID types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
}

// ClearWorkflowStates removes all nodes belonging to a workflow.
func (s *Store) ClearWorkflowStates(workflowID types.WorkflowID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for nodeID, state := range s.nodes {
		if state.WorkflowID == workflowID {
			delete(s.nodes, nodeID)
		}
	}
}

// ClearAllStates removes every node from the store.
func (s *Store) ClearAllStates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[types.NodeID]*domain.NodeExecutionState)
}

// Len returns the number of tracked nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// TotalUpdates returns the process-wide count of accepted updates.
func (s *Store) TotalUpdates() int64 {
	return s.totalUpdates.Load()
}
