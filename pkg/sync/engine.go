package sync

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flowdesk/nodesync/pkg/config"
	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
	opserr "github.com/flowdesk/nodesync/pkg/errors"
	"github.com/flowdesk/nodesync/pkg/storage"
	"github.com/flowdesk/nodesync/pkg/transport"
)

// Engine is the node-execution sync engine. It composes the state store,
// subscription registry, offline queue, message dispatcher, and connection
// manager behind the API the rendering layer consumes.
//
// Engines are explicitly constructed and disposed: create one with NewEngine,
// tear it down with Close. Multiple independent instances can coexist, e.g.
// one per test.
type Engine struct {
	logger hclog.Logger

	store    *Store
	registry *Registry
	queue    *OfflineQueue
	journal  *storage.Journal // optional diagnostics sink

	transportFactory transport.Factory

	// Connection manager state, guarded by connMu. See connection.go.
	connMu                sync.Mutex
	connState             domain.ConnectionState
	cfg                   *config.ConnectionConfig
	transport             transport.Transport
	connEpoch             uint64
	reconnectAttempts     int
	lastConnectionAttempt time.Time
	lastHeartbeat         time.Time
	manuallyDisconnected  bool
	reconnectTimer        *time.Timer
}

// Options configures an Engine. The zero value is usable: a default logger,
// no journal, and the production transport factory.
type Options struct {
	// Logger receives engine diagnostics. Defaults to a named hclog logger.
	Logger hclog.Logger
	// Journal, when set, records every accepted update. The engine owns it
	// after construction and closes it on Close.
	Journal *storage.Journal
	// TransportFactory overrides how transports are built, used by tests to
	// substitute in-process fakes.
	TransportFactory transport.Factory
}

// NewEngine creates an engine with default options.
func NewEngine() *Engine {
	return NewEngineWithOptions(Options{})
}

// NewEngineWithOptions creates an engine with explicit options.
func NewEngineWithOptions(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "nodesync"})
	}

	factory := opts.TransportFactory
	if factory == nil {
		factory = transport.New
	}

	return &Engine{
		logger:           logger,
		store:            NewStore(logger),
		registry:         NewRegistry(logger),
		queue:            NewOfflineQueue(logger),
		journal:          opts.Journal,
		transportFactory: factory,
		connState:        domain.StateDisconnected,
	}
}

// Close disconnects, stops the dispatch bus after draining it, and releases
// the journal. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.Disconnect()
	e.registry.Close()
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}

// applyUpdate reduces a payload into the store, fans it out to subscribers,
// and journals it. Returns the store error, which the replay path uses for
// retry accounting; UpdateNodeState swallows it after logging since store
// application only fails for payloads that bypass the constructors.
func (e *Engine) applyUpdate(p domain.NodeUpdatePayload) error {
	state, err := e.store.Apply(p)
	if err != nil {
		e.logger.Error("update not applied", "error",
			opserr.New("store", "apply", string(p.WorkflowID), string(p.NodeID), err))
		return err
	}

	e.registry.Publish(p, state)

	if e.journal != nil {
		if err := e.journal.Record(state, p); err != nil {
			// Journal failures are diagnostics-only and never affect the
			// accepted update.
			e.logger.Warn("journal write failed", "error",
				opserr.New("journal", "record", string(p.WorkflowID), string(p.NodeID), err))
		}
	}
	return nil
}

// UpdateNodeState applies an update payload directly, bypassing the wire
// protocol. Used by local mutations such as a UI-triggered retry.
func (e *Engine) UpdateNodeState(p domain.NodeUpdatePayload) {
	if e.ConnectionState() == domain.StateConnected {
		_ = e.applyUpdate(p)
		return
	}
	// Local mutations attempted while offline join the replay queue like
	// any other update.
	e.queue.Enqueue(p)
}

// UpdateNodeStatus applies a status change. Sugar over UpdateNodeState.
func (e *Engine) UpdateNodeStatus(nodeID types.NodeID, workflowID types.WorkflowID, status domain.NodeStatus) {
	e.UpdateNodeState(domain.NewStatusUpdate(nodeID, workflowID, status))
}

// UpdateNodeProgress applies a progress report. Sugar over UpdateNodeState.
func (e *Engine) UpdateNodeProgress(nodeID types.NodeID, workflowID types.WorkflowID, data domain.ProgressData) {
	e.UpdateNodeState(domain.NewProgressUpdate(nodeID, workflowID, data))
}

// UpdateNodeError records an error for a node. The node's status becomes
// error regardless of its prior status. Sugar over UpdateNodeState.
func (e *Engine) UpdateNodeError(nodeID types.NodeID, workflowID types.WorkflowID, data domain.ErrorData) {
	e.UpdateNodeState(domain.NewErrorUpdate(nodeID, workflowID, data))
}

// UpdateNodeResult records a result for a node. The node's status becomes
// completed regardless of its prior status. Sugar over UpdateNodeState.
func (e *Engine) UpdateNodeResult(nodeID types.NodeID, workflowID types.WorkflowID, data domain.ResultData) {
	e.UpdateNodeState(domain.NewResultUpdate(nodeID, workflowID, data))
}

// AddNodeLog appends a log entry to a node, creating the node if absent,
// without touching its status. Sugar over UpdateNodeState.
func (e *Engine) AddNodeLog(nodeID types.NodeID, workflowID types.WorkflowID, data domain.LogData) {
	e.UpdateNodeState(domain.NewLogUpdate(nodeID, workflowID, data))
}

// GetNodeState returns a copy of the current state for a node.
func (e *Engine) GetNodeState(nodeID types.NodeID) (*domain.NodeExecutionState, bool) {
	return e.store.GetNodeState(nodeID)
}

// GetNodesByWorkflow returns copies of all node states in a workflow.
func (e *Engine) GetNodesByWorkflow(workflowID types.WorkflowID) []*domain.NodeExecutionState {
	return e.store.GetNodesByWorkflow(workflowID)
}

// GetNodesByStatus returns copies of all node states with the given status.
func (e *Engine) GetNodesByStatus(status domain.NodeStatus) []*domain.NodeExecutionState {
	return e.store.GetNodesByStatus(status)
}

// IsNodeRunning returns true iff the node's status is running.
func (e *Engine) IsNodeRunning(nodeID types.NodeID) bool {
	return e.store.IsNodeRunning(nodeID)
}

// ClearNodeState removes a node from the store.
func (e *Engine) ClearNodeState(nodeID types.NodeID) {
	e.store.ClearNodeState(nodeID)
}

// ClearWorkflowStates removes all nodes belonging to a workflow.
func (e *Engine) ClearWorkflowStates(workflowID types.WorkflowID) {
	e.store.ClearWorkflowStates(workflowID)
}

// ClearAllStates removes every tracked node.
func (e *Engine) ClearAllStates() {
	e.store.ClearAllStates()
}

// TotalUpdates returns the process-wide count of accepted updates.
func (e *Engine) TotalUpdates() int64 {
	return e.store.TotalUpdates()
}

// Subscribe registers a callback for updates to one node. The optional
// filter sees the raw update payload; the callback receives the post-merge
// state.
func (e *Engine) Subscribe(nodeID types.NodeID, callback NodeStateCallback, filter UpdateFilter) types.SubscriptionID {
	return e.registry.Subscribe(nodeID, callback, filter)
}

// SubscribeExpr registers a callback with an expression filter such as
// `type == "progress"`.
func (e *Engine) SubscribeExpr(nodeID types.NodeID, callback NodeStateCallback, filterExpr string) (types.SubscriptionID, error) {
	return e.registry.SubscribeExpr(nodeID, callback, filterExpr)
}

// Unsubscribe removes a subscription; idempotent.
func (e *Engine) Unsubscribe(id types.SubscriptionID) {
	e.registry.Unsubscribe(id)
}

// UnsubscribeAll removes every subscription.
func (e *Engine) UnsubscribeAll() {
	e.registry.UnsubscribeAll()
}

// ProcessOfflineQueue replays buffered updates into the store in FIFO
// order. It runs automatically after a connection opens and may also be
// invoked manually. Returns the number of applied entries.
func (e *Engine) ProcessOfflineQueue() int {
	applied, dropped := e.queue.Process(e.applyUpdate)
	if applied > 0 || dropped > 0 {
		e.logger.Info("processed offline queue", "applied", applied, "dropped", dropped)
	}
	return applied
}

// ClearOfflineQueue discards all buffered updates unconditionally.
func (e *Engine) ClearOfflineQueue() {
	e.queue.Clear()
}

// OfflineQueueLen returns the number of buffered updates.
func (e *Engine) OfflineQueueLen() int {
	return e.queue.Len()
}

// PendingOfflineUpdates counts buffered updates for a (workflow, node)
// pair; empty IDs act as wildcards.
func (e *Engine) PendingOfflineUpdates(workflowID types.WorkflowID, nodeID types.NodeID) int {
	return e.queue.PendingFor(workflowID, nodeID)
}
