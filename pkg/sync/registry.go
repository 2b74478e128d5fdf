package sync

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/hashicorp/go-hclog"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// dispatchBuffer is the dispatch bus capacity. A full bus applies
// backpressure to publishers rather than dropping deliveries.
const dispatchBuffer = 1024

// NodeStateCallback receives the post-merge node state after an accepted
// update. The state is a snapshot shared across subscribers of the same
// update; callbacks must not mutate it.
type NodeStateCallback func(state *domain.NodeExecutionState)

// UpdateFilter decides whether a subscriber wants a particular update. It
// receives the raw update payload, not the merged state.
type UpdateFilter func(update domain.NodeUpdatePayload) bool

// subscription is one registered listener for a node's updates.
type subscription struct {
	id       types.SubscriptionID
	nodeID   types.NodeID
	callback NodeStateCallback
	filter   UpdateFilter // nil matches every update
}

// dispatchJob pairs an accepted update with the state snapshot taken at
// apply time, so deliveries observe the state the update produced even if
// later updates have already been applied.
type dispatchJob struct {
	payload domain.NodeUpdatePayload
	state   *domain.NodeExecutionState
}

// Registry is the pub/sub fan-out for node state updates. Delivery is
// decoupled from the applying call stack: Publish places jobs on an internal
// bus that a single dispatch goroutine drains in FIFO order, so a slow or
// panicking callback never blocks the store.
type Registry struct {
	mu     sync.RWMutex
	byID   map[types.SubscriptionID]*subscription
	byNode map[types.NodeID][]*subscription // insertion order per node
	closed bool

	jobs chan dispatchJob
	// closing releases publishers blocked on a full bus; publishers tracks
	// in-flight sends so Close can safely close the bus behind them.
	closing    chan struct{}
	publishers sync.WaitGroup
	done       chan struct{}

	logger hclog.Logger
}

// NewRegistry creates a registry and starts its dispatch goroutine.
func NewRegistry(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Registry{
		byID:    make(map[types.SubscriptionID]*subscription),
		byNode:  make(map[types.NodeID][]*subscription),
		jobs:    make(chan dispatchJob, dispatchBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.Named("registry"),
	}
	go r.run()
	return r
}

// Subscribe registers a callback for updates to one node. The returned ID is
// globally unique and never reused. A nil filter matches every update.
func (r *Registry) Subscribe(nodeID types.NodeID, callback NodeStateCallback, filter UpdateFilter) types.SubscriptionID {
	sub := &subscription{
		id:       types.NewSubscriptionID(),
		nodeID:   nodeID,
		callback: callback,
		filter:   filter,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		// Late subscribers on a closed registry get an ID that will simply
		// never fire.
		return sub.id
	}
	r.byID[sub.id] = sub
	r.byNode[nodeID] = append(r.byNode[nodeID], sub)
	return sub.id
}

// SubscribeExpr registers a callback whose filter is an expression over the
// update payload, e.g. `type == "progress"`. The expression environment
// exposes `type`, `nodeId`, and `workflowId` as strings. An expression that
// fails to compile is rejected; one that errors at runtime matches nothing.
func (r *Registry) SubscribeExpr(nodeID types.NodeID, callback NodeStateCallback, filterExpr string) (types.SubscriptionID, error) {
	program, err := compileFilter(filterExpr)
	if err != nil {
		return "", fmt.Errorf("invalid filter expression: %w", err)
	}

	logger := r.logger
	filter := func(update domain.NodeUpdatePayload) bool {
		out, err := vm.Run(program, filterEnv(update))
		if err != nil {
			logger.Warn("filter expression failed, skipping delivery",
				"expression", filterExpr, "error", err)
			return false
		}
		matched, ok := out.(bool)
		return ok && matched
	}
	return r.Subscribe(nodeID, callback, filter), nil
}

// compileFilter compiles a filter expression against the payload
// environment, requiring a boolean result.
func compileFilter(filterExpr string) (*vm.Program, error) {
	return expr.Compile(filterExpr,
		expr.Env(filterEnv(domain.NodeUpdatePayload{})),
		expr.AsBool(),
	)
}

// filterEnv builds the expression environment for one payload.
func filterEnv(update domain.NodeUpdatePayload) map[string]interface{} {
	return map[string]interface{}{
		"type":       string(update.Type),
		"nodeId":     string(update.NodeID),
		"workflowId": string(update.WorkflowID),
	}
}

// Unsubscribe removes a subscription. It takes effect for all future
// dispatches and is an idempotent no-op for unknown or already-removed IDs.
func (r *Registry) Unsubscribe(id types.SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	subs := r.byNode[sub.nodeID]
	for i, candidate := range subs {
		if candidate.id == id {
			r.byNode[sub.nodeID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.byNode[sub.nodeID]) == 0 {
		delete(r.byNode, sub.nodeID)
	}
}

// UnsubscribeAll removes every subscription.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[types.SubscriptionID]*subscription)
	r.byNode = make(map[types.NodeID][]*subscription)
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Publish places an accepted update on the dispatch bus. The update is
// considered successfully applied regardless of what its subscribers do.
//
// The send happens outside the registry lock: a publisher blocked on a full
// bus must not hold the lock, or the dispatch goroutine (which takes the read
// lock per delivery) and every Subscribe/Unsubscribe would wedge behind it.
// The in-flight count taken under the lock is what lets Close close the bus
// without racing a send.
func (r *Registry) Publish(payload domain.NodeUpdatePayload, state *domain.NodeExecutionState) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.publishers.Add(1)
	r.mu.RUnlock()
	defer r.publishers.Done()

	select {
	case r.jobs <- dispatchJob{payload: payload, state: state}:
	case <-r.closing:
		// Closing raced the send; the update was applied, delivery is shed.
	}
}

// run drains the dispatch bus in FIFO order.
func (r *Registry) run() {
	defer close(r.done)
	for job := range r.jobs {
		r.deliver(job)
	}
}

// deliver invokes every matching subscription for one update. The matching
// set is read at delivery time, so unsubscribing silences a callback even
// for jobs already on the bus.
func (r *Registry) deliver(job dispatchJob) {
	r.mu.RLock()
	subs := append([]*subscription(nil), r.byNode[job.payload.NodeID]...)
	r.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(job.payload) {
			continue
		}
		r.invoke(sub, job.state)
	}
}

// invoke runs one callback, isolating panics so a failing subscriber cannot
// prevent delivery to the rest.
func (r *Registry) invoke(sub *subscription, state *domain.NodeExecutionState) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber callback panicked",
				"subscription", sub.id, "node", sub.nodeID, "panic", rec)
		}
	}()
	sub.callback(state)
}

// Close stops the dispatch goroutine after draining queued jobs. Publish
// becomes a no-op once closing begins; publishers blocked on a full bus are
// released without their job.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.closing)
	r.publishers.Wait()
	close(r.jobs)
	<-r.done
}
