package sync

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// OfflineQueue buffers updates that arrive while the connection is not in
// the connected state, preserving arrival order for replay.
type OfflineQueue struct {
	mu      sync.Mutex
	updates []*domain.OfflineUpdate
	logger  hclog.Logger
}

// NewOfflineQueue creates an empty offline queue.
func NewOfflineQueue(logger hclog.Logger) *OfflineQueue {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OfflineQueue{logger: logger.Named("offline-queue")}
}

// Enqueue appends a payload to the queue and returns the wrapping entry.
func (q *OfflineQueue) Enqueue(payload domain.NodeUpdatePayload) *domain.OfflineUpdate {
	update := domain.NewOfflineUpdate(payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, update)

	q.logger.Debug("buffered offline update",
		"node", payload.NodeID, "workflow", payload.WorkflowID,
		"type", payload.Type, "queued", len(q.updates))
	return update
}

// Process replays the queue in FIFO order through apply. A successful
// application removes the entry. A failed application increments the entry's
// retry count and keeps it queued for a later pass, unless the count has
// reached MaxRetries, in which case the entry is dropped with a log entry
// rather than surfaced as an error. Returns the number of applied and
// dropped entries.
func (q *OfflineQueue) Process(apply func(domain.NodeUpdatePayload) error) (applied, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := make([]*domain.OfflineUpdate, 0, len(q.updates))
	for _, update := range q.updates {
		err := apply(update.Payload)
		if err == nil {
			applied++
			continue
		}

		update.RetryCount++
		if update.RetryCount >= update.MaxRetries {
			dropped++
			q.logger.Warn("dropping offline update after max retries",
				"id", update.ID, "node", update.Payload.NodeID,
				"retries", update.RetryCount, "error", err)
			continue
		}
		remaining = append(remaining, update)
	}
	q.updates = remaining
	return applied, dropped
}

// Clear discards all pending entries unconditionally and returns how many
// were dropped. Used for explicit session resets.
func (q *OfflineQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.updates)
	q.updates = nil
	if n > 0 {
		q.logger.Info("cleared offline queue", "discarded", n)
	}
	return n
}

// Len returns the number of pending entries.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.updates)
}

// PendingFor counts pending entries for a (workflow, node) pair. An empty
// workflow or node ID matches any value, so a UI can count per node, per
// workflow, or both.
func (q *OfflineQueue) PendingFor(workflowID types.WorkflowID, nodeID types.NodeID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, update := range q.updates {
		if workflowID != "" && update.Payload.WorkflowID != workflowID {
			continue
		}
		if nodeID != "" && update.Payload.NodeID != nodeID {
			continue
		}
		count++
	}
	return count
}
