package sync

import (
	"time"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
)

// Stable issue strings reported by GetConnectionHealth. Consumers match on
// these for diagnostics.
const (
	// IssueNotConnected reports that the transport is not in the connected
	// state.
	IssueNotConnected = "connection is not established"
	// IssueReconnectPending reports in-progress reconnection attempts.
	IssueReconnectPending = "reconnect attempts in progress"
	// IssueOfflineBacklog reports buffered updates awaiting replay.
	IssueOfflineBacklog = "offline queue has pending updates"
	// IssueHeartbeatTimeout reports that no heartbeat arrived within twice
	// the configured heartbeat interval.
	IssueHeartbeatTimeout = "heartbeat timeout exceeded"
)

// ConnectionHealth is an advisory snapshot of the engine's connection. It
// never mutates state and never forces a reconnect.
type ConnectionHealth struct {
	IsHealthy         bool
	Issues            []string
	State             domain.ConnectionState
	ReconnectAttempts int
	QueuedUpdates     int
	LastHeartbeat     time.Time
	TotalUpdates      int64
}

// GetConnectionHealth evaluates the health conditions against the current
// snapshot. Each triggered condition appends its distinct issue string.
func (e *Engine) GetConnectionHealth() ConnectionHealth {
	e.connMu.Lock()
	state := e.connState
	attempts := e.reconnectAttempts
	lastHeartbeat := e.lastHeartbeat
	var heartbeatInterval time.Duration
	if e.cfg != nil {
		heartbeatInterval = e.cfg.HeartbeatInterval
	}
	e.connMu.Unlock()

	health := ConnectionHealth{
		State:             state,
		ReconnectAttempts: attempts,
		QueuedUpdates:     e.queue.Len(),
		LastHeartbeat:     lastHeartbeat,
		TotalUpdates:      e.store.TotalUpdates(),
	}

	if state != domain.StateConnected {
		health.Issues = append(health.Issues, IssueNotConnected)
	}
	if attempts > 0 {
		health.Issues = append(health.Issues, IssueReconnectPending)
	}
	if health.QueuedUpdates > 0 {
		health.Issues = append(health.Issues, IssueOfflineBacklog)
	}
	if heartbeatInterval > 0 && !lastHeartbeat.IsZero() &&
		time.Since(lastHeartbeat) > 2*heartbeatInterval {
		health.Issues = append(health.Issues, IssueHeartbeatTimeout)
	}

	health.IsHealthy = len(health.Issues) == 0
	return health
}
