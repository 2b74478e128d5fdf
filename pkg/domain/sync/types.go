// Package sync defines the domain model for the node-execution sync engine:
// node execution states, update payloads, and connection lifecycle types.
package sync

// NodeStatus represents the current state of a node execution as reported by
// the execution backend.
type NodeStatus string

const (
	// NodeStatusPending indicates the node is waiting to be executed.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusRunning indicates the node is currently executing.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusCompleted indicates the node finished successfully.
	NodeStatusCompleted NodeStatus = "completed"
	// NodeStatusError indicates the node encountered an error.
	NodeStatusError NodeStatus = "error"
	// NodeStatusPaused indicates the node execution is paused.
	NodeStatusPaused NodeStatus = "paused"
)

// IsTerminal returns true if the status represents a finished node.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusError
}

// Valid returns true if the status is one of the recognized values.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusRunning, NodeStatusCompleted, NodeStatusError, NodeStatusPaused:
		return true
	}
	return false
}

// ConnectionState represents the transport-level connection lifecycle.
// It describes reachability of the execution backend, not application health.
type ConnectionState string

const (
	// StateDisconnected is the initial state and the state after a manual disconnect.
	StateDisconnected ConnectionState = "disconnected"
	// StateConnecting indicates a connection attempt is in flight.
	StateConnecting ConnectionState = "connecting"
	// StateConnected indicates the transport is open and messages flow.
	StateConnected ConnectionState = "connected"
	// StateReconnecting indicates the connection dropped and a retry is scheduled.
	StateReconnecting ConnectionState = "reconnecting"
	// StateError indicates reconnection attempts are exhausted; only an
	// explicit Connect call leaves this state.
	StateError ConnectionState = "error"
)

// LogLevel categorizes a node log entry.
type LogLevel string

const (
	// LogLevelDebug is for diagnostic output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is for informational output.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is for warnings.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is for errors.
	LogLevelError LogLevel = "error"
)
