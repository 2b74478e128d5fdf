// Package transport provides the wire transports the sync engine reads
// execution events from: Server-Sent Events and WebSocket.
package transport

import (
	"context"

	"github.com/flowdesk/nodesync/pkg/config"
)

// EventType classifies a transport event.
type EventType int

const (
	// EventMessage carries one complete message payload from the backend.
	EventMessage EventType = iota
	// EventError reports a non-fatal read error; the stream may still close
	// afterwards with EventClosed.
	EventError
	// EventClosed reports that the stream ended. It is always the final
	// event before the channel closes.
	EventClosed
)

// Event is one occurrence on the transport stream.
type Event struct {
	Type EventType
	// Data is the raw message payload for EventMessage.
	Data []byte
	// Err is set for EventError and for EventClosed when the stream ended
	// abnormally.
	Err error
}

// Transport is a unidirectional message stream from the execution backend.
// Implementations deliver events in arrival order and close the Events
// channel after emitting a final EventClosed.
type Transport interface {
	// Connect establishes the connection. It returns once the transport is
	// open or the attempt failed; it does not block for the stream lifetime.
	Connect(ctx context.Context) error
	// Events returns the event stream. Valid only after a successful
	// Connect.
	Events() <-chan Event
	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Factory builds a transport for a connection attempt. The engine uses New
// in production; tests substitute their own factory.
type Factory func(cfg *config.ConnectionConfig) Transport

// New selects the transport named by the config: WebSocket when
// UseWebSocket is set, SSE otherwise.
func New(cfg *config.ConnectionConfig) Transport {
	if cfg.UseWebSocket {
		return NewWebSocket(cfg.WSURL, cfg.Headers)
	}
	return NewSSE(cfg.EventSourceURL, cfg.Headers)
}
