package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsEventBuffer is the event channel capacity for the WebSocket transport.
const wsEventBuffer = 64

// handshakeTimeout bounds the WebSocket upgrade, not the stream lifetime.
const handshakeTimeout = 10 * time.Second

// WebSocket is a WebSocket transport. Only the server-to-client direction is
// used; the sync protocol has no client-originated messages.
type WebSocket struct {
	url     string
	headers map[string]string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	closed bool
}

// NewWebSocket creates a WebSocket transport for the given endpoint.
func NewWebSocket(url string, headers map[string]string) *WebSocket {
	return &WebSocket{
		url:     url,
		headers: headers,
	}
}

// Connect dials the backend. It returns after the upgrade completes; a
// background reader then feeds Events.
func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	if t.conn != nil {
		return fmt.Errorf("already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	for key, value := range t.headers {
		header.Set(key, value)
	}

	conn, resp, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	t.conn = conn
	t.events = make(chan Event, wsEventBuffer)
	go t.readMessages(conn, t.events)

	return nil
}

// Events returns the event stream.
func (t *WebSocket) Events() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Close sends a close frame and tears down the connection. The reader
// goroutine observes the closed connection and emits a final EventClosed.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn != nil {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = t.conn.Close()
	}
	return nil
}

func (t *WebSocket) readMessages(conn *websocket.Conn, events chan<- Event) {
	defer close(events)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.mu.Unlock()

			if wasClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				events <- Event{Type: EventClosed}
			} else {
				events <- Event{Type: EventClosed, Err: err}
			}
			return
		}

		// Binary frames are not part of the protocol; pass them through as
		// messages and let the dispatcher reject what it cannot parse.
		_ = messageType
		events <- Event{Type: EventMessage, Data: data}
	}
}
