// Package testutil provides an in-process execution backend for transport
// and engine tests: an httptest server that streams scripted events over
// SSE and WebSocket.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Backend is a scripted execution backend. Events broadcast with Broadcast
// reach every connected SSE and WebSocket client in order.
type Backend struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewBackend starts a backend serving SSE on /events and WebSocket on /ws.
func NewBackend() *Backend {
	b := &Backend{
		clients: make(map[chan []byte]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", b.handleSSE)
	mux.HandleFunc("/ws", b.handleWS)
	b.server = httptest.NewServer(mux)
	return b
}

// SSEURL returns the SSE endpoint URL.
func (b *Backend) SSEURL() string {
	return b.server.URL + "/events"
}

// WSURL returns the WebSocket endpoint URL.
func (b *Backend) WSURL() string {
	return strings.Replace(b.server.URL, "http://", "ws://", 1) + "/ws"
}

// Broadcast sends one JSON-encoded message to every connected client.
func (b *Backend) Broadcast(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
			// A client that stopped reading must not stall the broadcaster
			// or other clients; it just misses the message.
		}
	}
	return nil
}

// BroadcastHeartbeat sends a heartbeat message.
func (b *Backend) BroadcastHeartbeat() error {
	return b.Broadcast(map[string]interface{}{
		"type":      "heartbeat",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// BroadcastNodeEvent sends a workflow event.
func (b *Backend) BroadcastNodeEvent(eventType, workflowID, nodeID string, data map[string]interface{}) error {
	return b.Broadcast(map[string]interface{}{
		"type":       eventType,
		"workflowId": workflowID,
		"nodeId":     nodeID,
		"timestamp":  time.Now().Format(time.RFC3339),
		"data":       data,
	})
}

// ClientCount returns the number of connected clients.
func (b *Backend) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// DropClients disconnects every connected client, simulating a backend
// restart. The server keeps accepting new connections.
func (b *Backend) DropClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

// Close shuts the backend down.
func (b *Backend) Close() {
	b.DropClients()
	b.server.Close()
}

func (b *Backend) register() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Backend) unregister(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		close(ch)
		delete(b.clients, ch)
	}
	b.mu.Unlock()
}

func (b *Backend) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Register before the handshake completes so a broadcast immediately
	// after the client's Connect cannot slip past this client.
	ch := b.register()
	defer b.unregister(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := b.register()
	defer b.unregister(ch)

	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second),
	)
}
