package sync

import (
	"context"
	"sync"
	"time"

	"github.com/flowdesk/nodesync/pkg/config"
	"github.com/flowdesk/nodesync/pkg/transport"
)

// fakeTransport is an in-process transport for connection manager tests. The
// test script drives it: send pushes a message, drop ends the stream with an
// error as if the backend went away.
type fakeTransport struct {
	connectErr error

	mu     sync.Mutex
	events chan transport.Event
	closed bool
}

func newFakeTransport(connectErr error) *fakeTransport {
	return &fakeTransport{
		connectErr: connectErr,
		events:     make(chan transport.Event, 64),
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	return t.connectErr
}

func (t *fakeTransport) Events() <-chan transport.Event {
	return t.events
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

// send delivers one message to the engine.
func (t *fakeTransport) send(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.events <- transport.Event{Type: transport.EventMessage, Data: data}
	}
}

// drop simulates the backend dropping the connection.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.events <- transport.Event{Type: transport.EventClosed, Err: err}
		close(t.events)
	}
}

// fakeFactory builds fakeTransports and remembers every instance so tests can
// count connection attempts and script the active transport.
type fakeFactory struct {
	connectErr error

	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) new(cfg *config.ConnectionConfig) transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newFakeTransport(f.connectErr)
	f.transports = append(f.transports, t)
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// testConfig returns a connection config with short reconnect timing so
// lifecycle tests run fast.
func testConfig() *config.ConnectionConfig {
	return &config.ConnectionConfig{
		EventSourceURL:       "http://backend.local/events",
		ReconnectInterval:    2 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    time.Minute,
	}
}

// newTestEngine builds an engine wired to a fresh fake factory.
func newTestEngine() (*Engine, *fakeFactory) {
	factory := &fakeFactory{}
	engine := NewEngineWithOptions(Options{TransportFactory: factory.new})
	return engine, factory
}
