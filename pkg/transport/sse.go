package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// sseEventBuffer is the event channel capacity. Bursts beyond this apply
// backpressure to the reader goroutine, never drop messages.
const sseEventBuffer = 64

// SSE is a Server-Sent-Events transport. SSE is unidirectional; the backend
// pushes events and the engine only listens, which is all the sync protocol
// needs.
type SSE struct {
	url        string
	headers    map[string]string
	httpClient *http.Client

	mu     sync.Mutex
	resp   *http.Response
	events chan Event
	closed bool
}

// NewSSE creates an SSE transport for the given endpoint. Headers are sent
// on the stream request.
func NewSSE(url string, headers map[string]string) *SSE {
	return &SSE{
		url:     url,
		headers: headers,
		// No client-level timeout: the stream request stays open for the
		// connection lifetime.
		httpClient: &http.Client{},
	}
}

// Connect opens the event stream. It returns after the server accepts the
// stream request; a background reader then feeds Events.
func (t *SSE) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	if t.resp != nil {
		return fmt.Errorf("already connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create SSE request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	t.resp = resp
	t.events = make(chan Event, sseEventBuffer)
	go t.readEvents(resp.Body, t.events)

	return nil
}

// Events returns the event stream.
func (t *SSE) Events() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Close terminates the stream. The reader goroutine observes the closed body
// and emits a final EventClosed.
func (t *SSE) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.resp != nil {
		_ = t.resp.Body.Close()
	}
	return nil
}

// readEvents parses the text/event-stream format: "data:" lines accumulate
// until a blank line terminates the event.
func (t *SSE) readEvents(body io.ReadCloser, events chan<- Event) {
	defer close(events)

	reader := bufio.NewReader(body)
	var eventData strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.mu.Unlock()

			if wasClosed || err == io.EOF {
				events <- Event{Type: EventClosed}
			} else {
				events <- Event{Type: EventClosed, Err: err}
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates the current event.
		if line == "" {
			if eventData.Len() > 0 {
				events <- Event{Type: EventMessage, Data: []byte(eventData.String())}
				eventData.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if eventData.Len() > 0 {
				eventData.WriteString("\n")
			}
			eventData.WriteString(data)
		}
		// Other SSE fields (event, id, retry, comments) are ignored.
	}
}
