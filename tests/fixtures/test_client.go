package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"skillytics/pkg/types"
)

// TestClient represents a WebSocket client for testing
type TestClient struct {
	Name      string
	ServerURL string

	conn     *websocket.Conn
	messages chan *types.Event
	errors   chan error
	done     chan struct{}

	mu        sync.RWMutex
	closed    bool
	connected bool
}

// NewTestClient creates a new WebSocket test client
func NewTestClient(name, serverURL string) *TestClient {
	return &TestClient{
		Name:      name,
		ServerURL: serverURL,
		messages:  make(chan *types.Event, 100), // Buffer for message collection
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
}

// Connect establishes WebSocket connection to the server
func (tc *TestClient) Connect(ctx context.Context) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.connected {
		return fmt.Errorf("client already connected")
	}

	u, err := url.Parse(tc.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	tc.conn = conn
	tc.connected = true

	go tc.readLoop()

	return nil
}

// readLoop collects incoming events until the connection closes.
func (tc *TestClient) readLoop() {
	defer close(tc.done)

	for {
		var event types.Event
		if err := tc.conn.ReadJSON(&event); err != nil {
			select {
			case tc.errors <- err:
			default:
			}
			return
		}

		select {
		case tc.messages <- &event:
		default:
			// Buffer full; drop the oldest to keep collecting.
			select {
			case <-tc.messages:
			default:
			}
			tc.messages <- &event
		}
	}
}

// Send transmits one event frame to the server.
func (tc *TestClient) Send(event string, payload interface{}) error {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if !tc.connected || tc.closed {
		return fmt.Errorf("client not connected")
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		data = raw
	}

	return tc.conn.WriteJSON(&types.Event{Event: event, Data: data})
}

// SendRaw transmits a raw text frame, including malformed ones.
func (tc *TestClient) SendRaw(frame string) error {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if !tc.connected || tc.closed {
		return fmt.Errorf("client not connected")
	}

	return tc.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Expect waits for the next event with the given name, discarding others.
func (tc *TestClient) Expect(event string, timeout time.Duration) (*types.Event, error) {
	deadline := time.After(timeout)

	for {
		select {
		case msg := <-tc.messages:
			if msg.Event == event {
				return msg, nil
			}
		case err := <-tc.errors:
			return nil, fmt.Errorf("connection error while waiting for %s: %w", event, err)
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for %s", event)
		}
	}
}

// ExpectNone asserts that no event with the given name arrives within the
// window. Other events are discarded.
func (tc *TestClient) ExpectNone(event string, window time.Duration) error {
	deadline := time.After(window)

	for {
		select {
		case msg := <-tc.messages:
			if msg.Event == event {
				return fmt.Errorf("unexpected %s received", event)
			}
		case <-deadline:
			return nil
		}
	}
}

// ExpectPayload waits for an event and decodes its payload into v.
func (tc *TestClient) ExpectPayload(event string, timeout time.Duration, v interface{}) error {
	msg, err := tc.Expect(event, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event, err)
	}
	return nil
}

// Drain discards every buffered event, returning how many were dropped.
// Useful before an assertion that must not match stale broadcasts.
func (tc *TestClient) Drain() int {
	dropped := 0
	for {
		select {
		case <-tc.messages:
			dropped++
		default:
			return dropped
		}
	}
}

// Close shuts down the connection and waits for the read loop to exit.
func (tc *TestClient) Close() error {
	tc.mu.Lock()
	if tc.closed || !tc.connected {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	conn := tc.conn
	tc.mu.Unlock()

	err := conn.Close()

	select {
	case <-tc.done:
	case <-time.After(2 * time.Second):
	}

	return err
}
