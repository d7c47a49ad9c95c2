package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla WebSocket connection with a server-generated
// identifier and a single writer goroutine. All deliveries go through the
// write channel; gorilla connections do not allow concurrent writes.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	userID    string // set after user:join
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex // protects userID
}

// NewConnection wraps conn and starts its writer goroutine. The connection
// ID is a fresh UUID; it is the key for every relay-side binding.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer. It exits on context cancellation or the
// first write failure. writeCh is never closed: the exit path cancels the
// connection context instead, so concurrent WriteJSON calls fail with
// ErrConnectionClosed rather than sending on a closed channel. Messages
// still queued at exit are abandoned.
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it on the write channel. Returns
// ErrConnectionClosed after Close, ErrWriteTimeout when the channel stays
// full for 5 seconds.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close cancels the writer goroutine and closes the underlying socket.
// Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// ID returns the server-generated connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// SetUser records the user identity bound by user:join.
func (c *Connection) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) IsIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID != ""
}
