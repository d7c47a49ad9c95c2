package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"skillytics/pkg/interfaces"
	"skillytics/pkg/types"
)

// maxFrameBytes bounds inbound frames. Violations close the connection at
// the transport level, matching the behavior clients already get from the
// platform's other services.
const maxFrameBytes = 1 << 20

// The relay fronts a browser app served from a different origin, so the
// upgrader accepts all origins. Deployments that need stricter checking put
// a reverse proxy in front.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to WebSocket connections and pumps decoded
// events into the relay. No identity is required to connect; connections
// start anonymous and identify themselves with user:join.
type Handler struct {
	registry     *Registry
	relay        interfaces.EventRelay
	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler creates a WebSocket handler. pingInterval and readTimeout come
// from the WebSocket config section; readTimeout must exceed pingInterval or
// healthy connections get reaped between pings.
func NewHandler(registry *Registry, relay interfaces.EventRelay, pingInterval, readTimeout time.Duration) *Handler {
	return &Handler{
		registry:     registry,
		relay:        relay,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// HandleWebSocket accepts a client connection. The connection is registered
// for global delivery immediately so aggregate broadcasts reach it even
// before it identifies itself.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)

	if err := h.registry.Add(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	log.Printf("Client connected: %s", wsConn.ID())

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat for one connection. The
// deferred Disconnect flows through the relay's event pipeline, so cleanup
// is ordered after the connection's final events.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.relay.Disconnect(conn); err != nil {
			// Relay is shutting down; reclaim transport resources directly.
			log.Printf("Disconnect dispatch failed for %s: %v", conn.ID(), err)
			h.registry.Remove(conn.ID())
		}
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxFrameBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.ID(), err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil {
			// Malformed frames are tolerated silently toward the client.
			log.Printf("Dropping malformed frame from %s: %v", conn.ID(), err)
			continue
		}

		if err := event.Validate(); err != nil {
			log.Printf("Dropping event %q from %s: %v", event.Event, conn.ID(), err)
			continue
		}

		// disconnect is reserved for the transport layer.
		if event.Event == types.EventDisconnect {
			log.Printf("Dropping client-sent disconnect from %s", conn.ID())
			continue
		}

		if err := h.relay.Dispatch(conn, &event); err != nil {
			// Fire-and-forget protocol: dropped events are not retried.
			log.Printf("Dropped event %q from %s: %v", event.Event, conn.ID(), err)
		}
	}
}
