package websocket

import (
	"log"
	"sync"

	"skillytics/pkg/interfaces"
)

// Registry tracks live connections and their channel subscriptions with
// thread-safe operations. Pure bookkeeping: it never decides who receives
// what, that is the relay's job.
//
// Three delivery scopes back the relay's channel model: the global scope
// (every connection), per-user channels keyed by userID, and per-mission
// channels keyed by missionID. A connection can sit in at most one user
// channel but in several mission channels, because clients stay subscribed
// to a mission's code relay after completing it.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connID -> connection
	userConns   map[string]map[string]interfaces.Connection // userID -> connID -> connection
	missionConn map[string]map[string]interfaces.Connection // missionID -> connID -> connection
	userSub     map[string]string                           // connID -> subscribed userID
	missionSub  map[string]map[string]bool                  // connID -> set of missionIDs
}

// NewRegistry creates an empty registry with all maps initialized.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		userConns:   make(map[string]map[string]interfaces.Connection),
		missionConn: make(map[string]map[string]interfaces.Connection),
		userSub:     make(map[string]string),
		missionSub:  make(map[string]map[string]bool),
	}
}

// Add registers a connection for global delivery. Adding the same connection
// twice is a no-op.
func (r *Registry) Add(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.connections[conn.ID()]; exists && existing != conn {
		// Connection IDs are UUIDs, a collision means a programming error.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close displaced connection: %v", err)
			}
		}()
	}

	r.connections[conn.ID()] = conn
	return nil
}

// Remove deletes a connection from the global map and every channel it
// subscribed to, cleaning up channel maps that become empty. Idempotent.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connID)

	if userID, ok := r.userSub[connID]; ok {
		if conns, exists := r.userConns[userID]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.userConns, userID)
			}
		}
		delete(r.userSub, connID)
	}

	if missions, ok := r.missionSub[connID]; ok {
		for missionID := range missions {
			if conns, exists := r.missionConn[missionID]; exists {
				delete(conns, connID)
				if len(conns) == 0 {
					delete(r.missionConn, missionID)
				}
			}
		}
		delete(r.missionSub, connID)
	}
}

// Get returns the connection for connID with O(1) lookup.
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	return conn, exists
}

// All returns every live connection, the global broadcast scope.
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// SubscribeUser places a connection on a per-user channel. A connection
// re-joining as a different user moves channels.
func (r *Registry) SubscribeUser(userID string, conn interfaces.Connection) {
	if conn == nil || userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()

	if prev, ok := r.userSub[connID]; ok && prev != userID {
		if conns, exists := r.userConns[prev]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.userConns, prev)
			}
		}
	}

	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[string]interfaces.Connection)
	}
	r.userConns[userID][connID] = conn
	r.userSub[connID] = userID
}

// UserChannel returns the connections subscribed to a user's channel.
func (r *Registry) UserChannel(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.userConns[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// SubscribeMission places a connection on a mission's channel. Subscribing
// twice is a no-op; subscriptions persist until the connection is removed.
func (r *Registry) SubscribeMission(missionID string, conn interfaces.Connection) {
	if conn == nil || missionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()

	if r.missionConn[missionID] == nil {
		r.missionConn[missionID] = make(map[string]interfaces.Connection)
	}
	r.missionConn[missionID][connID] = conn

	if r.missionSub[connID] == nil {
		r.missionSub[connID] = make(map[string]bool)
	}
	r.missionSub[connID][missionID] = true
}

// MissionChannel returns the connections subscribed to a mission's channel.
func (r *Registry) MissionChannel(missionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.missionConn[missionID] {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registry counters for the health endpoint and the shutdown
// drain loop.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"user_channels":     len(r.userConns),
		"mission_channels":  len(r.missionConn),
	}
}

// CloseAll force-closes every connection. Called when the shutdown drain
// deadline lapses with connections still open.
func (r *Registry) CloseAll() {
	for _, conn := range r.All() {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.ID(), err)
		}
	}
}
