package interfaces

// Connection represents one live client transport session. It is the unit
// of identity for every in-memory binding the relay keeps.
type Connection interface {
	// ID returns the server-generated connection identifier. Stable for the
	// life of the connection, never reused.
	ID() string

	// WriteJSON sends a JSON message to the client. Safe for concurrent use;
	// implementations must serialize writes.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources. Idempotent.
	Close() error

	// SetUser binds a user identity to the connection after user:join.
	SetUser(userID string)

	// GetUserID returns the bound user ID, or "" before user:join.
	GetUserID() string

	// IsIdentified reports whether the connection has completed user:join.
	IsIdentified() bool
}
