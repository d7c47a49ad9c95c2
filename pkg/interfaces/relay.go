package interfaces

import "skillytics/pkg/types"

// EventRelay accepts client events for processing. The transport layer
// depends on this interface rather than the concrete relay so connection
// handling can be tested with a recording stub.
type EventRelay interface {
	// Dispatch queues an event from a connection. Events from one connection
	// are processed in dispatch order. A non-nil error means the event was
	// dropped (queue full or relay stopped); nothing is retried.
	Dispatch(conn Connection, event *types.Event) error

	// Disconnect queues cleanup for a dropped connection, ordered after any
	// events the connection dispatched before it died.
	Disconnect(conn Connection) error
}
