package websocket

import (
	"errors"

	"skillytics/pkg/interfaces"
)

// Connection-related errors. ErrConnectionClosed is the interface contract
// error so callers can test with errors.Is against pkg/interfaces alone.
var (
	ErrConnectionClosed = interfaces.ErrConnectionClosed
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)
