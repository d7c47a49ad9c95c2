package interfaces

import "errors"

// Contract errors. Implementations return these identities so consumers can
// check with errors.Is against this package alone.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrRelayUnavailable = errors.New("relay unavailable")
)
