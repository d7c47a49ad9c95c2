package types

import "errors"

// Validation errors. These never travel back to clients (the protocol has no
// error envelope); they surface in server logs only.
var (
	ErrInvalidEvent     = errors.New("invalid event name")
	ErrInvalidUserID    = errors.New("invalid user ID format")
	ErrInvalidMissionID = errors.New("invalid mission ID format")
	ErrEmptyEnvelope    = errors.New("event envelope has no event name")
)
