package relay

import (
	"errors"

	"skillytics/pkg/interfaces"
)

// ErrRelayNotRunning is the interface contract error: transport code checks
// it through pkg/interfaces without importing this package.
var (
	ErrRelayAlreadyRunning = errors.New("relay is already running")
	ErrRelayNotRunning     = interfaces.ErrRelayUnavailable
	ErrEventChannelFull    = errors.New("event channel is full")
	ErrNilEvent            = errors.New("event and connection must not be nil")
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
)
