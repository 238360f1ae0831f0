package session

import "errors"

var (
	// ErrTransportUnavailable is returned when the channel cannot be created
	// or is not ready for a send.
	ErrTransportUnavailable = errors.New("session: transport unavailable")
	// ErrConnectionFailed is returned when a client handshake does not complete.
	ErrConnectionFailed = errors.New("session: connection failed")
	// ErrDuplicateOperation is returned when starting a session that is
	// already running. The call is a no-op.
	ErrDuplicateOperation = errors.New("session: already running")
	// ErrNotRunning is returned by operations that need an active session.
	ErrNotRunning = errors.New("session: not running")
)
