package terminal

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidState is returned for operations on sessions that are not
	// running.
	ErrInvalidState = errors.New("session is not running")
	// ErrInvalidSize is returned for zero terminal dimensions.
	ErrInvalidSize = errors.New("terminal size must be non-zero")
	// ErrManagerClosed is returned by Create after Close.
	ErrManagerClosed = errors.New("terminal manager is closed")
)
