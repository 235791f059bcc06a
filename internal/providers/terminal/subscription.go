package terminal

import (
	"sync/atomic"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
)

// EventKind tags a subscriber event.
type EventKind int

const (
	// EventOutput carries bytes read from the terminal.
	EventOutput EventKind = iota
	// EventResize reports new dimensions.
	EventResize
	// EventStatus reports the final status; it is always the last event.
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventResize:
		return "resize"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers in pump order. Data must not be
// modified; it is shared between subscribers.
type Event struct {
	Kind     EventKind
	Data     []byte
	Cols     uint16
	Rows     uint16
	Status   session.Status
	ExitCode *int
}

type sink struct {
	id      string
	ch      chan Event
	dropped atomic.Bool
}

// Subscription is a live feed of one session.
type Subscription struct {
	// ID identifies the subscription for Unsubscribe.
	ID string
	// SessionID is the session being watched.
	SessionID string
	// Snapshot is the transcript at the moment of subscribing.
	Snapshot []byte
	// Truncated reports whether the snapshot lost its oldest bytes.
	Truncated bool

	sink *sink
}

// Events is closed after the final status event, on Unsubscribe, or when
// the subscriber falls too far behind.
func (s *Subscription) Events() <-chan Event {
	return s.sink.ch
}

// Dropped reports whether the feed was cut because its queue filled up.
func (s *Subscription) Dropped() bool {
	return s.sink.dropped.Load()
}
