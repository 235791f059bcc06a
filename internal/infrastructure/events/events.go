// Package events publishes session and command lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind. Published subjects are "<prefix>.<type>".
type Type string

const (
	SessionStarted   Type = "session.started"
	SessionResized   Type = "session.resized"
	SessionEnded     Type = "session.ended"
	CommandExecuted  Type = "command.executed"
	PermissionDenied Type = "permission.denied"
)

// Event is one message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// New creates an event with a UUID and the current time.
func New(typ Type, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher delivers events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
