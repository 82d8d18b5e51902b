// Package chat holds the ephemeral message buffer: messages live for a fixed
// expiration window after admission and are then removed, with an event
// published for every admission and every removal.
package chat

import (
	"time"

	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/google/uuid"
)

// DefaultExpiration is how long a message stays alive after admission.
const DefaultExpiration = 5 * time.Minute

// Message is an immutable, time-bounded unit of chat content. Author is a
// snapshot of the poster's identity at admission time.
type Message struct {
	ID        uuid.UUID
	Author    identity.Identity
	Body      string
	CreatedAt time.Time
}

// EventKind distinguishes message lifecycle events.
type EventKind int

const (
	// MessageAdded is published when a message is admitted.
	MessageAdded EventKind = iota + 1
	// MessageExpired is published when a message leaves the buffer.
	MessageExpired
)

func (k EventKind) String() string {
	switch k {
	case MessageAdded:
		return "message_added"
	case MessageExpired:
		return "message_expired"
	default:
		return "unknown"
	}
}

// Event is a message lifecycle event. For MessageExpired only ID is set.
type Event struct {
	Kind    EventKind
	Message Message
	ID      uuid.UUID
}

// Added builds a MessageAdded event.
func Added(m Message) Event {
	return Event{Kind: MessageAdded, Message: m, ID: m.ID}
}

// Expired builds a MessageExpired event.
func Expired(id uuid.UUID) Event {
	return Event{Kind: MessageExpired, ID: id}
}

// Publisher receives lifecycle events. Publish must not call back into the
// Store that emitted the event.
type Publisher interface {
	Publish(evt Event)
}
