package pmbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for messaging events.
const (
	EventNameMessageSent    = "pmbox.message.sent"
	EventNameMessageRead    = "pmbox.message.read"
	EventNameMessageDeleted = "pmbox.message.deleted"
	EventNameTrashEmptied   = "pmbox.trash.emptied"
)

// MessageSentEvent is published when a draft is sent.
// One event covers the whole fan-out; MessageIDs holds the per-recipient
// row IDs in recipient order.
type MessageSentEvent struct {
	MessageIDs   []string  `json:"message_ids"`
	SenderID     string    `json:"sender_id"`
	RecipientIDs []string  `json:"recipient_ids"`
	Subject      string    `json:"subject"`
	SentAt       time.Time `json:"sent_at"`
}

// MessageReadEvent is published when a message's read state changes.
// Read reports the new state, so a single event type covers both
// directions of the toggle.
type MessageReadEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Read      bool      `json:"read"`
	At        time.Time `json:"at"`
}

// MessageDeletedEvent is published when a message is deleted.
// Hard distinguishes permanent removal from a soft delete that only
// hides the message for one party.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Hard      bool      `json:"hard"`
	DeletedAt time.Time `json:"deleted_at"`
}

// TrashEmptiedEvent is published when a user empties their trash.
type TrashEmptiedEvent struct {
	UserID    string    `json:"user_id"`
	EmptiedAt time.Time `json:"emptied_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
//	svc.Events().MessageRead.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageSent is published when a draft is sent.
	MessageSent event.Event[MessageSentEvent]

	// MessageRead is published when a message's read state changes.
	MessageRead event.Event[MessageReadEvent]

	// MessageDeleted is published when a message is deleted.
	MessageDeleted event.Event[MessageDeletedEvent]

	// TrashEmptied is published when a user empties their trash.
	TrashEmptied event.Event[TrashEmptiedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:    event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageRead:    event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		MessageDeleted: event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
		TrashEmptied:   event.New[TrashEmptiedEvent](namePrefix + "." + EventNameTrashEmptied),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.TrashEmptied); err != nil {
		return fmt.Errorf("register TrashEmptied: %w", err)
	}
	return nil
}
