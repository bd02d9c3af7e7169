package store

import (
	"time"
)

// Party identifies which side of a message a flag operation applies to.
// Every sent message has exactly one sender and one recipient; the star and
// delete flags exist independently for each.
type Party int

const (
	// PartySender addresses the sender-side flags.
	PartySender Party = iota
	// PartyRecipient addresses the recipient-side flags.
	PartyRecipient
)

// String returns the party name for logging.
func (p Party) String() string {
	if p == PartySender {
		return "sender"
	}
	return "recipient"
}

// PartyOf returns the party that userID plays on the message.
// The sender takes precedence when a user messages themselves.
func PartyOf(msg Message, userID string) (Party, bool) {
	switch userID {
	case msg.GetSenderID():
		return PartySender, true
	case msg.GetRecipientID():
		return PartyRecipient, true
	default:
		return PartySender, false
	}
}

// Attachment is the interface for attachment data.
type Attachment interface {
	GetID() string
	GetFilename() string
	GetContentType() string
	GetSize() int64
	GetURI() string
	GetCreatedAt() time.Time
}

// Message is a read-only view of a sent message.
// Content (sender, recipient, subject, body, attachments) is immutable after
// send; the per-party flags change via specific Store operations like
// MarkRead, ToggleStar, and MarkDeleted.
//
// A multi-recipient send never shares a row: fan-out at send time produces
// one independent Message per recipient, each carrying its own flags.
type Message interface {
	GetID() string
	GetSenderID() string
	GetRecipientID() string
	GetSubject() string
	GetBody() string
	GetAttachments() []Attachment

	// Lifecycle markers. A nil marker means "not set": nil DraftedAt means
	// not a draft, nil SentAt means not yet sent, nil ReadAt means unread.
	GetDraftedAt() *time.Time
	GetSentAt() *time.Time
	GetReadAt() *time.Time

	// Per-party flags.
	GetSenderStarred() bool
	GetRecipientStarred() bool
	GetSenderDeletedAt() *time.Time
	GetRecipientDeletedAt() *time.Time

	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

// IsDraft reports whether the message is a draft: draft marker set AND sent
// marker unset. Both conditions matter - a sent row never has its draft
// marker, and a draft never has a sent marker.
func IsDraft(msg Message) bool {
	return msg.GetDraftedAt() != nil && msg.GetSentAt() == nil
}

// IsRead reports whether the message has been read. Drafts are implicitly
// read: their composer has, by definition, seen them.
func IsRead(msg Message) bool {
	return msg.GetReadAt() != nil || IsDraft(msg)
}

// IsStarred reports whether either party has starred the message.
// Starred messages are exempt from physical destruction.
func IsStarred(msg Message) bool {
	return msg.GetSenderStarred() || msg.GetRecipientStarred()
}

// IsStarredBy reports whether the given party has starred the message.
func IsStarredBy(msg Message, p Party) bool {
	if p == PartySender {
		return msg.GetSenderStarred()
	}
	return msg.GetRecipientStarred()
}

// IsDeletedBy reports whether the given party has soft-deleted the message.
func IsDeletedBy(msg Message, p Party) bool {
	if p == PartySender {
		return msg.GetSenderDeletedAt() != nil
	}
	return msg.GetRecipientDeletedAt() != nil
}

// DeletedByBoth reports whether both parties have soft-deleted the message.
// Together with IsStarred this decides hard-delete eligibility.
func DeletedByBoth(msg Message) bool {
	return msg.GetSenderDeletedAt() != nil && msg.GetRecipientDeletedAt() != nil
}

// DraftMessage is a mutable message being composed.
// Drafts can only be created via Store.NewDraft() and are always owned by a
// single user. Unlike a sent Message, a draft holds the full candidate
// recipient set; the set collapses to one recipient per row at send time.
type DraftMessage interface {
	// Read operations
	GetID() string
	GetOwnerID() string
	GetSubject() string
	GetBody() string
	GetRecipientIDs() []string
	GetAttachments() []Attachment
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time

	// Write operations (fluent API)
	SetSubject(subject string) DraftMessage
	SetBody(body string) DraftMessage
	SetRecipients(recipientIDs ...string) DraftMessage
	AddAttachment(attachment Attachment) DraftMessage
}

// MessageData contains data for creating a new sent message.
// Used internally during send fan-out to create one row per recipient.
type MessageData struct {
	SenderID    string
	RecipientID string
	Subject     string
	Body        string
	Attachments []Attachment
	SentAt      time.Time
}

// MessageList represents a paginated list of messages.
type MessageList struct {
	Messages   []Message
	Total      int64
	HasMore    bool
	NextCursor string
}

// DraftList represents a paginated list of drafts.
type DraftList struct {
	Drafts     []DraftMessage
	Total      int64
	HasMore    bool
	NextCursor string
}
