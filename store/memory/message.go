package memory

import (
	"time"

	"github.com/pmbox/pmbox/store"
)

// message is the internal representation for both drafts and sent messages.
type message struct {
	id      string
	ownerID string // draft owner; equals senderID for sent rows

	senderID    string
	recipientID string   // single recipient once sent
	recipients  []string // candidate recipients while drafted

	subject     string
	body        string
	attachments []store.Attachment

	draftedAt *time.Time
	sentAt    *time.Time
	readAt    *time.Time

	senderStarred      bool
	recipientStarred   bool
	senderDeletedAt    *time.Time
	recipientDeletedAt *time.Time

	createdAt time.Time
	updatedAt time.Time
	isDraft   bool // true for drafts, false for sent rows
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// clone creates a deep copy of the message.
func (m *message) clone() *message {
	c := &message{
		id:               m.id,
		ownerID:          m.ownerID,
		senderID:         m.senderID,
		recipientID:      m.recipientID,
		subject:          m.subject,
		body:             m.body,
		senderStarred:    m.senderStarred,
		recipientStarred: m.recipientStarred,
		createdAt:        m.createdAt,
		updatedAt:        m.updatedAt,
		isDraft:          m.isDraft,
	}

	if m.recipients != nil {
		c.recipients = make([]string, len(m.recipients))
		copy(c.recipients, m.recipients)
	}
	if m.attachments != nil {
		c.attachments = make([]store.Attachment, len(m.attachments))
		copy(c.attachments, m.attachments)
	}
	c.draftedAt = cloneTime(m.draftedAt)
	c.sentAt = cloneTime(m.sentAt)
	c.readAt = cloneTime(m.readAt)
	c.senderDeletedAt = cloneTime(m.senderDeletedAt)
	c.recipientDeletedAt = cloneTime(m.recipientDeletedAt)

	return c
}

// Message getters (implements store.Message)
func (m *message) GetID() string                      { return m.id }
func (m *message) GetSenderID() string                { return m.senderID }
func (m *message) GetRecipientID() string             { return m.recipientID }
func (m *message) GetSubject() string                 { return m.subject }
func (m *message) GetBody() string                    { return m.body }
func (m *message) GetAttachments() []store.Attachment { return m.attachments }
func (m *message) GetDraftedAt() *time.Time           { return m.draftedAt }
func (m *message) GetSentAt() *time.Time              { return m.sentAt }
func (m *message) GetReadAt() *time.Time              { return m.readAt }
func (m *message) GetSenderStarred() bool             { return m.senderStarred }
func (m *message) GetRecipientStarred() bool          { return m.recipientStarred }
func (m *message) GetSenderDeletedAt() *time.Time     { return m.senderDeletedAt }
func (m *message) GetRecipientDeletedAt() *time.Time  { return m.recipientDeletedAt }
func (m *message) GetCreatedAt() time.Time            { return m.createdAt }
func (m *message) GetUpdatedAt() time.Time            { return m.updatedAt }

// Draft getters (implements store.DraftMessage)
func (m *message) GetOwnerID() string        { return m.ownerID }
func (m *message) GetRecipientIDs() []string { return m.recipients }

// Draft setters (implements store.DraftMessage fluent API)
func (m *message) SetSubject(subject string) store.DraftMessage {
	m.subject = subject
	m.updatedAt = time.Now().UTC()
	return m
}

func (m *message) SetBody(body string) store.DraftMessage {
	m.body = body
	m.updatedAt = time.Now().UTC()
	return m
}

func (m *message) SetRecipients(recipientIDs ...string) store.DraftMessage {
	m.recipients = recipientIDs
	m.updatedAt = time.Now().UTC()
	return m
}

func (m *message) AddAttachment(attachment store.Attachment) store.DraftMessage {
	m.attachments = append(m.attachments, attachment)
	m.updatedAt = time.Now().UTC()
	return m
}

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.DraftMessage = (*message)(nil)
