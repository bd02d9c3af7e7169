package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pmbox/pmbox/store"
)

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.DraftMessage = (*message)(nil)
var _ store.Attachment = (*attachment)(nil)

// =============================================================================
// Message type
// =============================================================================

type message struct {
	id                 string
	senderID           string
	recipientID        string
	recipientIDs       []string
	subject            string
	body               string
	attachments        []store.Attachment
	draftedAt          *time.Time
	sentAt             *time.Time
	readAt             *time.Time
	senderStarred      bool
	recipientStarred   bool
	senderDeletedAt    *time.Time
	recipientDeletedAt *time.Time
	isDraft            bool
	createdAt          time.Time
	updatedAt          time.Time
}

// Message getters
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

// Draft getters
func (m *message) GetOwnerID() string        { return m.senderID }
func (m *message) GetRecipientIDs() []string { return m.recipientIDs }

// Draft setters (fluent)
func (m *message) SetSubject(subject string) store.DraftMessage {
	m.subject = subject
	return m
}

func (m *message) SetBody(body string) store.DraftMessage {
	m.body = body
	return m
}

func (m *message) SetRecipients(recipientIDs ...string) store.DraftMessage {
	m.recipientIDs = recipientIDs
	return m
}

func (m *message) AddAttachment(attachment store.Attachment) store.DraftMessage {
	m.attachments = append(m.attachments, attachment)
	return m
}

// =============================================================================
// Attachment type
// =============================================================================

type attachmentDoc struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URI         string    `json:"uri"`
	CreatedAt   time.Time `json:"created_at"`
}

type attachment struct {
	id          string
	filename    string
	contentType string
	size        int64
	uri         string
	createdAt   time.Time
}

func (a *attachment) GetID() string           { return a.id }
func (a *attachment) GetFilename() string     { return a.filename }
func (a *attachment) GetContentType() string  { return a.contentType }
func (a *attachment) GetSize() int64          { return a.size }
func (a *attachment) GetURI() string          { return a.uri }
func (a *attachment) GetCreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Scanning and marshaling helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMessage(row rowScanner) (*message, error) {
	var msg message
	var attachmentsJSON []byte
	var draftedAt, sentAt, readAt, senderDeletedAt, recipientDeletedAt sql.NullTime

	err := row.Scan(
		&msg.id, &msg.senderID, &msg.recipientID, pq.Array(&msg.recipientIDs),
		&msg.subject, &msg.body, &attachmentsJSON,
		&draftedAt, &sentAt, &readAt,
		&msg.senderStarred, &msg.recipientStarred,
		&senderDeletedAt, &recipientDeletedAt,
		&msg.isDraft, &msg.createdAt, &msg.updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if draftedAt.Valid {
		msg.draftedAt = &draftedAt.Time
	}
	if sentAt.Valid {
		msg.sentAt = &sentAt.Time
	}
	if readAt.Valid {
		msg.readAt = &readAt.Time
	}
	if senderDeletedAt.Valid {
		msg.senderDeletedAt = &senderDeletedAt.Time
	}
	if recipientDeletedAt.Valid {
		msg.recipientDeletedAt = &recipientDeletedAt.Time
	}

	if len(attachmentsJSON) > 0 {
		msg.attachments, err = s.unmarshalAttachments(attachmentsJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}

	return &msg, nil
}

func (s *Store) scanMessageFromRows(rows *sql.Rows) (*message, error) {
	return s.scanMessage(rows)
}

func (s *Store) marshalAttachments(attachments []store.Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return []byte("[]"), nil
	}

	docs := make([]attachmentDoc, len(attachments))
	for i, a := range attachments {
		docs[i] = attachmentDoc{
			ID:          a.GetID(),
			Filename:    a.GetFilename(),
			ContentType: a.GetContentType(),
			Size:        a.GetSize(),
			URI:         a.GetURI(),
			CreatedAt:   a.GetCreatedAt(),
		}
	}

	return json.Marshal(docs)
}

func (s *Store) unmarshalAttachments(data []byte) ([]store.Attachment, error) {
	var docs []attachmentDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}

	attachments := make([]store.Attachment, len(docs))
	for i, d := range docs {
		attachments[i] = &attachment{
			id:          d.ID,
			filename:    d.Filename,
			contentType: d.ContentType,
			size:        d.Size,
			uri:         d.URI,
			createdAt:   d.CreatedAt,
		}
	}

	return attachments, nil
}
