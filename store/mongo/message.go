package mongo

import (
	"time"

	"github.com/pmbox/pmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.DraftMessage = (*message)(nil)
var _ store.Attachment = (*attachment)(nil)

// messageDoc is the MongoDB document representation. Unset markers are
// omitted entirely so $exists matches the logical "marker is set" test.
type messageDoc struct {
	ID                 bson.ObjectID   `bson:"_id,omitempty"`
	SenderID           string          `bson:"sender_id"`
	RecipientID        string          `bson:"recipient_id,omitempty"`
	RecipientIDs       []string        `bson:"recipient_ids,omitempty"`
	Subject            string          `bson:"subject"`
	Body               string          `bson:"body"`
	Attachments        []attachmentDoc `bson:"attachments,omitempty"`
	DraftedAt          *time.Time      `bson:"drafted_at,omitempty"`
	SentAt             *time.Time      `bson:"sent_at,omitempty"`
	ReadAt             *time.Time      `bson:"read_at,omitempty"`
	SenderStarred      bool            `bson:"sender_starred"`
	RecipientStarred   bool            `bson:"recipient_starred"`
	SenderDeletedAt    *time.Time      `bson:"sender_deleted_at,omitempty"`
	RecipientDeletedAt *time.Time      `bson:"recipient_deleted_at,omitempty"`
	IsDraft            bool            `bson:"__is_draft,omitempty"`
	CreatedAt          time.Time       `bson:"created_at"`
	UpdatedAt          time.Time       `bson:"updated_at"`
}

// attachmentDoc is the MongoDB document for attachments.
type attachmentDoc struct {
	ID          string    `bson:"id"`
	Filename    string    `bson:"filename"`
	ContentType string    `bson:"content_type"`
	Size        int64     `bson:"size"`
	URI         string    `bson:"uri"`
	CreatedAt   time.Time `bson:"created_at"`
}

// message implements both store.Message and store.DraftMessage.
type message struct {
	id                 string
	senderID           string
	recipientID        string
	recipientIDs       []string
	subject            string
	body               string
	attachments        []*attachment
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

// attachment implements store.Attachment.
type attachment struct {
	id          string
	filename    string
	contentType string
	size        int64
	uri         string
	createdAt   time.Time
}

// Message getters
func (m *message) GetID() string                     { return m.id }
func (m *message) GetSenderID() string               { return m.senderID }
func (m *message) GetRecipientID() string            { return m.recipientID }
func (m *message) GetSubject() string                { return m.subject }
func (m *message) GetBody() string                   { return m.body }
func (m *message) GetDraftedAt() *time.Time          { return m.draftedAt }
func (m *message) GetSentAt() *time.Time             { return m.sentAt }
func (m *message) GetReadAt() *time.Time             { return m.readAt }
func (m *message) GetSenderStarred() bool            { return m.senderStarred }
func (m *message) GetRecipientStarred() bool         { return m.recipientStarred }
func (m *message) GetSenderDeletedAt() *time.Time    { return m.senderDeletedAt }
func (m *message) GetRecipientDeletedAt() *time.Time { return m.recipientDeletedAt }
func (m *message) GetCreatedAt() time.Time           { return m.createdAt }
func (m *message) GetUpdatedAt() time.Time           { return m.updatedAt }

// Draft getters
func (m *message) GetOwnerID() string        { return m.senderID }
func (m *message) GetRecipientIDs() []string { return m.recipientIDs }

func (m *message) GetAttachments() []store.Attachment {
	if m.attachments == nil {
		return nil
	}
	result := make([]store.Attachment, len(m.attachments))
	for i, a := range m.attachments {
		result[i] = a
	}
	return result
}

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

func (m *message) AddAttachment(att store.Attachment) store.DraftMessage {
	if att == nil {
		return m
	}
	m.attachments = append(m.attachments, &attachment{
		id:          att.GetID(),
		filename:    att.GetFilename(),
		contentType: att.GetContentType(),
		size:        att.GetSize(),
		uri:         att.GetURI(),
		createdAt:   att.GetCreatedAt(),
	})
	return m
}

// Attachment getters
func (a *attachment) GetID() string           { return a.id }
func (a *attachment) GetFilename() string     { return a.filename }
func (a *attachment) GetContentType() string  { return a.contentType }
func (a *attachment) GetSize() int64          { return a.size }
func (a *attachment) GetURI() string          { return a.uri }
func (a *attachment) GetCreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Conversion helpers
// =============================================================================

func messageToDoc(msg *message) *messageDoc {
	doc := &messageDoc{
		SenderID:           msg.senderID,
		RecipientID:        msg.recipientID,
		RecipientIDs:       msg.recipientIDs,
		Subject:            msg.subject,
		Body:               msg.body,
		DraftedAt:          msg.draftedAt,
		SentAt:             msg.sentAt,
		ReadAt:             msg.readAt,
		SenderStarred:      msg.senderStarred,
		RecipientStarred:   msg.recipientStarred,
		SenderDeletedAt:    msg.senderDeletedAt,
		RecipientDeletedAt: msg.recipientDeletedAt,
		IsDraft:            msg.isDraft,
		CreatedAt:          msg.createdAt,
		UpdatedAt:          msg.updatedAt,
	}

	if len(msg.attachments) > 0 {
		doc.Attachments = make([]attachmentDoc, len(msg.attachments))
		for i, a := range msg.attachments {
			doc.Attachments[i] = attachmentDoc{
				ID:          a.id,
				Filename:    a.filename,
				ContentType: a.contentType,
				Size:        a.size,
				URI:         a.uri,
				CreatedAt:   a.createdAt,
			}
		}
	}

	if msg.id != "" {
		if oid, err := bson.ObjectIDFromHex(msg.id); err == nil {
			doc.ID = oid
		}
	}
	return doc
}

func docToMessage(doc *messageDoc) *message {
	msg := &message{
		id:                 doc.ID.Hex(),
		senderID:           doc.SenderID,
		recipientID:        doc.RecipientID,
		recipientIDs:       doc.RecipientIDs,
		subject:            doc.Subject,
		body:               doc.Body,
		draftedAt:          doc.DraftedAt,
		sentAt:             doc.SentAt,
		readAt:             doc.ReadAt,
		senderStarred:      doc.SenderStarred,
		recipientStarred:   doc.RecipientStarred,
		senderDeletedAt:    doc.SenderDeletedAt,
		recipientDeletedAt: doc.RecipientDeletedAt,
		isDraft:            doc.IsDraft,
		createdAt:          doc.CreatedAt,
		updatedAt:          doc.UpdatedAt,
	}

	if len(doc.Attachments) > 0 {
		msg.attachments = make([]*attachment, len(doc.Attachments))
		for i, a := range doc.Attachments {
			msg.attachments[i] = &attachment{
				id:          a.ID,
				filename:    a.Filename,
				contentType: a.ContentType,
				size:        a.Size,
				uri:         a.URI,
				createdAt:   a.CreatedAt,
			}
		}
	}

	return msg
}

func dataToDoc(data store.MessageData, now time.Time) *messageDoc {
	sentAt := data.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}

	doc := &messageDoc{
		SenderID:    data.SenderID,
		RecipientID: data.RecipientID,
		Subject:     data.Subject,
		Body:        data.Body,
		SentAt:      &sentAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if len(data.Attachments) > 0 {
		doc.Attachments = make([]attachmentDoc, len(data.Attachments))
		for i, a := range data.Attachments {
			doc.Attachments[i] = attachmentDoc{
				ID:          a.GetID(),
				Filename:    a.GetFilename(),
				ContentType: a.GetContentType(),
				Size:        a.GetSize(),
				URI:         a.GetURI(),
				CreatedAt:   a.GetCreatedAt(),
			}
		}
	}

	return doc
}
