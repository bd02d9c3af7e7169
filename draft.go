package pmbox

import (
	"context"
	"fmt"
	"time"

	"github.com/pmbox/pmbox/store"
)

// DraftReader provides read access to draft content.
type DraftReader interface {
	ID() string
	Subject() string
	Body() string
	RecipientIDs() []string
	Attachments() []store.Attachment
	// Mode reports how the draft will fan out at send time.
	Mode() SendMode
}

// DraftComposer provides fluent setter methods for composing a draft.
// All setter methods return DraftComposer to enable chaining:
//
//	draft.SetRecipients("user1").SetSubject("Hello").SetBody("World")
//
// For operations that can fail (AddAttachment, SetRecipientField), use the
// methods on Draft directly; they are not part of the fluent interface.
type DraftComposer interface {
	SetRecipients(recipientIDs ...string) DraftComposer
	SetSubject(subject string) DraftComposer
	SetBody(body string) DraftComposer
}

// DraftPreparer provides draft preparation methods that can fail.
// These methods return errors and are intentionally not part of the fluent
// DraftComposer interface to keep the builder pattern clean.
type DraftPreparer interface {
	// AddAttachment adds an attachment after validating it.
	// Returns an error if the attachment is invalid or limits are exceeded.
	AddAttachment(attachment store.Attachment) error

	// SetRecipientField parses a raw recipient field and configures the
	// draft's recipients and send mode. Accepts a single user ID, a
	// comma-separated list, or a "class:<ref>" reference. Class
	// references are expanded at send time.
	SetRecipientField(ctx context.Context, field string) error
}

// DraftPublisher provides lifecycle operations that transform or persist a draft.
//
// Validation differences between Save() and Send():
//   - Send() requires: non-empty recipients, non-empty subject, non-empty body
//   - Save() allows: empty recipients, empty subject, empty body
//   - Both validate: content size limits and attachment limits
//
// This allows users to save incomplete drafts and complete them later.
type DraftPublisher interface {
	// Send validates fully and sends the draft, creating one message row
	// per unique recipient. The draft row, if saved, is removed on
	// success. Returns ErrEmptyRecipients, ErrEmptySubject, or
	// ErrEmptyBody when the respective part is missing.
	Send(ctx context.Context) (*SendReceipt, error)

	// Save saves the draft without sending. If the draft was saved
	// before, the existing row is updated in place; editing never
	// creates a second draft.
	Save(ctx context.Context) (Draft, error)
}

// DraftMutator provides mutation operations on a draft.
type DraftMutator interface {
	// Delete deletes the draft.
	// If the draft was saved, it's permanently deleted from storage.
	// If the draft was not saved, this is a no-op.
	Delete(ctx context.Context) error
}

// Draft represents a message being composed.
// Use Mailbox.Compose() to create a new draft, or Mailbox.EditDraft() to
// reopen a saved one.
//
// Composed of:
//   - DraftReader: Read draft content (ID, Subject, Body, etc.)
//   - DraftComposer: Fluent setters (SetSubject, SetBody, SetRecipients)
//   - DraftPreparer: Failable operations (AddAttachment, SetRecipientField)
//   - DraftPublisher: Lifecycle operations (Send, Save)
//   - DraftMutator: Mutation operations (Delete)
//
// Usage pattern:
//
//	draft, _ := mb.Compose()
//	draft.SetRecipients("user1").SetSubject("Hello").SetBody("World")  // fluent chain
//	if err := draft.AddAttachment(att); err != nil { ... }             // separate call
//	receipt, err := draft.Send(ctx)
type Draft interface {
	DraftReader
	DraftComposer
	DraftPreparer
	DraftPublisher
	DraftMutator
}

// draft is the internal implementation of Draft.
type draft struct {
	mailbox  *userMailbox
	message  store.DraftMessage
	saved    bool
	mode     SendMode
	classRef string
}

// newDraft creates a new draft for the given mailbox.
func newDraft(m *userMailbox) *draft {
	msg := m.service.store.NewDraft(m.userID)

	return &draft{
		mailbox: m,
		message: msg,
		saved:   false,
		mode:    SendModeIndividual,
	}
}

// ID returns the draft ID if saved, empty string otherwise.
func (d *draft) ID() string {
	return d.message.GetID()
}

// Subject returns the draft subject.
func (d *draft) Subject() string {
	return d.message.GetSubject()
}

// Body returns the draft body.
func (d *draft) Body() string {
	return d.message.GetBody()
}

// RecipientIDs returns the recipient IDs.
func (d *draft) RecipientIDs() []string {
	return d.message.GetRecipientIDs()
}

// Attachments returns the draft attachments.
func (d *draft) Attachments() []store.Attachment {
	return d.message.GetAttachments()
}

// Mode reports how the draft will fan out at send time.
func (d *draft) Mode() SendMode {
	return d.mode
}

// SetRecipients sets the recipient IDs.
func (d *draft) SetRecipients(recipientIDs ...string) DraftComposer {
	d.message.SetRecipients(recipientIDs...)
	d.classRef = ""
	if len(recipientIDs) > 1 {
		d.mode = SendModeMultiple
	} else {
		d.mode = SendModeIndividual
	}
	return d
}

// SetSubject sets the subject.
func (d *draft) SetSubject(subject string) DraftComposer {
	d.message.SetSubject(subject)
	return d
}

// SetBody sets the body.
func (d *draft) SetBody(body string) DraftComposer {
	d.message.SetBody(body)
	return d
}

// SetRecipientField parses a raw recipient field into recipients and mode.
// Class references are validated for resolver availability here and expanded
// at send time, so membership changes between save and send are picked up.
func (d *draft) SetRecipientField(ctx context.Context, field string) error {
	mode, recipientIDs, classRef := ParseRecipientField(field)

	if mode == SendModeClass {
		if d.mailbox.service.opts.classes == nil {
			return ErrClassResolverNotConfigured
		}
		d.mode = SendModeClass
		d.classRef = classRef
		d.message.SetRecipients()
		return nil
	}

	if len(recipientIDs) == 0 {
		return &ValidationError{Field: "recipients", Message: "recipient field is empty"}
	}

	d.mode = mode
	d.classRef = ""
	d.message.SetRecipients(recipientIDs...)
	return nil
}

// AddAttachment adds an attachment after validating it.
// Returns an error if the attachment is invalid or limits are exceeded.
func (d *draft) AddAttachment(attachment store.Attachment) error {
	if attachment == nil {
		return ErrInvalidAttachment
	}

	limits := d.mailbox.service.opts.getLimits()

	if attachment.GetFilename() == "" {
		return &ValidationError{Field: "attachment.filename", Message: "filename is required"}
	}
	if attachment.GetContentType() == "" {
		return &ValidationError{Field: "attachment.content_type", Message: "content type is required"}
	}
	if attachment.GetSize() > limits.MaxAttachmentSize {
		return &ValidationError{
			Field:   "attachment.size",
			Message: fmt.Sprintf("attachment size %d exceeds limit %d", attachment.GetSize(), limits.MaxAttachmentSize),
		}
	}

	if len(d.message.GetAttachments()) >= limits.MaxAttachmentCount {
		return &ValidationError{
			Field:   "attachments",
			Message: fmt.Sprintf("attachment count would exceed limit %d", limits.MaxAttachmentCount),
		}
	}

	d.message.AddAttachment(attachment)
	return nil
}

// Send validates and sends the draft, fanning out one row per recipient.
// On partial delivery, returns both the receipt and a PartialDeliveryError.
// On event publish failure, returns both the receipt and an EventPublishError.
func (d *draft) Send(ctx context.Context) (*SendReceipt, error) {
	return d.mailbox.sendDraft(ctx, d)
}

// Save saves the draft without sending.
// The draft can be retrieved later, completed, and sent.
func (d *draft) Save(ctx context.Context) (Draft, error) {
	savedMsg, err := d.mailbox.saveDraft(ctx, d.message)
	if err != nil {
		return nil, err
	}
	d.message = savedMsg
	d.saved = true
	return d, nil
}

// Delete deletes the draft.
// If the draft was saved, it's permanently deleted from storage.
// If the draft was not saved, this is a no-op.
func (d *draft) Delete(ctx context.Context) error {
	if !d.saved || d.message.GetID() == "" {
		// Draft was never saved, nothing to delete
		return nil
	}

	return d.mailbox.service.store.DeleteDraft(ctx, d.message.GetID())
}

// DraftListReader provides read-only access to a paginated list of drafts.
type DraftListReader interface {
	// All returns all drafts in this list.
	All() []Draft
	// Total returns the total count of drafts matching the query (not just this page).
	Total() int64
	// HasMore returns true if there are more drafts after this page.
	HasMore() bool
	// NextCursor returns the cursor for fetching the next page.
	NextCursor() string
	// IDs returns the IDs of all drafts in this list.
	IDs() []string
}

// DraftListMutator provides bulk mutation operations on a list of drafts.
type DraftListMutator interface {
	// Delete deletes all drafts in this list.
	Delete(ctx context.Context) (*BulkResult, error)
	// Send sends all drafts in this list.
	// Returns results for each draft (success or failure).
	Send(ctx context.Context) (*BulkResult, error)
}

// DraftList provides access to a paginated list of drafts with bulk operations.
//
// Composed of:
//   - DraftListReader: Read-only access (All, Total, HasMore, NextCursor, IDs)
//   - DraftListMutator: Bulk mutations (Delete, Send)
type DraftList interface {
	DraftListReader
	DraftListMutator
}

// draftList is the internal implementation of DraftList.
type draftList struct {
	mailbox    *userMailbox
	drafts     []Draft
	total      int64
	hasMore    bool
	nextCursor string
}

func (l *draftList) All() []Draft       { return l.drafts }
func (l *draftList) Total() int64       { return l.total }
func (l *draftList) HasMore() bool      { return l.hasMore }
func (l *draftList) NextCursor() string { return l.nextCursor }

func (l *draftList) IDs() []string {
	ids := make([]string, 0, len(l.drafts))
	for _, d := range l.drafts {
		if id := d.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Delete deletes all drafts in this list.
func (l *draftList) Delete(ctx context.Context) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.drafts))}

	for i, draft := range l.drafts {
		if err := ctx.Err(); err != nil {
			// Batch-append all remaining items as cancelled and break
			for _, remaining := range l.drafts[i:] {
				if remaining.ID() != "" {
					result.Results = append(result.Results, OperationResult{ID: remaining.ID(), Error: err})
				}
			}
			break
		}
		if draft.ID() == "" {
			continue // Skip unsaved drafts
		}
		res := OperationResult{ID: draft.ID()}
		if err := l.mailbox.service.store.DeleteDraft(ctx, draft.ID()); err != nil {
			res.Error = err
		} else {
			res.Success = true
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// Send sends all drafts in this list.
func (l *draftList) Send(ctx context.Context) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.drafts))}

	for i, draft := range l.drafts {
		if err := ctx.Err(); err != nil {
			// Batch-append all remaining items as cancelled and break
			for _, remaining := range l.drafts[i:] {
				draftID := remaining.ID()
				if draftID == "" {
					draftID = "unsaved-draft"
				}
				result.Results = append(result.Results, OperationResult{ID: draftID, Error: err})
			}
			break
		}
		draftID := draft.ID()
		if draftID == "" {
			draftID = "unsaved-draft"
		}
		res := OperationResult{ID: draftID}
		receipt, err := draft.Send(ctx)
		if receipt != nil {
			// Messages were created (even on partial delivery or event errors)
			res.Success = true
		}
		if err != nil {
			res.Error = err
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// draftView presents a draft through the store.Message interface so the
// draftbox can share the MessageList shape with the other mailboxes. The
// view is read-only; mutations go through the draft itself.
type draftView struct {
	d         store.DraftMessage
	draftedAt time.Time
}

func newDraftView(d store.DraftMessage) *draftView {
	return &draftView{d: d, draftedAt: d.GetUpdatedAt()}
}

func (v *draftView) GetID() string                      { return v.d.GetID() }
func (v *draftView) GetSenderID() string                { return v.d.GetOwnerID() }
func (v *draftView) GetSubject() string                 { return v.d.GetSubject() }
func (v *draftView) GetBody() string                    { return v.d.GetBody() }
func (v *draftView) GetAttachments() []store.Attachment { return v.d.GetAttachments() }
func (v *draftView) GetCreatedAt() time.Time            { return v.d.GetCreatedAt() }
func (v *draftView) GetUpdatedAt() time.Time            { return v.d.GetUpdatedAt() }

// GetRecipientID returns the first candidate recipient, if any. A draft may
// carry several candidates; the real one-recipient-per-row shape only exists
// after send fan-out.
func (v *draftView) GetRecipientID() string {
	if ids := v.d.GetRecipientIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func (v *draftView) GetDraftedAt() *time.Time { return &v.draftedAt }
func (v *draftView) GetSentAt() *time.Time    { return nil }
func (v *draftView) GetReadAt() *time.Time    { return nil }

func (v *draftView) GetSenderStarred() bool            { return false }
func (v *draftView) GetRecipientStarred() bool         { return false }
func (v *draftView) GetSenderDeletedAt() *time.Time    { return nil }
func (v *draftView) GetRecipientDeletedAt() *time.Time { return nil }
