package pmbox

import (
	"context"
	"fmt"
	"time"

	"github.com/pmbox/pmbox/retry"
	"github.com/pmbox/pmbox/store"
	"go.opentelemetry.io/otel/attribute"
)

// SendReceipt describes the outcome of sending a draft.
// A send fans out into one message row per unique recipient; MessageIDs
// holds the created row IDs in the same order as DeliveredTo.
type SendReceipt struct {
	// MessageIDs are the IDs of the created per-recipient rows.
	MessageIDs []string
	// DeliveredTo are the recipients that received the message.
	DeliveredTo []string
	// Mode is how the recipient field was interpreted.
	Mode SendMode
	// SentAt is the send timestamp shared by all created rows.
	SentAt time.Time
}

// resolveSendRecipients expands the draft's recipients for fan-out.
// Class references are expanded through the class resolver at send time, so
// membership changes after the draft was saved are picked up. The result is
// deduplicated preserving order.
func (m *userMailbox) resolveSendRecipients(ctx context.Context, d *draft) ([]string, error) {
	recipients := d.message.GetRecipientIDs()

	if d.mode == SendModeClass {
		if m.service.opts.classes == nil {
			return nil, ErrClassResolverNotConfigured
		}
		members, err := m.service.opts.classes.Members(ctx, d.classRef)
		if err != nil {
			return nil, &PersistenceError{Op: "resolve class " + d.classRef, Err: err}
		}
		recipients = members
	}

	recipients = dedupeRecipients(recipients)

	// When a resolver is configured, reject recipients it doesn't know.
	if m.service.opts.recipients != nil && len(recipients) > 0 {
		resolved, err := m.service.opts.recipients.ResolveBatch(ctx, recipients)
		if err != nil {
			return nil, &PersistenceError{Op: "resolve recipients", Err: err}
		}
		for i, r := range resolved {
			if r == nil {
				return nil, fmt.Errorf("%w: unknown user %q", ErrInvalidRecipient, recipients[i])
			}
		}
	}

	return recipients, nil
}

// addAttachmentRefs increments reference counts for all attachments on a
// created message. On failure, refs already added for this message are
// released before returning.
func (m *userMailbox) addAttachmentRefs(ctx context.Context, msg store.Message) error {
	if m.service.attachments == nil {
		return nil
	}

	attachments := msg.GetAttachments()
	added := make([]string, 0, len(attachments))

	for _, a := range attachments {
		if err := m.service.attachments.AddRef(ctx, a.GetID()); err != nil {
			for _, addedID := range added {
				if releaseErr := m.service.attachments.RemoveRef(ctx, addedID); releaseErr != nil {
					m.service.logger.Warn("failed to rollback attachment ref",
						"error", releaseErr, "attachment_id", addedID)
				}
			}
			return fmt.Errorf("add attachment ref %s: %w", a.GetID(), err)
		}
		added = append(added, a.GetID())
	}
	return nil
}

// fanOut creates one message row per recipient in chunks. Each chunk is
// created atomically by the store; a failed chunk marks all of its
// recipients failed and the remaining chunks still run.
func (m *userMailbox) fanOut(ctx context.Context, d *draft, recipients []string, sentAt time.Time) (created []store.Message, deliveredTo []string, failed map[string]error) {
	failed = make(map[string]error)
	chunkSize := m.service.opts.sendChunkSize

	for start := 0; start < len(recipients); start += chunkSize {
		end := start + chunkSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		if err := ctx.Err(); err != nil {
			for _, r := range recipients[start:] {
				failed[r] = err
			}
			return created, deliveredTo, failed
		}

		data := make([]store.MessageData, len(chunk))
		for i, r := range chunk {
			data[i] = store.MessageData{
				SenderID:    m.userID,
				RecipientID: r,
				Subject:     d.message.GetSubject(),
				Body:        d.message.GetBody(),
				Attachments: d.message.GetAttachments(),
				SentAt:      sentAt,
			}
		}

		// Transient store failures (connection blips, timeouts) retry with
		// backoff; validation and duplicate errors fail the chunk at once.
		msgs, err := retry.DoWithResult(ctx, m.service.sendRetryCfg, func(ctx context.Context) ([]store.Message, error) {
			return m.service.store.CreateMessages(ctx, data)
		})
		if err != nil {
			// All-or-nothing per chunk: no partial state to clean up.
			for _, r := range chunk {
				failed[r] = fmt.Errorf("create messages: %w", err)
			}
			continue
		}

		for i, msg := range msgs {
			if refErr := m.addAttachmentRefs(ctx, msg); refErr != nil {
				// The row exists but its attachments are untracked; remove
				// it so the recipient never sees a broken message.
				if _, delErr := m.service.store.HardDeleteEligible(ctx, msg.GetID(), true); delErr != nil {
					m.service.logger.Error("failed to rollback message after attachment ref failure",
						"error", delErr, "message_id", msg.GetID(), "recipient", chunk[i])
				}
				failed[chunk[i]] = refErr
				continue
			}
			created = append(created, msg)
			deliveredTo = append(deliveredTo, chunk[i])
		}
	}

	return created, deliveredTo, failed
}

// sendDraft sends a draft, creating one message row per unique recipient.
func (m *userMailbox) sendDraft(ctx context.Context, d *draft) (*SendReceipt, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	// Step 1: Resolve and deduplicate recipients before validation so the
	// recipient count check reflects the actual fan-out size.
	recipients, err := m.resolveSendRecipients(ctx, d)
	if err != nil {
		return nil, err
	}
	d.message.SetRecipients(recipients...)

	// Step 2: Validate the draft (before acquiring semaphore to avoid wasting slots)
	if err := ValidateDraftForSend(d.message, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	// Step 3: Fail early if the draft has attachments but no attachment
	// manager is configured. Without a manager, refs won't be tracked and
	// attachments may be orphaned or prematurely deleted.
	if len(d.message.GetAttachments()) > 0 && m.service.attachments == nil {
		return nil, ErrAttachmentStoreNotConfigured
	}

	// Setup tracing
	ctx, endSpan := m.service.otel.startSpan(ctx, "pmbox.send",
		attribute.String("user_id", m.userID),
		attribute.String("mode", string(d.mode)),
		attribute.Int("recipient_count", len(recipients)),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		m.service.otel.recordSend(ctx, time.Since(start), len(recipients), sendErr)
	}()

	// Step 4: Acquire send semaphore
	if err := m.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return nil, sendErr
	}
	defer m.service.sendSem.Release(1)

	// Step 5: Plugin BeforeSend hook
	if err := m.service.plugins.beforeSend(ctx, m.userID, d.message); err != nil {
		sendErr = err
		return nil, sendErr
	}

	// Step 6: Fan out one row per recipient
	sentAt := time.Now().UTC()
	created, deliveredTo, failedRecipients := m.fanOut(ctx, d, recipients, sentAt)

	// Step 7: Handle total delivery failure
	if len(deliveredTo) == 0 {
		sendErr = fmt.Errorf("send failed: all %d recipients failed delivery", len(recipients))
		return nil, sendErr
	}

	messageIDs := make([]string, len(created))
	for i, msg := range created {
		messageIDs[i] = msg.GetID()
	}
	receipt := &SendReceipt{
		MessageIDs:  messageIDs,
		DeliveredTo: deliveredTo,
		Mode:        d.mode,
		SentAt:      sentAt,
	}

	// Step 8: Delete the draft row if it was saved. The message is already
	// sent; a leftover draft is minor, so log and continue.
	if d.message.GetID() != "" {
		if err := m.service.store.DeleteDraft(ctx, d.message.GetID()); err != nil {
			m.service.logger.Warn("failed to delete draft after send",
				"error", err, "draft_id", d.message.GetID())
		}
	}
	d.saved = false

	// Step 9: Publish event
	if err := m.service.events.MessageSent.Publish(ctx, MessageSentEvent{
		MessageIDs:   messageIDs,
		SenderID:     m.userID,
		RecipientIDs: deliveredTo,
		Subject:      d.message.GetSubject(),
		SentAt:       sentAt,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			// Return the receipt WITH an error: the messages were sent
			// but the event failed.
			sendErr = &EventPublishError{Event: "MessageSent", Err: err}
			return receipt, sendErr
		}
		m.service.opts.safeEventPublishFailure("MessageSent", err)
	}

	// Step 10: Plugin AfterSend hook (runs even on partial delivery since
	// at least one message was sent)
	if err := m.service.plugins.afterSend(ctx, m.userID, created); err != nil {
		sendErr = err
		return receipt, sendErr
	}

	// Step 11: Handle partial delivery
	if len(failedRecipients) > 0 {
		sendErr = &PartialDeliveryError{
			MessageIDs:       messageIDs,
			DeliveredTo:      deliveredTo,
			FailedRecipients: failedRecipients,
		}
		return receipt, sendErr
	}

	return receipt, nil
}

// saveDraft saves a draft without sending.
func (m *userMailbox) saveDraft(ctx context.Context, draft store.DraftMessage) (store.DraftMessage, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	if err := ValidateDraftForSave(draft, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	savedDraft, err := m.service.store.SaveDraft(ctx, draft)
	if err != nil {
		return nil, &PersistenceError{Op: "save draft", Err: err}
	}

	return savedDraft, nil
}
