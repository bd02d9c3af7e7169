package pmbox

import (
	"context"
	"errors"
	"time"

	"github.com/pmbox/pmbox/store"
)

// Delete outcomes reported by DeleteResult.Outcome.
const (
	// OutcomeTrashed means the message was hidden for this user only;
	// the other party still sees it.
	OutcomeTrashed = "trashed"
	// OutcomePurged means the row was physically destroyed.
	OutcomePurged = "purged"
	// OutcomeRetained means the row was eligible for destruction but a
	// star on either side kept it alive.
	OutcomeRetained = "retained"
)

// DeleteResult describes what happened to a deleted message.
type DeleteResult struct {
	// Hard is true when the row was physically destroyed.
	Hard bool
	// Outcome is one of OutcomeTrashed, OutcomePurged, OutcomeRetained.
	Outcome string
	// AttachmentsReleased is the number of attachment references released
	// after a hard delete.
	AttachmentsReleased int
	// AttachmentFailures counts attachment releases that failed. Failed
	// releases leave orphaned attachments, never missing ones.
	AttachmentFailures int
}

// ToggleRead flips the read marker on a message.
//
// currentState is the state the caller last observed; the message moves to
// the opposite state. An unrecognized token is logged and rejected, since it
// suggests a tampered request. Draft rows keep their implicit read state and
// are skipped without error.
func (m *userMailbox) ToggleRead(ctx context.Context, messageID, currentState string) (_ string, retErr error) {
	if err := m.checkAccess(); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { m.service.otel.recordToggle(ctx, time.Since(start), "read", retErr) }()

	cur, err := parseReadState(currentState)
	if err != nil {
		m.service.logger.Warn("rejecting unrecognized read state token",
			"user_id", m.userID, "message_id", messageID, "token", currentState)
		retErr = err
		return "", retErr
	}

	if _, err := m.getOwned(ctx, messageID); err != nil {
		// Drafts live outside GetOwned. A draft composed by this user is
		// implicitly read and stays that way.
		var nf *NotFoundError
		if errors.As(err, &nf) && m.ownsDraft(ctx, messageID) {
			return StateRead, nil
		}
		retErr = err
		return "", retErr
	}

	newRead := !cur
	now := time.Now().UTC()
	if err := m.service.store.MarkRead(ctx, messageID, newRead, now); err != nil {
		retErr = &PersistenceError{Op: "mark read", Err: err}
		return "", retErr
	}

	if err := m.publishReadEvent(ctx, messageID, newRead, now); err != nil {
		retErr = err
		return readStateLabel(newRead), retErr
	}

	return readStateLabel(newRead), nil
}

// ToggleStar atomically flips the star flag on the user's side of the
// message and returns the new value.
func (m *userMailbox) ToggleStar(ctx context.Context, messageID string) (_ bool, retErr error) {
	if err := m.checkAccess(); err != nil {
		return false, err
	}

	start := time.Now()
	defer func() { m.service.otel.recordToggle(ctx, time.Since(start), "star", retErr) }()

	msg, err := m.getOwned(ctx, messageID)
	if err != nil {
		retErr = err
		return false, retErr
	}

	party, ok := store.PartyOf(msg, m.userID)
	if !ok {
		// GetOwned guarantees ownership; a mismatch here means the row
		// changed under us.
		retErr = &NotFoundError{ID: messageID, UserID: m.userID}
		return false, retErr
	}

	starred, err := m.service.store.ToggleStar(ctx, messageID, party)
	if err != nil {
		retErr = &PersistenceError{Op: "toggle star", Err: err}
		return false, retErr
	}

	return starred, nil
}

// Delete removes a message from the user's view.
//
// The first party's delete is a soft hide: the row survives for the other
// party. Once both parties have deleted (or force is set), the row is
// physically destroyed, unless a star on either side keeps it alive. The
// destruction precondition is evaluated atomically by the store, so
// concurrent deletes from both parties race safely.
func (m *userMailbox) Delete(ctx context.Context, messageID string, force bool) (_ *DeleteResult, retErr error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { m.service.otel.recordDelete(ctx, time.Since(start), force, retErr) }()

	msg, err := m.getOwned(ctx, messageID)
	if err != nil {
		retErr = err
		return nil, retErr
	}

	party, ok := store.PartyOf(msg, m.userID)
	if !ok {
		retErr = &NotFoundError{ID: messageID, UserID: m.userID}
		return nil, retErr
	}

	now := time.Now().UTC()
	updated, err := m.service.store.MarkDeleted(ctx, messageID, party, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			retErr = &NotFoundError{ID: messageID, UserID: m.userID}
			return nil, retErr
		}
		retErr = &PersistenceError{Op: "mark deleted", Err: err}
		return nil, retErr
	}

	result := &DeleteResult{Outcome: OutcomeTrashed}

	if force || store.DeletedByBoth(updated) {
		removed, err := m.service.store.HardDeleteEligible(ctx, messageID, force)
		if err != nil {
			retErr = &PersistenceError{Op: "hard delete", Err: err}
			return nil, retErr
		}
		if removed {
			result.Hard = true
			result.Outcome = OutcomePurged
			result.AttachmentsReleased, result.AttachmentFailures = m.releaseAttachmentRefs(ctx, updated)
		} else {
			// A star on either side blocked the destruction.
			result.Outcome = OutcomeRetained
		}
	}

	if err := m.publishDeletedEvent(ctx, messageID, result.Hard, now); err != nil {
		retErr = err
		return result, retErr
	}

	return result, nil
}

// Discard permanently removes a saved draft.
// Only drafts can be discarded; sent messages go through Delete.
func (m *userMailbox) Discard(ctx context.Context, draftID string) error {
	if err := m.checkAccess(); err != nil {
		return err
	}

	if draftID == "" {
		return &ValidationError{Field: "id", Message: "draft ID is required"}
	}

	d, err := m.service.store.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{ID: draftID, UserID: m.userID}
		}
		return &PersistenceError{Op: "get draft", Err: err}
	}
	if d.GetOwnerID() != m.userID {
		return &NotFoundError{ID: draftID, UserID: m.userID}
	}

	if err := m.service.store.DeleteDraft(ctx, draftID); err != nil {
		return &PersistenceError{Op: "delete draft", Err: err}
	}

	return nil
}

// EmptyTrash hides everything currently in the user's trashbox.
//
// The rows are not touched: the per-user trash-emptied watermark advances to
// now, and the trashbox predicate only shows messages deleted after the
// watermark. Background purging destroys the rows later once both parties
// are done with them.
func (m *userMailbox) EmptyTrash(ctx context.Context) error {
	if err := m.checkAccess(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.service.store.SetTrashEmptiedAt(ctx, m.userID, now); err != nil {
		return &PersistenceError{Op: "set trash watermark", Err: err}
	}

	m.service.updateCachedStats(m.userID, func(stats *store.MailboxStats) {
		c := stats.Boxes[store.MailboxTrashbox]
		stats.TotalMessages -= c.Total
		if stats.TotalMessages < 0 {
			stats.TotalMessages = 0
		}
		stats.Boxes[store.MailboxTrashbox] = store.MailboxCounts{}
	})

	if err := m.service.events.TrashEmptied.Publish(ctx, TrashEmptiedEvent{
		UserID:    m.userID,
		EmptiedAt: now,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			return &EventPublishError{Event: "TrashEmptied", Err: err}
		}
		m.service.opts.safeEventPublishFailure("TrashEmptied", err)
	}

	return nil
}

// MarkAllRead marks every unread message in the named mailbox read.
// Uses store.BulkReadMarker for a single database operation when available,
// falling back to individual MarkRead calls otherwise.
func (m *userMailbox) MarkAllRead(ctx context.Context, mailbox string) (_ int64, retErr error) {
	if err := m.checkAccess(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() { m.service.otel.recordToggle(ctx, time.Since(start), "mark_all_read", retErr) }()

	box := store.ResolveMailbox(mailbox)
	if box == store.MailboxDraftbox {
		// Drafts are implicitly read.
		return 0, nil
	}

	var watermark time.Time
	if box == store.MailboxTrashbox {
		var err error
		watermark, err = m.service.store.TrashEmptiedAt(ctx, m.userID)
		if err != nil {
			retErr = &PersistenceError{Op: "trash watermark", Err: err}
			return 0, retErr
		}
	}
	filters := store.MailboxFilters(box, store.FilterUnread, m.userID, watermark)

	now := time.Now().UTC()
	var count int64

	// Fast path: use BulkReadMarker if the store supports it.
	if brm, ok := m.service.store.(store.BulkReadMarker); ok {
		var err error
		count, err = brm.MarkAllRead(ctx, filters, now)
		if err != nil {
			retErr = &PersistenceError{Op: "mark all read", Err: err}
			return 0, retErr
		}
	} else {
		// Slow path: individual MarkRead calls.
		list, err := m.service.store.Find(ctx, filters, store.ListOptions{Limit: m.service.opts.maxQueryLimit})
		if err != nil {
			retErr = &PersistenceError{Op: "find unread", Err: err}
			return 0, retErr
		}
		for _, msg := range list.Messages {
			if err := m.service.store.MarkRead(ctx, msg.GetID(), true, now); err == nil {
				count++
			}
		}
	}

	// Update stats cache directly; skip per-message events for the bulk path.
	if count > 0 {
		m.service.updateCachedStats(m.userID, func(stats *store.MailboxStats) {
			if stats.UnreadCount >= count {
				stats.UnreadCount -= count
			} else {
				stats.UnreadCount = 0
			}
			c := stats.Boxes[box]
			if c.Unread >= count {
				c.Unread -= count
			} else {
				c.Unread = 0
			}
			stats.Boxes[box] = c
		})
	}

	return count, nil
}

// Helper methods

// getOwned retrieves a message restricted to the current user's messages,
// mapping store errors to the package error types. This centralizes the
// get-check-authorize pattern used by all mutation methods; a row belonging
// to other users is indistinguishable from a missing one.
func (m *userMailbox) getOwned(ctx context.Context, messageID string) (store.Message, error) {
	if messageID == "" {
		return nil, &ValidationError{Field: "id", Message: "message ID is required"}
	}
	msg, err := m.service.store.GetOwned(ctx, messageID, m.userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			return nil, &NotFoundError{ID: messageID, UserID: m.userID}
		}
		return nil, &PersistenceError{Op: "get message", Err: err}
	}
	return msg, nil
}

// ownsDraft reports whether messageID names a draft composed by this user.
// Read toggles treat such drafts as a no-op: drafts carry no read flag.
func (m *userMailbox) ownsDraft(ctx context.Context, messageID string) bool {
	d, err := m.service.store.GetDraft(ctx, messageID)
	return err == nil && d.GetOwnerID() == m.userID
}

// publishDeletedEvent publishes a MessageDeleted event.
// Returns an EventPublishError when eventErrorsFatal is true and publishing fails.
func (m *userMailbox) publishDeletedEvent(ctx context.Context, messageID string, hard bool, at time.Time) error {
	if err := m.service.events.MessageDeleted.Publish(ctx, MessageDeletedEvent{
		MessageID: messageID,
		UserID:    m.userID,
		Hard:      hard,
		DeletedAt: at,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			return &EventPublishError{
				Event:     "MessageDeleted",
				MessageID: messageID,
				Err:       err,
			}
		}
		m.service.opts.safeEventPublishFailure("MessageDeleted", err)
	}
	return nil
}
