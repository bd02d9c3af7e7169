package pmbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
)

// PurgeResult contains the result of a purge pass.
type PurgeResult struct {
	// PurgedCount is the number of messages permanently removed.
	PurgedCount int
	// AttachmentsReleased is the number of attachment references released
	// for the removed messages.
	AttachmentsReleased int
	// AttachmentFailures is the number of attachment references that could
	// not be released. Failures are logged; orphaned attachments are left
	// for the attachment store's own cleanup.
	AttachmentFailures int
	// Interrupted indicates the pass stopped early (context cancelled).
	Interrupted bool
}

// PurgeDeleted permanently removes messages that are no longer visible to
// either party. Two kinds of rows qualify:
//
//   - rows that both sender and recipient have deleted, and
//   - rows sitting in a recipient's trash longer than the configured
//     retention period (default 30 days).
//
// Starred rows are never removed; a star from either party keeps the row
// alive regardless of age or deletion state.
//
// This method processes rows in batches until complete or the context is
// cancelled. It should be called periodically by the application using its
// own scheduler (e.g., cron job, background worker). The library does not
// run purges automatically, giving applications full control over timing.
//
// Example with a simple ticker:
//
//	go func() {
//	    ticker := time.NewTicker(1 * time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        result, err := svc.PurgeDeleted(ctx)
//	        if err != nil {
//	            log.Printf("purge error: %v", err)
//	        } else if result.PurgedCount > 0 {
//	            log.Printf("purged %d messages", result.PurgedCount)
//	        }
//	    }
//	}()
func (s *service) PurgeDeleted(ctx context.Context) (_ *PurgeResult, retErr error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}

	result := &PurgeResult{}

	start := time.Now()
	defer func() { s.otel.recordPurge(ctx, time.Since(start), result.PurgedCount, retErr) }()

	// Pass 1: rows deleted by both parties and starred by neither. The
	// store removes and returns them atomically, so concurrent purgers
	// never release the same attachments twice.
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		removed, err := s.store.PurgeEligible(ctx, s.opts.purgeBatchSize)
		if err != nil {
			return result, &PersistenceError{Op: "purge deleted", Err: err}
		}
		if len(removed) == 0 {
			break
		}

		result.PurgedCount += len(removed)
		for _, msg := range removed {
			released, failed := releaseAttachmentRefs(ctx, s, msg)
			result.AttachmentsReleased += released
			result.AttachmentFailures += failed
		}

		if len(removed) < s.opts.purgeBatchSize {
			break
		}
	}

	// Pass 2: expired trash. Rows the recipient trashed longer than the
	// retention window ago are removed even though the sender never
	// deleted them. HardDeleteEligible keeps the star exemption: a row
	// starred by either party survives the sweep.
	cutoff := time.Now().UTC().Add(-s.opts.trashRetention)
	expiredFilter, err := store.MessageFilter("RecipientDeletedAt").LessThan(cutoff)
	if err != nil {
		return result, fmt.Errorf("create retention filter: %w", err)
	}
	filters := []store.Filter{
		store.DeletedByRecipient(),
		expiredFilter,
	}

	var cursor string
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		opts := store.ListOptions{Limit: s.opts.purgeBatchSize, StartAfter: cursor}
		list, err := s.store.Find(ctx, filters, opts)
		if err != nil {
			return result, &PersistenceError{Op: "find expired trash", Err: err}
		}
		if len(list.Messages) == 0 {
			break
		}

		// Removed rows vanish from the match set, so the cursor may only
		// advance past rows that survived the batch (starred, or a failed
		// delete). A batch that removed its whole page leaves the cursor
		// empty and the next query restarts from the top of the shrunken
		// set.
		var lastSurvivor string
		for _, msg := range list.Messages {
			removed, err := s.store.HardDeleteEligible(ctx, msg.GetID(), true)
			if err != nil {
				s.logger.Warn("failed to purge expired trash message",
					"error", err, "message_id", msg.GetID())
				lastSurvivor = msg.GetID()
				continue
			}
			if !removed {
				// Starred by someone, or already gone. Either way it
				// is not ours to release.
				lastSurvivor = msg.GetID()
				continue
			}
			result.PurgedCount++
			released, failed := releaseAttachmentRefs(ctx, s, msg)
			result.AttachmentsReleased += released
			result.AttachmentFailures += failed
		}

		if !list.HasMore {
			break
		}
		cursor = lastSurvivor
	}

	if result.PurgedCount > 0 {
		s.logger.Debug("purged messages", "count", result.PurgedCount,
			"attachments_released", result.AttachmentsReleased)
	}

	return result, nil
}
