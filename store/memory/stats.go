package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
)

// MailboxStats returns aggregate statistics for a user's mailboxes.
// Single pass over the map; each message is classified against every
// mailbox predicate.
func (s *Store) MailboxStats(ctx context.Context, userID string, trashEmptiedAt time.Time) (*store.MailboxStats, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	stats := &store.MailboxStats{
		Boxes: make(map[store.Mailbox]store.MailboxCounts, len(store.Mailboxes)),
	}

	predicates := make(map[store.Mailbox][]store.Filter, len(store.Mailboxes))
	for _, box := range store.Mailboxes {
		predicates[box] = store.MailboxFilters(box, store.FilterAll, userID, trashEmptiedAt)
	}

	s.messages.Range(func(_, v any) bool {
		m := v.(*message)
		if m.isDraft {
			if m.ownerID == userID {
				stats.DraftCount++
				c := stats.Boxes[store.MailboxDraftbox]
				c.Total++
				stats.Boxes[store.MailboxDraftbox] = c
			}
			return true
		}
		for _, box := range store.Mailboxes {
			if box == store.MailboxDraftbox {
				continue
			}
			if !matchesFilters(m, predicates[box]) {
				continue
			}
			c := stats.Boxes[box]
			c.Total++
			if m.readAt == nil {
				c.Unread++
			}
			stats.Boxes[box] = c
			switch box {
			case store.MailboxInbox:
				stats.TotalMessages++
				if m.readAt == nil {
					stats.UnreadCount++
				}
			case store.MailboxOutbox:
				stats.TotalMessages++
			}
		}
		return true
	})

	return stats, nil
}

// PurgeEligible atomically removes up to limit rows deleted by both parties
// and starred by neither, returning the removed rows.
//
// Safe to call concurrently - each row is removed exactly once via
// LoadAndDelete.
func (s *Store) PurgeEligible(ctx context.Context, limit int) ([]store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	var candidates []string
	s.messages.Range(func(key, v any) bool {
		m := v.(*message)
		if m.isDraft {
			return true
		}
		if m.senderStarred || m.recipientStarred {
			return true
		}
		if m.senderDeletedAt == nil || m.recipientDeletedAt == nil {
			return true
		}
		candidates = append(candidates, key.(string))
		return limit <= 0 || len(candidates) < limit
	})

	var removed []store.Message
	for _, id := range candidates {
		if v, loaded := s.messages.LoadAndDelete(id); loaded {
			removed = append(removed, v.(*message).clone())
			s.msgLocks.Delete(id)
		}
	}
	return removed, nil
}
