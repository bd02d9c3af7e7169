package pmbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rbaliyan/event/v3"

	"github.com/pmbox/pmbox/store"
)

// statsEntry holds a cached stats snapshot for a single user.
type statsEntry struct {
	mu        sync.Mutex
	stats     *store.MailboxStats
	updatedAt time.Time
}

// getOrRefreshStats returns cached stats if within TTL, otherwise refreshes from the store.
func (s *service) getOrRefreshStats(ctx context.Context, userID string) (*store.MailboxStats, error) {
	now := time.Now()

	// Fast path: return cached entry if within TTL.
	if val, ok := s.statsCache.Load(userID); ok {
		entry := val.(*statsEntry)
		entry.mu.Lock()
		if entry.stats != nil && now.Sub(entry.updatedAt) < s.opts.statsRefreshInterval {
			clone := entry.stats.Clone()
			entry.mu.Unlock()
			return clone, nil
		}
		entry.mu.Unlock()
	}

	// Slow path: fetch from store and cache. The trash-emptied watermark
	// bounds the trashbox count so emptied trash stays invisible.
	emptiedAt, err := s.store.TrashEmptiedAt(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "get trash watermark", Err: err}
	}
	stats, err := s.store.MailboxStats(ctx, userID, emptiedAt)
	if err != nil {
		return nil, &PersistenceError{Op: "get mailbox stats", Err: err}
	}
	if stats.Boxes == nil {
		stats.Boxes = make(map[store.Mailbox]store.MailboxCounts, len(store.Mailboxes))
	}

	entry := &statsEntry{
		stats:     stats,
		updatedAt: now,
	}
	s.statsCache.Store(userID, entry)

	return stats.Clone(), nil
}

// updateCachedStats applies a mutation to a cached stats entry if it exists.
// If no cache entry exists for the user, this is a no-op.
func (s *service) updateCachedStats(userID string, fn func(stats *store.MailboxStats)) {
	val, ok := s.statsCache.Load(userID)
	if !ok {
		return
	}
	entry := val.(*statsEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.stats != nil {
		fn(entry.stats)
	}
}

// subscribeStatsHandlers wires the stats cache to the service's events so
// counts stay roughly current between TTL refreshes.
func (s *service) subscribeStatsHandlers(ctx context.Context) error {
	if err := s.events.MessageSent.Subscribe(ctx, s.onMessageSent); err != nil {
		return fmt.Errorf("subscribe MessageSent: %w", err)
	}
	if err := s.events.MessageRead.Subscribe(ctx, s.onMessageRead); err != nil {
		return fmt.Errorf("subscribe MessageRead: %w", err)
	}
	if err := s.events.MessageDeleted.Subscribe(ctx, s.onMessageDeleted); err != nil {
		return fmt.Errorf("subscribe MessageDeleted: %w", err)
	}
	if err := s.events.TrashEmptied.Subscribe(ctx, s.onTrashEmptied); err != nil {
		return fmt.Errorf("subscribe TrashEmptied: %w", err)
	}
	return nil
}

// onMessageSent handles the MessageSent event for stats cache updates.
// Increments outbox counts for the sender and inbox counts for each recipient.
func (s *service) onMessageSent(_ context.Context, _ event.Event[MessageSentEvent], data MessageSentEvent) error {
	s.updateCachedStats(data.SenderID, func(stats *store.MailboxStats) {
		n := int64(len(data.RecipientIDs))
		stats.TotalMessages += n
		c := stats.Boxes[store.MailboxOutbox]
		c.Total += n
		stats.Boxes[store.MailboxOutbox] = c
	})

	for _, recipientID := range data.RecipientIDs {
		s.updateCachedStats(recipientID, func(stats *store.MailboxStats) {
			stats.TotalMessages++
			stats.UnreadCount++
			c := stats.Boxes[store.MailboxInbox]
			c.Total++
			c.Unread++
			stats.Boxes[store.MailboxInbox] = c
		})
	}

	return nil
}

// onMessageRead handles the MessageRead event for stats cache updates.
// Adjusts the global unread count. Per-box unread is corrected at next TTL refresh.
func (s *service) onMessageRead(_ context.Context, _ event.Event[MessageReadEvent], data MessageReadEvent) error {
	s.updateCachedStats(data.UserID, func(stats *store.MailboxStats) {
		if data.Read {
			if stats.UnreadCount > 0 {
				stats.UnreadCount--
			}
		} else {
			stats.UnreadCount++
		}
	})
	return nil
}

// onMessageDeleted handles the MessageDeleted event for stats cache updates.
// Decrements total count. Per-box counts are corrected at next TTL refresh.
func (s *service) onMessageDeleted(_ context.Context, _ event.Event[MessageDeletedEvent], data MessageDeletedEvent) error {
	s.updateCachedStats(data.UserID, func(stats *store.MailboxStats) {
		if stats.TotalMessages > 0 {
			stats.TotalMessages--
		}
	})
	return nil
}

// onTrashEmptied handles the TrashEmptied event for stats cache updates.
// EmptyTrash already zeroes the issuing user's cached trashbox synchronously;
// this handler covers services sharing a bus with the one that emptied.
func (s *service) onTrashEmptied(_ context.Context, _ event.Event[TrashEmptiedEvent], data TrashEmptiedEvent) error {
	s.updateCachedStats(data.UserID, func(stats *store.MailboxStats) {
		c := stats.Boxes[store.MailboxTrashbox]
		stats.TotalMessages -= c.Total
		if stats.TotalMessages < 0 {
			stats.TotalMessages = 0
		}
		stats.Boxes[store.MailboxTrashbox] = store.MailboxCounts{}
	})
	return nil
}

// Stats returns aggregate statistics for this user's mailboxes.
func (m *userMailbox) Stats(ctx context.Context) (*store.MailboxStats, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.getOrRefreshStats(ctx, m.userID)
}
