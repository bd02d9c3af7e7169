package store

import (
	"context"
	"maps"
	"time"
)

// MailboxStats holds aggregate statistics for a user's mailboxes.
type MailboxStats struct {
	// TotalMessages is the total number of non-draft messages visible to
	// the user (inbox plus outbox).
	TotalMessages int64
	// UnreadCount is the number of unread messages in the inbox.
	UnreadCount int64
	// DraftCount is the number of drafts.
	DraftCount int64
	// Boxes contains per-mailbox message counts.
	Boxes map[Mailbox]MailboxCounts
}

// Clone returns a deep copy of the stats.
func (s *MailboxStats) Clone() *MailboxStats {
	c := &MailboxStats{
		TotalMessages: s.TotalMessages,
		UnreadCount:   s.UnreadCount,
		DraftCount:    s.DraftCount,
	}
	if s.Boxes != nil {
		c.Boxes = make(map[Mailbox]MailboxCounts, len(s.Boxes))
		maps.Copy(c.Boxes, s.Boxes)
	}
	return c
}

// StatsStore provides aggregate mailbox statistics.
type StatsStore interface {
	// MailboxStats returns aggregate statistics for a user's mailboxes.
	// trashEmptiedAt is the user's trash-emptied watermark, applied to the
	// trashbox count. Implementations should prefer a single query
	// (MongoDB $facet, PostgreSQL conditional aggregation) over one Count
	// per mailbox, but per-box Count calls are an acceptable fallback.
	MailboxStats(ctx context.Context, userID string, trashEmptiedAt time.Time) (*MailboxStats, error)
}
