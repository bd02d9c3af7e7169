package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pmbox/pmbox/store"
)

// MailboxStats returns aggregate statistics for a user's mailboxes using a
// single query with a CTE for consistent point-in-time results. Each SUM
// mirrors one mailbox predicate.
func (s *Store) MailboxStats(ctx context.Context, userID string, trashEmptiedAt time.Time) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		WITH msgs AS (
			SELECT sender_id, recipient_id, read_at,
			       sender_starred, recipient_starred,
			       recipient_deleted_at, is_draft
			FROM %s
			WHERE sender_id = $1 OR recipient_id = $1
		)
		SELECT
			COALESCE(SUM(CASE WHEN recipient_id = $1 AND recipient_deleted_at IS NULL AND NOT is_draft THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN recipient_id = $1 AND recipient_deleted_at IS NULL AND NOT is_draft AND read_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sender_id = $1 AND recipient_deleted_at IS NULL AND NOT is_draft THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sender_id = $1 AND recipient_deleted_at IS NULL AND NOT is_draft AND read_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_draft AND sender_id = $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ((recipient_id = $1 AND recipient_starred) OR (sender_id = $1 AND sender_starred)) AND recipient_deleted_at IS NULL AND NOT is_draft THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ((recipient_id = $1 AND recipient_starred) OR (sender_id = $1 AND sender_starred)) AND recipient_deleted_at IS NULL AND NOT is_draft AND read_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN recipient_id = $1 AND recipient_deleted_at > $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN recipient_id = $1 AND recipient_deleted_at > $2 AND read_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM msgs
	`, s.opts.table)

	var (
		inboxTotal, inboxUnread     int64
		outboxTotal, outboxUnread   int64
		draftTotal                  int64
		starboxTotal, starboxUnread int64
		trashTotal, trashUnread     int64
	)

	err := s.db.QueryRowContext(ctx, query, userID, trashEmptiedAt).Scan(
		&inboxTotal, &inboxUnread,
		&outboxTotal, &outboxUnread,
		&draftTotal,
		&starboxTotal, &starboxUnread,
		&trashTotal, &trashUnread,
	)
	if err != nil {
		return nil, fmt.Errorf("query mailbox stats: %w", err)
	}

	return &store.MailboxStats{
		TotalMessages: inboxTotal + outboxTotal,
		UnreadCount:   inboxUnread,
		DraftCount:    draftTotal,
		Boxes: map[store.Mailbox]store.MailboxCounts{
			store.MailboxInbox:    {Total: inboxTotal, Unread: inboxUnread},
			store.MailboxOutbox:   {Total: outboxTotal, Unread: outboxUnread},
			store.MailboxDraftbox: {Total: draftTotal},
			store.MailboxStarbox:  {Total: starboxTotal, Unread: starboxUnread},
			store.MailboxTrashbox: {Total: trashTotal, Unread: trashUnread},
		},
	}, nil
}

// PurgeEligible atomically removes up to limit rows deleted by both parties
// and starred by neither, returning the removed rows so the caller can
// release their attachments.
//
// Concurrent callers race safely: DELETE ... RETURNING removes each row
// exactly once.
func (s *Store) PurgeEligible(ctx context.Context, limit int) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s
			WHERE is_draft = false
			  AND NOT sender_starred AND NOT recipient_starred
			  AND sender_deleted_at IS NOT NULL AND recipient_deleted_at IS NOT NULL
			ORDER BY updated_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, s.opts.table, s.opts.table, messageColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("purge eligible: %w", err)
	}
	defer rows.Close()

	var removed []store.Message
	for rows.Next() {
		msg, err := s.scanMessageFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purged message: %w", err)
		}
		removed = append(removed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged messages: %w", err)
	}

	return removed, nil
}
