package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmbox/pmbox/store"
)

func (s *Store) MarkRead(ctx context.Context, id string, read bool, readAt time.Time) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var query string
	var args []any
	now := time.Now().UTC()

	if read {
		query = fmt.Sprintf(`
			UPDATE %s SET read_at = $1, updated_at = $2
			WHERE id = $3 AND is_draft = false
		`, s.opts.table)
		args = []any{readAt, now, id}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET read_at = NULL, updated_at = $1
			WHERE id = $2 AND is_draft = false
		`, s.opts.table)
		args = []any{now, id}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (s *Store) ToggleStar(ctx context.Context, id string, party store.Party) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	col := "recipient_starred"
	if party == store.PartySender {
		col = "sender_starred"
	}

	// Single-statement flip so concurrent toggles never lose an update.
	query := fmt.Sprintf(`
		UPDATE %s SET %s = NOT %s, updated_at = $1
		WHERE id = $2 AND is_draft = false
		RETURNING %s
	`, s.opts.table, col, col, col)

	var starred bool
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC(), id).Scan(&starred)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("toggle star: %w", err)
	}

	return starred, nil
}

// markDeletedQuery renders the soft-delete update for one party's
// deleted-at column, returning the full updated row.
func markDeletedQuery(table, col string) string {
	return fmt.Sprintf(`
		UPDATE %s SET %s = $1, updated_at = $2
		WHERE id = $3 AND is_draft = false
		RETURNING %s
	`, table, col, messageColumns)
}

func (s *Store) MarkDeleted(ctx context.Context, id string, party store.Party, at time.Time) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	col := "recipient_deleted_at"
	if party == store.PartySender {
		col = "sender_deleted_at"
	}
	query := markDeletedQuery(s.opts.table, col)

	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, at, time.Now().UTC(), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mark deleted: %w", err)
	}

	return msg, nil
}

func (s *Store) HardDeleteEligible(ctx context.Context, id string, force bool) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Eligibility is evaluated inside the DELETE itself so two callers
	// racing on the same row resolve at the database, not here. A star by
	// either party always blocks removal, force included.
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = $1 AND is_draft = false
		  AND NOT sender_starred AND NOT recipient_starred
		  AND ($2 OR (sender_deleted_at IS NOT NULL AND recipient_deleted_at IS NOT NULL))
	`, s.opts.table)

	result, err := s.db.ExecContext(ctx, query, id, force)
	if err != nil {
		return false, fmt.Errorf("hard delete: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return rows > 0, nil
}

func (s *Store) MarkAllRead(ctx context.Context, filters []store.Filter, readAt time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args, err := s.buildWhereClause(filters)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET read_at = $%d, updated_at = $%d
		WHERE %s AND read_at IS NULL AND is_draft = false
	`, s.opts.table, len(args)+1, len(args)+2, where)
	args = append(args, readAt, time.Now().UTC())

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return count, nil
}

func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	msg, query, args, err := s.insertArgs(data, now)
	if err != nil {
		return nil, err
	}

	var returnedID string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&returnedID); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (s *Store) CreateMessages(ctx context.Context, data []store.MessageData) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Use a transaction for atomic batch insert
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	messages := make([]store.Message, 0, len(data))

	for _, d := range data {
		msg, query, args, err := s.insertArgs(d, now)
		if err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return messages, nil
}

// insertArgs builds the INSERT statement and the in-memory message for one
// row of fan-out.
func (s *Store) insertArgs(data store.MessageData, now time.Time) (*message, string, []any, error) {
	attachmentsJSON, err := s.marshalAttachments(data.Attachments)
	if err != nil {
		return nil, "", nil, fmt.Errorf("marshal attachments: %w", err)
	}

	id := uuid.New().String()
	sentAt := data.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, sender_id, recipient_id, recipient_ids, subject, body,
		                attachments, sent_at, is_draft, created_at, updated_at)
		VALUES ($1, $2, $3, '{}', $4, $5, $6, $7, false, $8, $9)
		RETURNING id
	`, s.opts.table)

	args := []any{
		id, data.SenderID, data.RecipientID, data.Subject, data.Body,
		attachmentsJSON, sentAt, now, now,
	}

	msg := &message{
		id:          id,
		senderID:    data.SenderID,
		recipientID: data.RecipientID,
		subject:     data.Subject,
		body:        data.Body,
		attachments: data.Attachments,
		sentAt:      &sentAt,
		createdAt:   now,
		updatedAt:   now,
	}

	return msg, query, args, nil
}
