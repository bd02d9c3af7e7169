// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pmbox/pmbox/store"
)

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.FindWithCounter = (*Store)(nil)
var _ store.BulkReadMarker = (*Store)(nil)

// messageColumns is the canonical column list matching scanMessage.
const messageColumns = `id, sender_id, recipient_id, recipient_ids, subject, body, attachments,
       drafted_at, sent_at, read_at, sender_starred, recipient_starred,
       sender_deleted_at, recipient_deleted_at, is_draft, created_at, updated_at`

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// trashTable is the per-user trash watermark table.
func (s *Store) trashTable() string {
	return s.opts.table + "_trash"
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	// Create message table
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			sender_id VARCHAR(255) NOT NULL,
			recipient_id VARCHAR(255) NOT NULL DEFAULT '',
			recipient_ids TEXT[] NOT NULL DEFAULT '{}',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			attachments JSONB DEFAULT '[]',
			drafted_at TIMESTAMPTZ,
			sent_at TIMESTAMPTZ,
			read_at TIMESTAMPTZ,
			sender_starred BOOLEAN NOT NULL DEFAULT FALSE,
			recipient_starred BOOLEAN NOT NULL DEFAULT FALSE,
			sender_deleted_at TIMESTAMPTZ,
			recipient_deleted_at TIMESTAMPTZ,
			is_draft BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	// Create trash watermark table
	createTrash := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) PRIMARY KEY,
			emptied_at TIMESTAMPTZ NOT NULL
		)
	`, s.trashTable())

	if _, err := s.db.ExecContext(ctx, createTrash); err != nil {
		return fmt.Errorf("create trash table: %w", err)
	}

	// Create indexes
	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_id)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_recipient ON %s(recipient_id)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sent ON %s(sent_at DESC) WHERE sent_at IS NOT NULL`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_is_draft ON %s(is_draft)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unread ON %s(recipient_id) WHERE read_at IS NULL AND NOT is_draft`, s.opts.table, s.opts.table),
		// Compound indexes for common mailbox scans
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_recipient_created ON %s(recipient_id, created_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender_draft ON %s(sender_id, is_draft, created_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_trash ON %s(recipient_id, recipient_deleted_at) WHERE recipient_deleted_at IS NOT NULL`, s.opts.table, s.opts.table),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Draft Operations
// =============================================================================

func (s *Store) NewDraft(ownerID string) store.DraftMessage {
	now := time.Now().UTC()
	return &message{
		senderID:  ownerID,
		isDraft:   true,
		draftedAt: &now,
	}
}

func (s *Store) GetDraft(ctx context.Context, id string) (store.DraftMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	// Validate UUID
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1 AND is_draft = true
	`, messageColumns, s.opts.table)

	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get draft: %w", err)
	}

	return msg, nil
}

func (s *Store) SaveDraft(ctx context.Context, draft store.DraftMessage) (store.DraftMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	msg, ok := draft.(*message)
	if !ok {
		// Convert from interface
		msg = &message{
			id:           draft.GetID(),
			senderID:     draft.GetOwnerID(),
			recipientIDs: draft.GetRecipientIDs(),
			subject:      draft.GetSubject(),
			body:         draft.GetBody(),
			attachments:  draft.GetAttachments(),
			isDraft:      true,
		}
	}

	// Saving a draft stamps the last-edit time.
	now := time.Now().UTC()
	msg.updatedAt = now
	msg.draftedAt = &now
	msg.sentAt = nil
	msg.isDraft = true

	attachmentsJSON, err := s.marshalAttachments(msg.attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}

	if msg.id == "" {
		// Insert new draft
		msg.id = uuid.New().String()
		msg.createdAt = now

		query := fmt.Sprintf(`
			INSERT INTO %s (id, sender_id, recipient_id, recipient_ids, subject, body,
			                attachments, drafted_at, is_draft, created_at, updated_at)
			VALUES ($1, $2, '', $3, $4, $5, $6, $7, true, $8, $9)
			RETURNING id
		`, s.opts.table)

		err := s.db.QueryRowContext(ctx, query,
			msg.id, msg.senderID, pq.Array(msg.recipientIDs), msg.subject, msg.body,
			attachmentsJSON, msg.draftedAt, msg.createdAt, msg.updatedAt,
		).Scan(&msg.id)
		if err != nil {
			return nil, fmt.Errorf("insert draft: %w", err)
		}
	} else {
		// Update existing draft
		query := fmt.Sprintf(`
			UPDATE %s
			SET subject = $1, body = $2, recipient_ids = $3, attachments = $4,
			    drafted_at = $5, sent_at = NULL, updated_at = $6
			WHERE id = $7 AND is_draft = true
			RETURNING id
		`, s.opts.table)

		var returnedID string
		err := s.db.QueryRowContext(ctx, query,
			msg.subject, msg.body, pq.Array(msg.recipientIDs), attachmentsJSON,
			msg.draftedAt, msg.updatedAt, msg.id,
		).Scan(&returnedID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, store.ErrNotFound
			}
			return nil, fmt.Errorf("update draft: %w", err)
		}
	}

	return msg, nil
}

func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND is_draft = true`, s.opts.table)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
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

func (s *Store) ListDrafts(ctx context.Context, ownerID string, opts store.ListOptions) (*store.DraftList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Apply defaults
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	// Count total
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sender_id = $1 AND is_draft = true`, s.opts.table)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, ownerID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count drafts: %w", err)
	}

	// Query drafts
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE sender_id = $1 AND is_draft = true
		ORDER BY drafted_at DESC
		LIMIT $2 OFFSET $3
	`, messageColumns, s.opts.table)

	rows, err := s.db.QueryContext(ctx, query, ownerID, opts.Limit+1, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []store.DraftMessage
	for rows.Next() {
		msg, err := s.scanMessageFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, msg)
	}

	hasMore := len(drafts) > opts.Limit
	if hasMore {
		drafts = drafts[:opts.Limit]
	}

	return &store.DraftList{
		Drafts:  drafts,
		Total:   total,
		HasMore: hasMore,
	}, nil
}

// =============================================================================
// Trash watermark
// =============================================================================

func (s *Store) TrashEmptiedAt(ctx context.Context, userID string) (time.Time, error) {
	if err := s.checkConnected(); err != nil {
		return time.Time{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT emptied_at FROM %s WHERE user_id = $1`, s.trashTable())

	var emptiedAt time.Time
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&emptiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get trash watermark: %w", err)
	}

	return emptiedAt, nil
}

func (s *Store) SetTrashEmptiedAt(ctx context.Context, userID string, t time.Time) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, emptied_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET emptied_at = EXCLUDED.emptied_at
	`, s.trashTable())

	if _, err := s.db.ExecContext(ctx, query, userID, t); err != nil {
		return fmt.Errorf("set trash watermark: %w", err)
	}

	return nil
}
