// Package store provides interfaces and types for private-message storage.
// Implementations are in store/mongo, store/memory, and store/postgres subpackages.
//
// # Architectural Principle: Conditional Operations, No Distributed Locks
//
// The two-party delete rule (a row is destroyed only once both sender and
// recipient have deleted it, and never while starred) is a classic
// check-then-act hazard: two parties deleting the same row concurrently can
// each observe "other party not deleted yet" and leave an orphaned row, or
// both promote to a hard delete. This package closes that race without any
// external lock service:
//
//  1. Conditional Mutations: HardDeleteEligible expresses the destruction
//     precondition (unstarred, both-deleted or forced) as part of the delete
//     statement itself. The database evaluates the condition atomically;
//     concurrent callers race safely because at most one delete matches.
//
//  2. Atomic Toggles: ToggleStar flips the flag inside a single statement
//     (UPDATE ... SET x = NOT x RETURNING x, or a Mongo pipeline update)
//     rather than read-modify-write from the client.
//
//  3. Transactional Batches: Multi-recipient fan-out uses CreateMessages,
//     which is all-or-nothing within a single chunk.
//
// This keeps the architecture simple (no Redis/Consul/etcd lock service),
// leans on database ACID guarantees, and makes concurrent delete/toggle
// traffic safe by construction.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for the message system.
// It provides separate operations for drafts (mutable) and messages
// (immutable content, flag mutations only).
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (conditional updates, transactions) rather than
// external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Draft operations - drafts are mutable messages being composed
	DraftStore

	// Message operations - sent messages with per-party flag mutations
	MessageStore

	// Trash watermark operations - per-user trash-emptied timestamps
	TrashStore

	// Maintenance operations - for background cleanup tasks
	MaintenanceStore

	// Stats operations - aggregate mailbox statistics
	StatsStore
}

// DraftStore provides operations for draft messages.
// Drafts are mutable and owned solely by their composer. A draft may carry
// several candidate recipients; the fan-out into one row per recipient
// happens at send time, never in the draft itself.
type DraftStore interface {
	// NewDraft creates a new empty draft for the given owner.
	// This is the only way to create a DraftMessage.
	NewDraft(ownerID string) DraftMessage

	// GetDraft retrieves a draft by ID.
	// Returns ErrNotFound if the draft doesn't exist.
	GetDraft(ctx context.Context, id string) (DraftMessage, error)

	// SaveDraft persists a draft. If the draft has no ID, a new one is
	// assigned; if it has one, the existing row is updated in place.
	// Editing a draft never creates a second row.
	SaveDraft(ctx context.Context, draft DraftMessage) (DraftMessage, error)

	// DeleteDraft permanently removes a draft.
	// Returns ErrNotFound if the draft doesn't exist.
	DeleteDraft(ctx context.Context, id string) error

	// ListDrafts returns all drafts for a user.
	ListDrafts(ctx context.Context, ownerID string, opts ListOptions) (*DraftList, error)
}

// MessageStoreReader provides read operations for messages.
type MessageStoreReader interface {
	// Get retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	Get(ctx context.Context, id string) (Message, error)

	// GetOwned retrieves a message by ID, restricted to rows where userID
	// is the sender or the recipient. Returns ErrNotFound when no such row
	// exists, including when the row exists but belongs to other users.
	GetOwned(ctx context.Context, id, userID string) (Message, error)

	// Find retrieves messages matching the filters.
	Find(ctx context.Context, filters []Filter, opts ListOptions) (*MessageList, error)

	// Count returns the count of messages matching the filters.
	Count(ctx context.Context, filters []Filter) (int64, error)
}

// MessageStoreMutator provides flag mutations for messages.
// Mutations are specific operations, not general setters.
type MessageStoreMutator interface {
	// MarkRead sets or clears the read marker. When read is true the marker
	// is set to readAt; when false it is cleared.
	MarkRead(ctx context.Context, id string, read bool, readAt time.Time) error

	// ToggleStar atomically flips the star flag for the given party and
	// returns the new value. Implementations must flip in a single
	// database operation, not read-modify-write.
	ToggleStar(ctx context.Context, id string, party Party) (bool, error)

	// MarkDeleted sets the given party's deleted timestamp and returns the
	// updated message so callers can inspect the other party's flags.
	MarkDeleted(ctx context.Context, id string, party Party, at time.Time) (Message, error)

	// HardDeleteEligible physically removes the row only if it is unstarred
	// by both parties AND (force OR deleted by both parties). The condition
	// is evaluated atomically by the database; concurrent callers race
	// safely. Returns true if the row was removed.
	HardDeleteEligible(ctx context.Context, id string, force bool) (bool, error)
}

// MessageStoreCreator provides message creation operations.
type MessageStoreCreator interface {
	// CreateMessage creates a new message from the given data.
	// Used internally when a draft is sent to a single recipient.
	CreateMessage(ctx context.Context, data MessageData) (Message, error)

	// CreateMessages creates multiple messages atomically.
	//
	// This operation MUST be all-or-nothing - either every row is created
	// or none are. Implementations should use:
	//   - MongoDB: insertMany with ordered=true
	//   - PostgreSQL: single multi-VALUES INSERT inside a transaction
	//
	// Send fan-out relies on this guarantee: a failed chunk leaves no
	// partial state and can be retried as a whole.
	//
	// Returns:
	//   - (messages, nil): All messages created successfully
	//   - (nil, error): Operation failed, no messages were created
	CreateMessages(ctx context.Context, data []MessageData) ([]Message, error)
}

// MessageStore provides operations for sent messages.
// Message content is immutable after send - only the per-party flags
// (read, starred, deleted) change, via the specific mutator operations.
//
// Composed of:
//   - MessageStoreReader: Read operations (Get, GetOwned, Find, Count)
//   - MessageStoreMutator: Flag mutations (MarkRead, ToggleStar, deletes)
//   - MessageStoreCreator: Creation operations (CreateMessage, CreateMessages)
type MessageStore interface {
	MessageStoreReader
	MessageStoreMutator
	MessageStoreCreator
}

// TrashStore tracks the per-user trash-emptied watermark.
// A soft-deleted message is visible in the trashbox only while its deletion
// timestamp is newer than the owner's watermark; advancing the watermark
// hides everything deleted before it without touching the rows.
type TrashStore interface {
	// TrashEmptiedAt returns the user's trash-emptied watermark.
	// Returns the zero time if the user has never emptied their trash.
	TrashEmptiedAt(ctx context.Context, userID string) (time.Time, error)

	// SetTrashEmptiedAt advances the user's trash-emptied watermark.
	SetTrashEmptiedAt(ctx context.Context, userID string, t time.Time) error
}

// MailboxCounts holds the message and unread counts for a mailbox.
type MailboxCounts struct {
	Total  int64
	Unread int64
}

// FindWithCounter is an optional interface that Store implementations can
// implement to return messages and total count in a single query.
// When implemented, list operations avoid a separate Count round-trip.
type FindWithCounter interface {
	// FindWithCount retrieves messages matching the filters and returns
	// both the messages and the total count in a single operation.
	FindWithCount(ctx context.Context, filters []Filter, opts ListOptions) (*MessageList, int64, error)
}

// BulkReadMarker is an optional interface for efficient bulk read marking.
// When implemented, marking a whole mailbox read uses a single database
// operation instead of N individual MarkRead calls.
type BulkReadMarker interface {
	// MarkAllRead sets the read marker on every unread message matching
	// the filters. Returns the number of messages marked.
	MarkAllRead(ctx context.Context, filters []Filter, readAt time.Time) (int64, error)
}

// MaintenanceStore provides operations for background maintenance tasks.
// These operations are designed to be safely called concurrently from
// multiple service instances without requiring distributed coordination.
type MaintenanceStore interface {
	// PurgeEligible atomically removes up to limit rows that are deleted by
	// both parties and starred by neither, returning the removed rows so
	// callers can release their attachments.
	//
	// Safe to call concurrently from multiple instances: each row is
	// removed exactly once (one caller succeeds, the others find no
	// matching rows).
	PurgeEligible(ctx context.Context, limit int) ([]Message, error)
}
