package store

import (
	"fmt"
	"time"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

// ListOptions configures message listing.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  SortOrder
	StartAfter string // cursor-based pagination
}

// Filter represents a query filter with a field key, comparison operator, and value.
// Filters in a slice combine with AND; use AnyOf for OR groups.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator (eq, ne, gt, gte, lt, lte, in, exists, or).
func (f Filter) Operator() string { return f.operator }

// OrGroups returns the alternative filter groups of an "or" filter.
// Each group combines with AND; the groups combine with OR.
// Returns nil for any other operator.
func (f Filter) OrGroups() [][]Filter {
	if f.operator != "or" {
		return nil
	}
	groups, _ := f.value.([][]Filter)
	return groups
}

// FilterBuilder builds filters for a specific message field.
// Use MessageFilter() to create one, then chain a comparison method:
//
//	filter, err := store.MessageFilter("SentAt").GreaterThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

// validOperators is the set of supported filter operators.
var validOperators = map[string]bool{
	"eq":     true,
	"ne":     true,
	"gt":     true,
	"gte":    true,
	"lt":     true,
	"lte":    true,
	"in":     true,
	"exists": true,
}

// NewFilter creates a filter with the given key, operator, and value.
// The key must be a valid message field (validated via MessageFieldKey).
// The operator must be one of: eq, ne, gt, gte, lt, lte, in, exists.
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := MessageFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// AnyOf returns a filter satisfied when at least one of the given groups
// matches. Filters within a group combine with AND. Used for predicates
// like the starbox, which spans both sides of a message.
func AnyOf(groups ...[]Filter) Filter {
	return Filter{operator: "or", value: groups}
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build("eq", v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build("ne", v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build("gt", v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build("gte", v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build("lt", v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build("lte", v) }
func (b *FilterBuilder) In(v ...any) (Filter, error)            { return b.build("in", v) }
func (b *FilterBuilder) Exists(v bool) (Filter, error)          { return b.build("exists", v) }

// MessageFilter returns a filter builder for message fields.
func MessageFilter(field string) *FilterBuilder {
	key, ok := MessageFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("unsupported field: %s", field)}
	}
	return &FilterBuilder{key: key}
}

// MessageFieldKey maps field names to storage keys.
func MessageFieldKey(field string) (string, bool) {
	switch field {
	case "ID", "id":
		return "id", true
	case "SenderID", "sender_id":
		return "sender_id", true
	case "RecipientID", "recipient_id":
		return "recipient_id", true
	case "Subject", "subject":
		return "subject", true
	case "Body", "body":
		return "body", true
	case "DraftedAt", "drafted_at":
		return "drafted_at", true
	case "SentAt", "sent_at":
		return "sent_at", true
	case "ReadAt", "read_at":
		return "read_at", true
	case "SenderStarred", "sender_starred":
		return "sender_starred", true
	case "RecipientStarred", "recipient_starred":
		return "recipient_starred", true
	case "SenderDeletedAt", "sender_deleted_at":
		return "sender_deleted_at", true
	case "RecipientDeletedAt", "recipient_deleted_at":
		return "recipient_deleted_at", true
	case "CreatedAt", "created_at":
		return "created_at", true
	case "UpdatedAt", "updated_at":
		return "updated_at", true
	default:
		return "", false
	}
}

// MessageOrderingKey returns the storage key for sorting.
func MessageOrderingKey(field string) (string, bool) {
	return MessageFieldKey(field)
}

// Convenience filter functions

// SenderIs returns a filter for messages from a specific sender.
func SenderIs(senderID string) Filter {
	f, _ := MessageFilter("SenderID").Equal(senderID)
	return f
}

// RecipientIs returns a filter for messages to a specific recipient.
func RecipientIs(recipientID string) Filter {
	f, _ := MessageFilter("RecipientID").Equal(recipientID)
	return f
}

// IsDrafted returns a filter for messages whose draft marker is set.
func IsDrafted() Filter {
	f, _ := MessageFilter("DraftedAt").Exists(true)
	return f
}

// NotDraft returns a filter excluding drafts. A sent row never carries a
// draft marker, so "draft marker unset" is exactly "not a draft".
func NotDraft() Filter {
	f, _ := MessageFilter("DraftedAt").Exists(false)
	return f
}

// NotSent returns a filter for messages whose sent marker is unset.
func NotSent() Filter {
	f, _ := MessageFilter("SentAt").Exists(false)
	return f
}

// Unread returns a filter for messages whose read marker is unset.
func Unread() Filter {
	f, _ := MessageFilter("ReadAt").Exists(false)
	return f
}

// StarredBy returns a filter for messages starred by the given party.
func StarredBy(p Party) Filter {
	field := "RecipientStarred"
	if p == PartySender {
		field = "SenderStarred"
	}
	f, _ := MessageFilter(field).Equal(true)
	return f
}

// DeletedByRecipient returns a filter for messages the recipient has
// soft-deleted.
func DeletedByRecipient() Filter {
	f, _ := MessageFilter("RecipientDeletedAt").Exists(true)
	return f
}

// NotDeletedByRecipient returns a filter excluding messages the recipient
// has soft-deleted.
func NotDeletedByRecipient() Filter {
	f, _ := MessageFilter("RecipientDeletedAt").Exists(false)
	return f
}

// DeletedAfter returns a filter for messages whose recipient deletion
// timestamp is strictly after t. Used with the trash-emptied watermark.
func DeletedAfter(t time.Time) Filter {
	f, _ := MessageFilter("RecipientDeletedAt").GreaterThan(t)
	return f
}

// SentAfter returns a filter for messages sent strictly after t.
func SentAfter(t time.Time) Filter {
	f, _ := MessageFilter("SentAt").GreaterThan(t)
	return f
}
