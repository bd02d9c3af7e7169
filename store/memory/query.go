package memory

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
)

// Get retrieves a sent message by ID.
func (s *Store) Get(ctx context.Context, id string) (store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}

	m := v.(*message)
	if m.isDraft {
		return nil, store.ErrNotFound // drafts are not messages
	}

	return m.clone(), nil
}

// GetOwned retrieves a message by ID, restricted to rows where userID is the
// sender or the recipient. A row belonging to other users is indistinguishable
// from a missing row: both return ErrNotFound.
func (s *Store) GetOwned(ctx context.Context, id, userID string) (store.Message, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.GetSenderID() != userID && msg.GetRecipientID() != userID {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

// Find retrieves messages matching the filters.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	var all []*message
	s.messages.Range(func(_, v any) bool {
		m := v.(*message)
		if !m.isDraft && matchesFilters(m, filters) {
			all = append(all, m)
		}
		return true
	})

	// Sort
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortMessages(all, sortBy, opts.SortOrder)

	total := int64(len(all))

	// Apply cursor-based pagination using StartAfter
	start := 0
	if opts.StartAfter != "" {
		found := false
		for i, m := range all {
			if m.id == opts.StartAfter {
				start = i + 1 // Start after this message
				found = true
				break
			}
		}
		if !found {
			// Cursor not found (deleted). Return empty results since the page
			// boundary is unknown. Callers should re-query without a cursor.
			return &store.MessageList{Total: total}, nil
		}
	}

	end := start + opts.Limit
	if opts.Limit == 0 {
		end = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	result := all[start:end]
	messages := make([]store.Message, len(result))
	for i, m := range result {
		messages[i] = m.clone()
	}

	return &store.MessageList{
		Messages: messages,
		Total:    total,
		HasMore:  end < len(all),
	}, nil
}

// Count returns the count of messages matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return 0, store.ErrNotConnected
	}

	var count int64
	s.messages.Range(func(_, v any) bool {
		m := v.(*message)
		if !m.isDraft && matchesFilters(m, filters) {
			count++
		}
		return true
	})
	return count, nil
}

// FindWithCount retrieves messages and total count in a single pass.
// Implements store.FindWithCounter for optimized list operations.
func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, int64, error) {
	list, err := s.Find(ctx, filters, opts)
	if err != nil {
		return nil, 0, err
	}
	return list, list.Total, nil
}

// =============================================================================
// Filter Matching
// =============================================================================

func matchesFilters(m *message, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(m, f) {
			return false
		}
	}
	return true
}

func matchesFilter(m *message, f store.Filter) bool {
	op := f.Operator()

	// OR groups: satisfied when any group matches in full.
	if op == "or" {
		for _, group := range f.OrGroups() {
			if matchesFilters(m, group) {
				return true
			}
		}
		return false
	}

	key := f.Key()
	value := f.Value()

	// Timestamp markers: exists means "marker set"; comparisons use the
	// marker value and never match when the marker is unset.
	switch key {
	case "drafted_at":
		return matchesTimeFilter(m.draftedAt, op, value)
	case "sent_at":
		return matchesTimeFilter(m.sentAt, op, value)
	case "read_at":
		return matchesTimeFilter(m.readAt, op, value)
	case "sender_deleted_at":
		return matchesTimeFilter(m.senderDeletedAt, op, value)
	case "recipient_deleted_at":
		return matchesTimeFilter(m.recipientDeletedAt, op, value)
	}

	// Scalar fields.
	var fieldValue any
	switch key {
	case "id":
		fieldValue = m.id
	case "sender_id":
		fieldValue = m.senderID
	case "recipient_id":
		fieldValue = m.recipientID
	case "subject":
		fieldValue = m.subject
	case "body":
		fieldValue = m.body
	case "sender_starred":
		fieldValue = m.senderStarred
	case "recipient_starred":
		fieldValue = m.recipientStarred
	case "created_at":
		fieldValue = m.createdAt
	case "updated_at":
		fieldValue = m.updatedAt
	default:
		return true // Unknown field, skip filter
	}

	switch op {
	case "eq", "=", "":
		return fieldValue == value
	case "ne", "!=":
		return fieldValue != value
	case "lt", "<":
		return compareValues(fieldValue, value) < 0
	case "lte", "<=":
		return compareValues(fieldValue, value) <= 0
	case "gt", ">":
		return compareValues(fieldValue, value) > 0
	case "gte", ">=":
		return compareValues(fieldValue, value) >= 0
	case "exists":
		exists, _ := value.(bool)
		isEmpty := fieldValue == "" || fieldValue == nil
		return exists != isEmpty
	case "in":
		return valueInSet(fieldValue, value)
	default:
		return true
	}
}

// matchesTimeFilter evaluates filters against a nullable timestamp marker.
func matchesTimeFilter(t *time.Time, op string, value any) bool {
	if op == "exists" {
		exists, _ := value.(bool)
		return exists == (t != nil)
	}
	if t == nil {
		return false
	}
	other, ok := value.(time.Time)
	if !ok {
		return false
	}
	switch op {
	case "eq", "=", "":
		return t.Equal(other)
	case "ne", "!=":
		return !t.Equal(other)
	case "lt", "<":
		return t.Before(other)
	case "lte", "<=":
		return !t.After(other)
	case "gt", ">":
		return t.After(other)
	case "gte", ">=":
		return !t.Before(other)
	default:
		return true
	}
}

// valueInSet checks if a scalar value is in a set (slice) of values.
func valueInSet(fieldValue any, set any) bool {
	switch s := set.(type) {
	case []string:
		fv, ok := fieldValue.(string)
		if !ok {
			return false
		}
		for _, v := range s {
			if v == fv {
				return true
			}
		}
	case []any:
		for _, v := range s {
			if v == fieldValue {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			if av < bv {
				return -1
			} else if av > bv {
				return 1
			}
			return 0
		}
	case int64:
		if bv, ok := b.(int64); ok {
			if av < bv {
				return -1
			} else if av > bv {
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			if av.Before(bv) {
				return -1
			} else if av.After(bv) {
				return 1
			}
			return 0
		}
	}
	return 0
}

func sortMessages(msgs []*message, sortBy string, order store.SortOrder) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	if order == 0 {
		order = store.SortDesc
	}

	// Simple bubble sort for testing
	for i := 0; i < len(msgs)-1; i++ {
		for j := i + 1; j < len(msgs); j++ {
			shouldSwap := false
			switch sortBy {
			case "created_at":
				if order == store.SortAsc {
					shouldSwap = msgs[i].createdAt.After(msgs[j].createdAt)
				} else {
					shouldSwap = msgs[i].createdAt.Before(msgs[j].createdAt)
				}
			case "updated_at":
				if order == store.SortAsc {
					shouldSwap = msgs[i].updatedAt.After(msgs[j].updatedAt)
				} else {
					shouldSwap = msgs[i].updatedAt.Before(msgs[j].updatedAt)
				}
			case "subject":
				if order == store.SortAsc {
					shouldSwap = msgs[i].subject > msgs[j].subject
				} else {
					shouldSwap = msgs[i].subject < msgs[j].subject
				}
			}
			if shouldSwap {
				msgs[i], msgs[j] = msgs[j], msgs[i]
			}
		}
	}
}
