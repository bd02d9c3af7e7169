package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pmbox/pmbox/store"
)

// MarkRead sets or clears the read marker.
// Uses per-message locking to prevent concurrent mutation races.
func (s *Store) MarkRead(ctx context.Context, id string, read bool, readAt time.Time) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.messages.Load(id)
	if !ok {
		return store.ErrNotFound
	}

	orig := v.(*message)
	if orig.isDraft {
		return store.ErrNotFound
	}

	// Copy-on-write: clone, modify, store (atomic within lock)
	m := orig.clone()
	if read {
		at := readAt.UTC()
		m.readAt = &at
	} else {
		m.readAt = nil
	}
	m.updatedAt = time.Now().UTC()
	s.messages.Store(id, m)

	return nil
}

// ToggleStar atomically flips the star flag for the given party and returns
// the new value. The per-message lock makes the flip atomic; two concurrent
// toggles serialize and land back on the original value.
func (s *Store) ToggleStar(ctx context.Context, id string, party store.Party) (bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return false, store.ErrNotConnected
	}
	if id == "" {
		return false, store.ErrInvalidID
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.messages.Load(id)
	if !ok {
		return false, store.ErrNotFound
	}

	orig := v.(*message)
	m := orig.clone()
	var starred bool
	if party == store.PartySender {
		m.senderStarred = !m.senderStarred
		starred = m.senderStarred
	} else {
		m.recipientStarred = !m.recipientStarred
		starred = m.recipientStarred
	}
	m.updatedAt = time.Now().UTC()
	s.messages.Store(id, m)

	return starred, nil
}

// MarkDeleted sets the given party's deleted timestamp and returns the
// updated message. Setting an already-set flag refreshes its timestamp.
func (s *Store) MarkDeleted(ctx context.Context, id string, party store.Party, at time.Time) (store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}

	orig := v.(*message)
	if orig.isDraft {
		return nil, store.ErrNotFound
	}

	m := orig.clone()
	t := at.UTC()
	if party == store.PartySender {
		m.senderDeletedAt = &t
	} else {
		m.recipientDeletedAt = &t
	}
	m.updatedAt = time.Now().UTC()
	s.messages.Store(id, m)

	return m.clone(), nil
}

// HardDeleteEligible physically removes the row only if it is unstarred and
// (force OR deleted by both parties). The per-message lock makes the
// check-and-remove atomic: when both parties race their deletes, exactly one
// caller removes the row.
func (s *Store) HardDeleteEligible(ctx context.Context, id string, force bool) (bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return false, store.ErrNotConnected
	}
	if id == "" {
		return false, store.ErrInvalidID
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.messages.Load(id)
	if !ok {
		return false, store.ErrNotFound
	}

	m := v.(*message)
	if m.isDraft {
		return false, store.ErrNotFound
	}

	// Starred rows are exempt from destruction, force or not.
	if m.senderStarred || m.recipientStarred {
		return false, nil
	}
	if !force && (m.senderDeletedAt == nil || m.recipientDeletedAt == nil) {
		return false, nil
	}

	s.messages.Delete(id)
	s.msgLocks.Delete(id)
	return true, nil
}

// MarkAllRead sets the read marker on every unread message matching the
// filters. Implements store.BulkReadMarker.
func (s *Store) MarkAllRead(ctx context.Context, filters []store.Filter, readAt time.Time) (int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return 0, store.ErrNotConnected
	}

	var ids []string
	s.messages.Range(func(_, v any) bool {
		m := v.(*message)
		if !m.isDraft && m.readAt == nil && matchesFilters(m, filters) {
			ids = append(ids, m.id)
		}
		return true
	})

	var marked int64
	for _, id := range ids {
		if err := s.MarkRead(ctx, id, true, readAt); err == nil {
			marked++
		}
	}
	return marked, nil
}

// =============================================================================
// Creation
// =============================================================================

// CreateMessage creates a new sent message from the given data.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	now := time.Now().UTC()
	sentAt := data.SentAt.UTC()
	if data.SentAt.IsZero() {
		sentAt = now
	}
	m := &message{
		id:          uuid.New().String(),
		ownerID:     data.SenderID,
		senderID:    data.SenderID,
		recipientID: data.RecipientID,
		subject:     data.Subject,
		body:        data.Body,
		sentAt:      &sentAt,
		createdAt:   now,
		updatedAt:   now,
		isDraft:     false,
	}

	if data.Attachments != nil {
		m.attachments = make([]store.Attachment, len(data.Attachments))
		copy(m.attachments, data.Attachments)
	}

	s.messages.Store(m.id, m)
	return m.clone(), nil
}

// CreateMessages creates multiple messages atomically.
// For the memory store this is a simple loop with rollback on failure;
// production stores use real transactions.
func (s *Store) CreateMessages(ctx context.Context, data []store.MessageData) ([]store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	messages := make([]store.Message, len(data))
	for i, d := range data {
		msg, err := s.CreateMessage(ctx, d)
		if err != nil {
			for _, created := range messages[:i] {
				s.messages.Delete(created.GetID())
			}
			return nil, err
		}
		messages[i] = msg
	}
	return messages, nil
}
