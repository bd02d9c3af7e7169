package pmbox

import (
	"context"

	"github.com/pmbox/pmbox/store"
)

// MessageUpdater provides mutation operations on a single message.
type MessageUpdater interface {
	// ToggleRead flips the read state. currentState is the caller's view
	// of the current state ("read" or "unread"); the new state is returned.
	ToggleRead(ctx context.Context, currentState string) (string, error)

	// ToggleStar flips the star for the viewing party and reports the new state.
	ToggleStar(ctx context.Context) (bool, error)

	// Delete soft-deletes the message for the viewing party. When force is
	// true, or when both parties have deleted it, the row is removed unless
	// the counterparty still has it starred.
	Delete(ctx context.Context, force bool) (*DeleteResult, error)
}

// Message provides access to a message with mutation capabilities.
//
// This is the application-level message type returned by Mailbox operations.
// It wraps store.Message (the storage-level type) and adds user-scoped
// mutations. Read methods (GetID, GetSubject, etc.) come from store.Message;
// mutation methods come from MessageUpdater and are scoped to the owning
// user's mailbox.
//
// Important: Message is a snapshot of state at retrieval time. After
// mutations, getter methods (GetReadAt, GetSenderStarred, etc.) may return
// stale values. To get fresh state after mutations, call Mailbox.Get() again.
type Message interface {
	store.Message
	MessageUpdater

	// Starred reports whether the viewing user has starred this message.
	Starred() bool
	// Unread reports whether this message is unread from the viewing
	// user's perspective. Drafts are never unread.
	Unread() bool
}

// message is the internal implementation of Message.
// Authorization is verified once at creation time and cached.
type message struct {
	store.Message
	mailbox    *userMailbox
	authorized bool // set to true when authorization is verified at creation
}

// newMessage wraps a store.Message with mailbox operations.
// Authorization is verified by the caller before calling this.
func newMessage(msg store.Message, m *userMailbox) *message {
	return &message{
		Message:    msg,
		mailbox:    m,
		authorized: true,
	}
}

func (m *message) Starred() bool {
	p, ok := store.PartyOf(m.Message, m.mailbox.userID)
	if !ok {
		return false
	}
	return store.IsStarredBy(m.Message, p)
}

func (m *message) Unread() bool {
	return !store.IsRead(m.Message)
}

// ToggleRead flips the read state.
// Delegates to userMailbox.ToggleRead to ensure consistent event publishing.
func (m *message) ToggleRead(ctx context.Context, currentState string) (string, error) {
	return m.mailbox.ToggleRead(ctx, m.GetID(), currentState)
}

// ToggleStar flips the star for the viewing party.
// Delegates to userMailbox.ToggleStar for consistent behavior.
func (m *message) ToggleStar(ctx context.Context) (bool, error) {
	return m.mailbox.ToggleStar(ctx, m.GetID())
}

// Delete soft-deletes the message for the viewing party.
// Delegates to userMailbox.Delete for consistent behavior.
func (m *message) Delete(ctx context.Context, force bool) (*DeleteResult, error) {
	return m.mailbox.Delete(ctx, m.GetID(), force)
}

// Compile-time check that message implements Message.
var _ Message = (*message)(nil)

// MessageListReader provides read-only access to a paginated list of messages.
type MessageListReader interface {
	// All returns all messages in this list.
	All() []Message
	// Total returns the total count of messages matching the query (not just this page).
	Total() int64
	// HasMore returns true if there are more messages after this page.
	HasMore() bool
	// NextCursor returns the cursor for fetching the next page.
	NextCursor() string
	// IDs returns the IDs of all messages in this list.
	IDs() []string
}

// MessageListMutator provides bulk mutation operations on a list of messages.
type MessageListMutator interface {
	// MarkRead marks all messages in this list as read.
	// Messages that are already read (or are drafts) succeed without a store call.
	MarkRead(ctx context.Context) (*BulkResult, error)
	// MarkUnread marks all messages in this list as unread.
	// Drafts are skipped; they have no meaningful read state.
	MarkUnread(ctx context.Context) (*BulkResult, error)
	// Delete soft-deletes all messages in this list for the viewing party.
	Delete(ctx context.Context, force bool) (*BulkResult, error)
}

// MessageList provides access to a paginated list of messages with bulk operations.
//
// Composed of:
//   - MessageListReader: Read-only access (All, Total, HasMore, NextCursor, IDs)
//   - MessageListMutator: Bulk mutations (MarkRead, MarkUnread, Delete)
type MessageList interface {
	MessageListReader
	MessageListMutator
}

// messageList is the internal implementation of MessageList.
type messageList struct {
	messages   []Message
	total      int64
	hasMore    bool
	nextCursor string
	mailbox    *userMailbox
}

// wrapMessageList converts a store.MessageList to a pmbox.MessageList.
func wrapMessageList(list *store.MessageList, m *userMailbox) MessageList {
	messages := make([]Message, len(list.Messages))
	for i, msg := range list.Messages {
		messages[i] = newMessage(msg, m)
	}
	return &messageList{
		messages:   messages,
		total:      list.Total,
		hasMore:    list.HasMore,
		nextCursor: list.NextCursor,
		mailbox:    m,
	}
}

// Data access methods

func (l *messageList) All() []Message     { return l.messages }
func (l *messageList) Total() int64       { return l.total }
func (l *messageList) HasMore() bool      { return l.hasMore }
func (l *messageList) NextCursor() string { return l.nextCursor }

func (l *messageList) IDs() []string {
	ids := make([]string, len(l.messages))
	for i, msg := range l.messages {
		ids[i] = msg.GetID()
	}
	return ids
}

// Bulk operations

func (l *messageList) MarkRead(ctx context.Context) (*BulkResult, error) {
	return l.bulkSetRead(ctx, true)
}

func (l *messageList) MarkUnread(ctx context.Context) (*BulkResult, error) {
	return l.bulkSetRead(ctx, false)
}

// bulkSetRead drives each message toward the target read state.
// Messages already in the target state succeed without touching the store.
func (l *messageList) bulkSetRead(ctx context.Context, read bool) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.messages))}

	for _, msg := range l.messages {
		res := OperationResult{ID: msg.GetID()}
		switch {
		case ctx.Err() != nil:
			res.Error = ctx.Err()
		case store.IsDraft(msg):
			// Drafts carry no read flag; treat as read and move on.
			res.Success = true
			res.NewState = StateRead
		case store.IsRead(msg) == read:
			res.Success = true
			res.NewState = readStateLabel(read)
		default:
			state, err := l.mailbox.batchToggleRead(ctx, msg.GetID(), !read)
			if err != nil {
				res.Error = err
			} else {
				res.Success = true
				res.NewState = state
			}
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

func (l *messageList) Delete(ctx context.Context, force bool) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.messages))}

	for _, msg := range l.messages {
		res := OperationResult{ID: msg.GetID()}
		if ctx.Err() != nil {
			res.Error = ctx.Err()
			result.Results = append(result.Results, res)
			continue
		}
		dr, err := msg.Delete(ctx, force)
		if err != nil {
			res.Error = err
		} else {
			res.Success = true
			res.NewState = dr.Outcome
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// Compile-time check that messageList implements MessageList.
var _ MessageList = (*messageList)(nil)
