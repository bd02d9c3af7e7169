package pmbox

import (
	"context"
	"errors"
	"time"

	"github.com/pmbox/pmbox/store"
)

// ErrIteratorOutOfBounds is returned when Message() is called without a successful Next().
var ErrIteratorOutOfBounds = errors.New("pmbox: iterator out of bounds - call Next() first")

// MessageIterator provides streaming access to messages.
// Use Next() to advance, Message() to get current message.
//
// # Iterator vs List: When to Use Each
//
// Use MessageIterator (Stream) when:
//   - Processing large mailboxes where memory is a concern
//   - You need to process messages one at a time
//   - You want early termination without loading all data
//   - Building ETL pipelines or data exports
//
// Use MessageList (Open, Inbox, etc.) when:
//   - Building paginated UIs with total counts
//   - You need bulk operations (MarkRead, Delete all)
//   - Result sets are small and fit comfortably in memory
//   - You need random access to results
//
// Example:
//
//	iter, _ := mb.Stream(ctx, BoxInbox, FilterUnread, StreamOptions{BatchSize: 100})
//	for {
//	    hasNext, err := iter.Next(ctx)
//	    if err != nil || !hasNext {
//	        break
//	    }
//	    msg, _ := iter.Message()
//	    // process message - can use msg.ToggleRead(), msg.Delete(), etc.
//	}
//
// Ownership: MessageIterator holds no resources requiring cleanup.
// There is no Close method. Simply stop calling Next() when done.
//
// Thread Safety: MessageIterator is NOT safe for concurrent use. Each iterator
// should be used by a single goroutine. If you need concurrent access, create
// separate iterators for each goroutine.
type MessageIterator interface {
	// Next advances to the next message.
	// Returns (true, nil) if there is a message available.
	// Returns (false, nil) if iteration is done (no more messages).
	// Returns (false, error) if an error occurred (e.g., service disconnected, context cancelled).
	// Must be called before accessing Message().
	Next(ctx context.Context) (bool, error)

	// Message returns the current message with full mutation capabilities.
	// Must be called after a successful Next() call that returned (true, nil).
	// Returns ErrIteratorOutOfBounds if called before Next() or after iteration ends.
	Message() (Message, error)
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	// BatchSize is the number of messages fetched per batch.
	// Larger batches reduce round-trips but use more memory.
	// Default: 100
	BatchSize int
}

// batchFetchFunc fetches the next batch of messages.
type batchFetchFunc func(ctx context.Context) ([]store.Message, error)

// batchIterator provides shared cursor-based batch fetching logic.
// Uses StartAfter for proper keyset pagination, avoiding the issues with
// offset-based pagination when data changes between fetches.
type batchIterator struct {
	mailbox   *userMailbox
	fetch     batchFetchFunc
	setCursor func(lastID string)
	batchSize int
	batch     []store.Message
	batchIdx  int
	done      bool
	fetched   bool
}

func (it *batchIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// Verify service is still connected on each iteration
	if err := it.mailbox.checkAccess(); err != nil {
		it.done = true
		return false, err
	}

	// Check if we need to fetch next batch
	if it.batchIdx >= len(it.batch) {
		// Check if we've exhausted all results
		if it.fetched && len(it.batch) < it.batchSize {
			it.done = true
			return false, nil
		}

		// Fetch next batch
		messages, err := it.fetch(ctx)
		if err != nil {
			it.done = true
			return false, err
		}

		it.batch = messages
		it.batchIdx = 0
		it.fetched = true

		// Set cursor for next batch using last message ID
		if len(it.batch) > 0 {
			it.setCursor(it.batch[len(it.batch)-1].GetID())
		}

		// Check if this batch is empty
		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *batchIterator) Message() (Message, error) {
	if it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		return nil, ErrIteratorOutOfBounds
	}
	return newMessage(it.batch[it.batchIdx-1], it.mailbox), nil
}

// messageIterator implements MessageIterator for mailbox queries.
type messageIterator struct {
	batchIterator
	storeRef store.MessageStore
	filters  []store.Filter
	opts     store.ListOptions
}

// newMessageIterator creates a new iterator for the given filters.
func newMessageIterator(mailbox *userMailbox, filters []store.Filter, streamOpts StreamOptions) *messageIterator {
	batchSize := streamOpts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	it := &messageIterator{
		storeRef: mailbox.service.store,
		filters:  filters,
		opts: store.ListOptions{
			Limit:     batchSize,
			SortBy:    "CreatedAt",
			SortOrder: store.SortDesc,
		},
	}
	it.mailbox = mailbox
	it.batchSize = batchSize
	it.fetch = func(ctx context.Context) ([]store.Message, error) {
		list, err := it.storeRef.Find(ctx, it.filters, it.opts)
		if err != nil {
			return nil, err
		}
		return list.Messages, nil
	}
	it.setCursor = func(lastID string) {
		it.opts.StartAfter = lastID
	}
	return it
}

// draftIterator implements MessageIterator over the draftbox. Drafts live in
// their own store, so batches come from ListDrafts and each draft is
// presented through the read-only message view.
type draftIterator struct {
	batchIterator
	storeRef store.DraftStore
	opts     store.ListOptions
}

func newDraftIterator(mailbox *userMailbox, streamOpts StreamOptions) *draftIterator {
	batchSize := streamOpts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	it := &draftIterator{
		storeRef: mailbox.service.store,
		opts: store.ListOptions{
			Limit:     batchSize,
			SortBy:    "CreatedAt",
			SortOrder: store.SortDesc,
		},
	}
	it.mailbox = mailbox
	it.batchSize = batchSize
	it.fetch = func(ctx context.Context) ([]store.Message, error) {
		list, err := it.storeRef.ListDrafts(ctx, mailbox.userID, it.opts)
		if err != nil {
			return nil, err
		}
		messages := make([]store.Message, len(list.Drafts))
		for i, d := range list.Drafts {
			messages[i] = newDraftView(d)
		}
		return messages, nil
	}
	it.setCursor = func(lastID string) {
		it.opts.StartAfter = lastID
	}
	return it
}

// Stream returns an iterator over the named mailbox. Mailbox and filter
// resolution follow the same rules as Open: an unknown mailbox falls back to
// the inbox and an unknown filter falls back to "all".
func (m *userMailbox) Stream(ctx context.Context, mailbox, filter string, opts StreamOptions) (MessageIterator, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	box := store.ResolveMailbox(mailbox)
	if box == store.MailboxDraftbox {
		return newDraftIterator(m, opts), nil
	}

	rf := store.ResolveReadFilter(filter)

	var emptiedAt time.Time
	if box == store.MailboxTrashbox {
		t, err := m.service.store.TrashEmptiedAt(ctx, m.userID)
		if err != nil {
			return nil, &PersistenceError{Op: "get trash watermark", Err: err}
		}
		emptiedAt = t
	}

	filters := store.MailboxFilters(box, rf, m.userID, emptiedAt)
	return newMessageIterator(m, filters, opts), nil
}
