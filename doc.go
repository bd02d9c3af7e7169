// Package pmbox provides a private messaging library for Go.
//
// Messages flow between users identified by IDs. Each user sees five
// virtual mailboxes (inbox, outbox, draftbox, starbox, trashbox) computed
// from per-recipient message rows; sending a draft fans out one row per
// recipient, and each party manages read, star, and delete state on their
// own copy. All functionality is exposed via interfaces, with pluggable
// storage backends (MongoDB, PostgreSQL, in-memory).
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	store := memory.New()
//
//	// Create messaging service
//	svc, err := pmbox.New(
//	    pmbox.WithStore(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Get a mailbox client for a user
//	mb := svc.Client("user123")
//
//	// Send a message
//	draft, _ := mb.Compose()
//	receipt, err := draft.
//	    SetSubject("Hello").
//	    SetBody("World").
//	    SetRecipients("user456").
//	    Send(ctx)
//
// # Mailbox Operations
//
//   - Compose/EditDraft/Discard: Create, revise, and drop drafts
//   - Get: Retrieve a message by ID
//   - Open/Inbox/Outbox/Starred/Trash: List mailboxes
//   - ToggleRead/ToggleStar/Delete: Per-message state changes
//   - BatchStarOrRead: Apply star/read toggles to many messages at once
//   - EmptyTrash: Hide everything currently in the trashbox
//   - Stream: Iterator-based streaming over a mailbox
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - In-memory (store/memory) - for testing
//
// # Events
//
// pmbox provides typed events for message lifecycle notifications.
// Events use the github.com/rbaliyan/event/v3 library which supports
// multiple transports (Redis Streams, NATS, Kafka, in-memory channel).
//
// To enable events, pass WithRedisClient or WithEventTransport when creating the service:
//
//	svc, err := pmbox.New(
//	    pmbox.WithStore(store),
//	    pmbox.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access per-service
// events via the Events() method:
//
//	events := svc.Events()
//	events.MessageSent.Subscribe(ctx, handler)
//	events.MessageRead.Subscribe(ctx, handler)
//	events.MessageDeleted.Subscribe(ctx, handler)
//
// Available events:
//   - MessageSent - when a draft is sent (one event per fan-out)
//   - MessageRead - when a message's read state changes
//   - MessageDeleted - when a message is deleted
//   - TrashEmptied - when a user empties their trash
package pmbox
