package pmbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pmbox/pmbox/store"
	"github.com/pmbox/pmbox/store/memory"
)

// mustCompose creates a draft or panics. Test helper for cases where
// compose cannot fail (service connected, valid user).
func mustCompose(mb Mailbox) Draft {
	d, err := mb.Compose()
	if err != nil {
		panic(fmt.Sprintf("compose failed: %v", err))
	}
	return d
}

// setupTestService creates a connected service backed by the in-memory
// store and registers cleanup.
func setupTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	ctx := context.Background()

	opts = append([]Option{WithStore(memory.New())}, opts...)
	svc, err := New(opts...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		svc.Close(context.Background())
	})
	return svc
}

// sendMessage sends a simple message and returns the receipt.
func sendMessage(t *testing.T, mb Mailbox, subject string, recipients ...string) *SendReceipt {
	t.Helper()
	draft := mustCompose(mb)
	draft.SetRecipients(recipients...).SetSubject(subject).SetBody("Test body")
	receipt, err := draft.Send(context.Background())
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	return receipt
}

// stubRecipientResolver resolves user IDs from a static name map.
type stubRecipientResolver map[string]string

func (r stubRecipientResolver) Resolve(_ context.Context, userID string) (*Recipient, error) {
	name, ok := r[userID]
	if !ok {
		return nil, nil
	}
	return &Recipient{UserID: userID, Name: name}, nil
}

func (r stubRecipientResolver) ResolveBatch(_ context.Context, userIDs []string) ([]*Recipient, error) {
	out := make([]*Recipient, len(userIDs))
	for i, id := range userIDs {
		if name, ok := r[id]; ok {
			out[i] = &Recipient{UserID: id, Name: name}
		}
	}
	return out, nil
}

// stubClassResolver expands class references from a static member map.
type stubClassResolver map[string][]string

func (c stubClassResolver) Members(_ context.Context, classRef string) ([]string, error) {
	members, ok := c[classRef]
	if !ok {
		return nil, fmt.Errorf("class not found: %s", classRef)
	}
	return members, nil
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := New()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := New(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("expected service to start disconnected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("connect and close", func(t *testing.T) {
		svc, err := New(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected IsConnected true after Connect")
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("failed to close: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected IsConnected false after Close")
		}
	})

	t.Run("double connect fails", func(t *testing.T) {
		svc, _ := New(WithStore(memory.New()))
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		defer svc.Close(ctx)

		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("double close is safe", func(t *testing.T) {
		svc, _ := New(WithStore(memory.New()))
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("first close failed: %v", err)
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
	})

	t.Run("operations before connect fail", func(t *testing.T) {
		svc, _ := New(WithStore(memory.New()))
		mb := svc.Client("user1")

		if _, err := mb.Compose(); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Compose, got %v", err)
		}
		if _, err := mb.Get(ctx, "some-id"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Get, got %v", err)
		}
		if _, err := mb.Inbox(ctx, ListOptions{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Inbox, got %v", err)
		}
	})
}

func TestUserMailbox(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	t.Run("UserID", func(t *testing.T) {
		mb := svc.Client("user42")
		if mb.UserID() != "user42" {
			t.Errorf("expected user42, got %s", mb.UserID())
		}
	})

	t.Run("invalid user ID rejected", func(t *testing.T) {
		for _, bad := range []string{"", "user 1", "user:1", "user*"} {
			mb := svc.Client(bad)
			if _, err := mb.Compose(); !errors.Is(err, ErrInvalidUserID) {
				t.Errorf("Client(%q).Compose: expected ErrInvalidUserID, got %v", bad, err)
			}
			if _, err := mb.Inbox(ctx, ListOptions{}); !errors.Is(err, ErrInvalidUserID) {
				t.Errorf("Client(%q).Inbox: expected ErrInvalidUserID, got %v", bad, err)
			}
		}
	})
}

func TestComposeSend(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	t.Run("fan-out creates one row per recipient", func(t *testing.T) {
		sender := svc.Client("alice")
		receipt := sendMessage(t, sender, "Hello", "bob", "carol", "dave")

		if len(receipt.MessageIDs) != 3 {
			t.Errorf("expected 3 message IDs, got %d", len(receipt.MessageIDs))
		}
		if len(receipt.DeliveredTo) != 3 {
			t.Errorf("expected 3 delivered recipients, got %d", len(receipt.DeliveredTo))
		}
		if receipt.Mode != SendModeMultiple {
			t.Errorf("expected mode multiple, got %s", receipt.Mode)
		}
		if receipt.SentAt.IsZero() {
			t.Error("expected non-zero SentAt")
		}

		// Each recipient sees exactly their own copy.
		for _, rcpt := range []string{"bob", "carol", "dave"} {
			inbox, err := svc.Client(rcpt).Inbox(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("inbox for %s: %v", rcpt, err)
			}
			if len(inbox.All()) != 1 {
				t.Errorf("expected 1 message in %s's inbox, got %d", rcpt, len(inbox.All()))
				continue
			}
			msg := inbox.All()[0]
			if msg.GetSenderID() != "alice" {
				t.Errorf("expected sender alice, got %s", msg.GetSenderID())
			}
			if msg.GetRecipientID() != rcpt {
				t.Errorf("expected recipient %s, got %s", rcpt, msg.GetRecipientID())
			}
			if !msg.Unread() {
				t.Error("expected message to arrive unread")
			}
		}

		// The sender's outbox shows all fan-out rows.
		outbox, err := sender.Outbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("outbox: %v", err)
		}
		if len(outbox.All()) != 3 {
			t.Errorf("expected 3 messages in outbox, got %d", len(outbox.All()))
		}
	})

	t.Run("duplicate recipients collapse to one row", func(t *testing.T) {
		sender := svc.Client("dupe-sender")
		receipt := sendMessage(t, sender, "Dupes", "x1", "x1", "x1")
		if len(receipt.MessageIDs) != 1 {
			t.Errorf("expected 1 message ID after dedup, got %d", len(receipt.MessageIDs))
		}
	})

	t.Run("single recipient is individual mode", func(t *testing.T) {
		receipt := sendMessage(t, svc.Client("solo-sender"), "Solo", "solo-rcpt")
		if receipt.Mode != SendModeIndividual {
			t.Errorf("expected mode individual, got %s", receipt.Mode)
		}
	})

	t.Run("send validation", func(t *testing.T) {
		mb := svc.Client("validator")

		d := mustCompose(mb)
		d.SetSubject("No recipients").SetBody("Body")
		if _, err := d.Send(ctx); !errors.Is(err, ErrEmptyRecipients) {
			t.Errorf("expected ErrEmptyRecipients, got %v", err)
		}

		d = mustCompose(mb)
		d.SetRecipients("someone").SetBody("Body")
		if _, err := d.Send(ctx); !errors.Is(err, ErrEmptySubject) {
			t.Errorf("expected ErrEmptySubject, got %v", err)
		}

		d = mustCompose(mb)
		d.SetRecipients("someone").SetSubject("Subject")
		if _, err := d.Send(ctx); !errors.Is(err, ErrEmptyBody) {
			t.Errorf("expected ErrEmptyBody, got %v", err)
		}
	})
}

func TestSendModes(t *testing.T) {
	ctx := context.Background()

	t.Run("recipient field with comma list", func(t *testing.T) {
		svc := setupTestService(t)
		mb := svc.Client("sender")

		d := mustCompose(mb)
		if err := d.SetRecipientField(ctx, "u1, u2, u3"); err != nil {
			t.Fatalf("SetRecipientField: %v", err)
		}
		if d.Mode() != SendModeMultiple {
			t.Errorf("expected mode multiple, got %s", d.Mode())
		}
		d.SetSubject("List").SetBody("Body")

		receipt, err := d.Send(ctx)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if len(receipt.DeliveredTo) != 3 {
			t.Errorf("expected 3 recipients, got %d", len(receipt.DeliveredTo))
		}
	})

	t.Run("class expands at send time", func(t *testing.T) {
		classes := stubClassResolver{"teachers": {"t1", "t2"}}
		svc := setupTestService(t, WithClassResolver(classes))
		mb := svc.Client("sender")

		d := mustCompose(mb)
		if err := d.SetRecipientField(ctx, "class:teachers"); err != nil {
			t.Fatalf("SetRecipientField: %v", err)
		}
		if d.Mode() != SendModeClass {
			t.Errorf("expected mode class, got %s", d.Mode())
		}
		d.SetSubject("Staff notice").SetBody("Body")

		receipt, err := d.Send(ctx)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if len(receipt.DeliveredTo) != 2 {
			t.Errorf("expected 2 class members, got %d", len(receipt.DeliveredTo))
		}
		if receipt.Mode != SendModeClass {
			t.Errorf("expected mode class on receipt, got %s", receipt.Mode)
		}
	})

	t.Run("class without resolver fails", func(t *testing.T) {
		svc := setupTestService(t)
		d := mustCompose(svc.Client("sender"))
		err := d.SetRecipientField(ctx, "class:teachers")
		if !errors.Is(err, ErrClassResolverNotConfigured) {
			t.Errorf("expected ErrClassResolverNotConfigured, got %v", err)
		}
	})

	t.Run("unknown recipient rejected by resolver", func(t *testing.T) {
		resolver := stubRecipientResolver{"known": "Known User"}
		svc := setupTestService(t, WithRecipientResolver(resolver))
		d := mustCompose(svc.Client("sender"))
		d.SetRecipients("known", "ghost").SetSubject("Hi").SetBody("Body")

		if _, err := d.Send(ctx); !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("expected ErrInvalidRecipient, got %v", err)
		}
	})
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	mb := svc.Client("drafter")

	t.Run("save assigns ID", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetSubject("WIP").SetBody("Not done yet")

		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if saved.ID() == "" {
			t.Error("expected saved draft to have an ID")
		}
	})

	t.Run("incomplete draft is saveable", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetBody("only a body, no subject or recipients")
		if _, err := d.Save(ctx); err != nil {
			t.Errorf("unexpected error saving incomplete draft: %v", err)
		}
	})

	t.Run("edit updates in place", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetSubject("Original")
		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		draftID := saved.ID()

		before, err := mb.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}

		edit, err := mb.EditDraft(ctx, draftID)
		if err != nil {
			t.Fatalf("edit draft: %v", err)
		}
		edit.SetSubject("Revised")
		if _, err := edit.Save(ctx); err != nil {
			t.Fatalf("re-save: %v", err)
		}

		after, err := mb.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}
		if after.Total() != before.Total() {
			t.Errorf("editing created a new draft: %d -> %d", before.Total(), after.Total())
		}

		reloaded, err := mb.EditDraft(ctx, draftID)
		if err != nil {
			t.Fatalf("reload draft: %v", err)
		}
		if reloaded.Subject() != "Revised" {
			t.Errorf("expected subject Revised, got %q", reloaded.Subject())
		}
	})

	t.Run("discard removes draft", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetSubject("Doomed")
		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}

		if err := mb.Discard(ctx, saved.ID()); err != nil {
			t.Fatalf("discard: %v", err)
		}
		if _, err := mb.EditDraft(ctx, saved.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after discard, got %v", err)
		}
	})

	t.Run("discard missing draft", func(t *testing.T) {
		if err := mb.Discard(ctx, "no-such-draft"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("cannot edit another user's draft", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetSubject("Private")
		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}

		other := svc.Client("intruder")
		if _, err := other.EditDraft(ctx, saved.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for foreign draft, got %v", err)
		}
		if err := other.Discard(ctx, saved.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound discarding foreign draft, got %v", err)
		}
	})

	t.Run("send removes saved draft", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetRecipients("rcpt").SetSubject("Ready").SetBody("Body")
		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		draftID := saved.ID()

		if _, err := saved.Send(ctx); err != nil {
			t.Fatalf("send: %v", err)
		}
		if _, err := mb.EditDraft(ctx, draftID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected draft gone after send, got %v", err)
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	receipt := sendMessage(t, svc.Client("sender"), "For reader", "reader")
	msgID := receipt.MessageIDs[0]

	t.Run("get own message", func(t *testing.T) {
		msg, err := svc.Client("reader").Get(ctx, msgID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if msg.GetSubject() != "For reader" {
			t.Errorf("expected subject 'For reader', got %q", msg.GetSubject())
		}
		if !msg.Unread() {
			t.Error("plain Get must not mark the message read")
		}
	})

	t.Run("WithMarkRead marks recipient copy read", func(t *testing.T) {
		msg, err := svc.Client("reader").Get(ctx, msgID, WithMarkRead())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if msg.Unread() {
			t.Error("expected message read after Get with WithMarkRead")
		}
	})

	t.Run("sender sees own copy via Get", func(t *testing.T) {
		if _, err := svc.Client("sender").Get(ctx, msgID); err != nil {
			t.Errorf("sender should see the row: %v", err)
		}
	})

	t.Run("third party gets not found", func(t *testing.T) {
		_, err := svc.Client("stranger").Get(ctx, msgID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown ID", func(t *testing.T) {
		_, err := svc.Client("reader").Get(ctx, "missing-id")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestOpenResolution(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	sendMessage(t, svc.Client("sender"), "One", "opener")
	sendMessage(t, svc.Client("sender"), "Two", "opener")
	mb := svc.Client("opener")

	// Mark one of the two read.
	inbox, err := mb.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox.All()) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(inbox.All()))
	}
	if _, err := mb.Get(ctx, inbox.All()[0].GetID(), WithMarkRead()); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	t.Run("unknown mailbox falls back to inbox", func(t *testing.T) {
		list, err := mb.Open(ctx, "no-such-box", FilterAll, ListOptions{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if len(list.All()) != 2 {
			t.Errorf("expected inbox fallback with 2 messages, got %d", len(list.All()))
		}
	})

	t.Run("unknown filter falls back to all", func(t *testing.T) {
		list, err := mb.Open(ctx, BoxInbox, "bogus-filter", ListOptions{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if len(list.All()) != 2 {
			t.Errorf("expected all-filter fallback with 2 messages, got %d", len(list.All()))
		}
	})

	t.Run("unread filter", func(t *testing.T) {
		list, err := mb.Open(ctx, BoxInbox, FilterUnread, ListOptions{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if len(list.All()) != 1 {
			t.Errorf("expected 1 unread message, got %d", len(list.All()))
		}
	})

	t.Run("draftbox through Open", func(t *testing.T) {
		d := mustCompose(mb)
		d.SetSubject("Draft via open")
		if _, err := d.Save(ctx); err != nil {
			t.Fatalf("save: %v", err)
		}

		list, err := mb.Open(ctx, BoxDraftbox, FilterAll, ListOptions{})
		if err != nil {
			t.Fatalf("open draftbox: %v", err)
		}
		if len(list.All()) != 1 {
			t.Errorf("expected 1 draft, got %d", len(list.All()))
		}
	})

	t.Run("query limit clamped", func(t *testing.T) {
		list, err := mb.Inbox(ctx, ListOptions{Limit: 100000})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(list.All()) > DefaultMaxQueryLimit {
			t.Errorf("expected at most %d results, got %d", DefaultMaxQueryLimit, len(list.All()))
		}
	})
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	for i := 0; i < 5; i++ {
		sendMessage(t, svc.Client("sender"), fmt.Sprintf("Msg %d", i), "streamer")
	}

	mb := svc.Client("streamer")
	iter, err := mb.Stream(ctx, BoxInbox, FilterAll, StreamOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var count int
	for {
		ok, err := iter.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		msg, err := iter.Message()
		if err != nil {
			t.Fatalf("message: %v", err)
		}
		if msg.GetRecipientID() != "streamer" {
			t.Errorf("unexpected recipient %s", msg.GetRecipientID())
		}
		count++
	}
	if count != 5 {
		t.Errorf("expected to stream 5 messages, got %d", count)
	}
}

func TestGracefulShutdown(t *testing.T) {
	ctx := context.Background()
	memStore := memory.New()
	svc, err := New(WithStore(memStore), WithShutdownTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// Compose before starting the goroutine so the send can begin even if
	// Close wins the race to flip the state.
	mb := svc.Client("sender")
	draft := mustCompose(mb)
	draft.SetRecipients("recipient").SetSubject("In flight").SetBody("Body")

	done := make(chan error, 1)
	go func() {
		_, err := draft.Send(ctx)
		done <- err
	}()

	// Give the send a moment to acquire the semaphore.
	time.Sleep(10 * time.Millisecond)

	if err := svc.Close(ctx); err != nil {
		t.Errorf("close: %v", err)
	}

	select {
	case err := <-done:
		// Either the send completed before shutdown, or it was rejected
		// because the service disconnected. Both are acceptable.
		if err != nil && !errors.Is(err, ErrNotConnected) && !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("unexpected send error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("send did not finish after close")
	}
}

var _ store.Store = (*memory.Store)(nil)
