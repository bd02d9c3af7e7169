package pmbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/pmbox/pmbox/store"
	"github.com/pmbox/pmbox/store/memory"
)

// setupStatsServiceWithEvents creates a service with channel transport and a
// long TTL, so between refreshes the cache moves only through event handlers.
func setupStatsServiceWithEvents(t *testing.T) Service {
	t.Helper()
	svc, err := New(
		WithStore(memory.New()),
		WithStatsRefreshInterval(1*time.Hour),
		WithEventTransport(channel.New()),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	t.Run("empty mailbox returns zero stats", func(t *testing.T) {
		mb := svc.Client("alice")
		stats, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.TotalMessages != 0 || stats.UnreadCount != 0 || stats.DraftCount != 0 {
			t.Errorf("expected zero stats, got total=%d unread=%d drafts=%d",
				stats.TotalMessages, stats.UnreadCount, stats.DraftCount)
		}
	})

	t.Run("stats reflect sent messages", func(t *testing.T) {
		sendMessage(t, svc.Client("sender"), "Hello Bob", "bob")

		bobStats, err := svc.Client("bob").Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bobStats.TotalMessages != 1 {
			t.Errorf("expected bob total=1, got %d", bobStats.TotalMessages)
		}
		if bobStats.UnreadCount != 1 {
			t.Errorf("expected bob unread=1, got %d", bobStats.UnreadCount)
		}
		inboxCounts := bobStats.Boxes[store.MailboxInbox]
		if inboxCounts.Total != 1 || inboxCounts.Unread != 1 {
			t.Errorf("expected inbox total=1 unread=1, got total=%d unread=%d",
				inboxCounts.Total, inboxCounts.Unread)
		}

		senderStats, err := svc.Client("sender").Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if senderStats.TotalMessages != 1 {
			t.Errorf("expected sender total=1, got %d", senderStats.TotalMessages)
		}
		outboxCounts := senderStats.Boxes[store.MailboxOutbox]
		if outboxCounts.Total != 1 {
			t.Errorf("expected outbox total=1, got %d", outboxCounts.Total)
		}
	})

	t.Run("stats reflect drafts", func(t *testing.T) {
		mb := svc.Client("carol")
		d := mustCompose(mb)
		d.SetSubject("Draft subject")
		d.SetBody("Draft body")
		if _, err := d.Save(ctx); err != nil {
			t.Fatalf("save draft: %v", err)
		}

		stats, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.DraftCount != 1 {
			t.Errorf("expected drafts=1, got %d", stats.DraftCount)
		}
		if stats.Boxes[store.MailboxDraftbox].Total != 1 {
			t.Errorf("expected draftbox total=1, got %d", stats.Boxes[store.MailboxDraftbox].Total)
		}
	})
}

func TestStatsCaching(t *testing.T) {
	ctx := context.Background()

	t.Run("returns cached result within TTL", func(t *testing.T) {
		st := memory.New()
		svc, err := New(
			WithStore(st),
			WithStatsRefreshInterval(1*time.Hour),
		)
		if err != nil {
			t.Fatalf("create service: %v", err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer svc.Close(ctx)

		mb := svc.Client("user1")

		// First call seeds cache
		stats1, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats1.TotalMessages != 0 {
			t.Fatalf("expected 0, got %d", stats1.TotalMessages)
		}

		// Add a row directly to the store, bypassing the service
		if _, err := st.CreateMessages(ctx, []store.MessageData{{
			SenderID:    "other",
			RecipientID: "user1",
			Subject:     "Test",
			Body:        "Body",
			SentAt:      time.Now().UTC(),
		}}); err != nil {
			t.Fatalf("create message: %v", err)
		}

		// Second call should return the cached (stale) result
		stats2, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats2.TotalMessages != 0 {
			t.Errorf("expected cached total=0, got %d", stats2.TotalMessages)
		}
	})

	t.Run("refreshes after TTL expires", func(t *testing.T) {
		st := memory.New()
		svc, err := New(
			WithStore(st),
			WithStatsRefreshInterval(1*time.Millisecond),
		)
		if err != nil {
			t.Fatalf("create service: %v", err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer svc.Close(ctx)

		mb := svc.Client("user1")

		// Seed cache
		stats1, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats1.TotalMessages != 0 {
			t.Fatalf("expected 0, got %d", stats1.TotalMessages)
		}

		// Add a row directly
		if _, err := st.CreateMessages(ctx, []store.MessageData{{
			SenderID:    "other",
			RecipientID: "user1",
			Subject:     "Test",
			Body:        "Body",
			SentAt:      time.Now().UTC(),
		}}); err != nil {
			t.Fatalf("create message: %v", err)
		}

		// Wait for TTL to expire
		time.Sleep(5 * time.Millisecond)

		// Should refresh and see the new row
		stats2, err := mb.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats2.TotalMessages != 1 {
			t.Errorf("expected refreshed total=1, got %d", stats2.TotalMessages)
		}
	})
}

func TestStatsEventUpdates(t *testing.T) {
	ctx := context.Background()
	svc := setupStatsServiceWithEvents(t)

	alice := svc.Client("alice")
	bob := svc.Client("bob")

	// Seed both caches
	_, _ = alice.Stats(ctx)
	_, _ = bob.Stats(ctx)

	t.Run("send updates sender and recipient cache", func(t *testing.T) {
		sendMessage(t, alice, "Event test", "bob")

		// Channel transport delivers asynchronously via goroutines
		time.Sleep(50 * time.Millisecond)

		aliceStats, _ := alice.Stats(ctx)
		if aliceStats.TotalMessages != 1 {
			t.Errorf("expected alice total=1, got %d", aliceStats.TotalMessages)
		}

		bobStats, _ := bob.Stats(ctx)
		if bobStats.TotalMessages != 1 {
			t.Errorf("expected bob total=1, got %d", bobStats.TotalMessages)
		}
		if bobStats.UnreadCount != 1 {
			t.Errorf("expected bob unread=1, got %d", bobStats.UnreadCount)
		}
	})

	t.Run("read decrements unread", func(t *testing.T) {
		inbox, err := bob.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		msgs := inbox.All()
		if len(msgs) == 0 {
			t.Fatal("expected messages in bob's inbox")
		}

		if _, err := bob.ToggleRead(ctx, msgs[0].GetID(), StateUnread); err != nil {
			t.Fatalf("mark read: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		bobStats, _ := bob.Stats(ctx)
		if bobStats.UnreadCount != 0 {
			t.Errorf("expected bob unread=0, got %d", bobStats.UnreadCount)
		}
	})

	t.Run("delete decrements total", func(t *testing.T) {
		sendMessage(t, alice, "Delete test", "bob")
		time.Sleep(50 * time.Millisecond)

		inbox, _ := bob.Inbox(ctx, ListOptions{})
		msgs := inbox.All()
		if len(msgs) == 0 {
			t.Fatal("expected messages")
		}

		bobStatsBefore, _ := bob.Stats(ctx)
		totalBefore := bobStatsBefore.TotalMessages

		if _, err := bob.Delete(ctx, msgs[0].GetID(), false); err != nil {
			t.Fatalf("delete: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		bobStatsAfter, _ := bob.Stats(ctx)
		if bobStatsAfter.TotalMessages != totalBefore-1 {
			t.Errorf("expected total=%d, got %d", totalBefore-1, bobStatsAfter.TotalMessages)
		}
	})
}

func TestStatsConcurrency(t *testing.T) {
	ctx := context.Background()

	svc, err := New(
		WithStore(memory.New()),
		WithStatsRefreshInterval(1*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	mb := svc.Client("user1")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := mb.Stats(ctx)
				if err != nil {
					t.Errorf("Stats() error: %v", err)
				}
			}
		}()
	}
	wg.Wait()
}

func TestStatsNotConnected(t *testing.T) {
	svc, _ := New(WithStore(memory.New()))
	mb := svc.Client("user1")

	_, err := mb.Stats(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestStatsClone(t *testing.T) {
	stats := &store.MailboxStats{
		TotalMessages: 10,
		UnreadCount:   5,
		DraftCount:    2,
		Boxes: map[store.Mailbox]store.MailboxCounts{
			store.MailboxInbox:  {Total: 8, Unread: 5},
			store.MailboxOutbox: {Total: 2, Unread: 0},
		},
	}

	clone := stats.Clone()

	// Modify original
	stats.TotalMessages = 100
	stats.Boxes[store.MailboxInbox] = store.MailboxCounts{Total: 999, Unread: 999}

	// Clone should be unaffected
	if clone.TotalMessages != 10 {
		t.Errorf("expected clone total=10, got %d", clone.TotalMessages)
	}
	if clone.Boxes[store.MailboxInbox].Total != 8 {
		t.Errorf("expected clone inbox total=8, got %d", clone.Boxes[store.MailboxInbox].Total)
	}
}
