package pmbox

import (
	"context"
	"errors"
	"testing"
)

func TestBatchStarOrRead(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	sender := svc.Client("sender")
	reader := svc.Client("reader")

	ids := make([]string, 3)
	for i := range ids {
		receipt := sendMessage(t, sender, "Batch target", "reader")
		ids[i] = receipt.MessageIDs[0]
	}

	t.Run("length mismatch rejects call", func(t *testing.T) {
		_, err := reader.BatchStarOrRead(ctx, ids, []string{StateUnread})
		if !errors.Is(err, ErrMalformedBatch) {
			t.Errorf("expected ErrMalformedBatch, got %v", err)
		}
	})

	t.Run("malformed token aborts before anything is applied", func(t *testing.T) {
		states := []string{StateUnread, "bogus", StateUnread}
		_, err := reader.BatchStarOrRead(ctx, ids, states)
		if !errors.Is(err, ErrMalformedBatch) {
			t.Errorf("expected ErrMalformedBatch, got %v", err)
		}

		// The valid first pair must not have been applied either.
		msg, err := reader.Get(ctx, ids[0])
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !msg.Unread() {
			t.Error("aborted batch must leave all messages untouched")
		}
	})

	t.Run("mixed read and star toggles", func(t *testing.T) {
		states := []string{StateUnread, StateUnstarred, StateUnread}
		result, err := reader.BatchStarOrRead(ctx, ids, states)
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		if result.SuccessCount() != 3 {
			t.Errorf("expected 3 successes, got %d", result.SuccessCount())
		}

		newStates := result.NewStates()
		if newStates[ids[0]] != StateRead {
			t.Errorf("expected %q for first id, got %q", StateRead, newStates[ids[0]])
		}
		if newStates[ids[1]] != StateStarred {
			t.Errorf("expected %q for second id, got %q", StateStarred, newStates[ids[1]])
		}
		if newStates[ids[2]] != StateRead {
			t.Errorf("expected %q for third id, got %q", StateRead, newStates[ids[2]])
		}

		// The star toggle landed in the starbox.
		starred, err := reader.Starred(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("starred: %v", err)
		}
		if len(starred.All()) != 1 {
			t.Errorf("expected 1 starred message, got %d", len(starred.All()))
		}
	})

	t.Run("draft id succeeds as read without a toggle", func(t *testing.T) {
		d := mustCompose(reader)
		d.SetSubject("Batch draft")
		saved, err := d.Save(ctx)
		if err != nil {
			t.Fatalf("save: %v", err)
		}

		result, err := reader.BatchStarOrRead(ctx, []string{saved.ID()}, []string{StateRead})
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		if got := result.NewStates()[saved.ID()]; got != StateRead {
			t.Errorf("expected draft slot to report %q, got %q", StateRead, got)
		}
	})

	t.Run("unknown id fails its slot only", func(t *testing.T) {
		batchIDs := []string{ids[0], "missing"}
		states := []string{StateRead, StateUnread}

		result, err := reader.BatchStarOrRead(ctx, batchIDs, states)
		if err == nil {
			t.Fatal("expected partial failure error")
		}
		var boe *BulkOperationError
		if !errors.As(err, &boe) {
			t.Fatalf("expected BulkOperationError, got %T", err)
		}
		if result.SuccessCount() != 1 || result.FailureCount() != 1 {
			t.Errorf("expected 1 success and 1 failure, got %d/%d",
				result.SuccessCount(), result.FailureCount())
		}
		if got := result.FailedIDs(); len(got) != 1 || got[0] != "missing" {
			t.Errorf("expected failed id missing, got %v", got)
		}
		if !errors.Is(result.Results[1].Error, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing id, got %v", result.Results[1].Error)
		}
	})
}

func TestMessageListBulkRead(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	for i := 0; i < 3; i++ {
		sendMessage(t, svc.Client("sender"), "Bulk", "reader")
	}
	reader := svc.Client("reader")

	inbox, err := reader.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox.All()) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(inbox.All()))
	}

	result, err := inbox.MarkRead(ctx)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 successes, got %d", result.SuccessCount())
	}

	unread, err := reader.Open(ctx, BoxInbox, FilterUnread, ListOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(unread.All()) != 0 {
		t.Errorf("expected no unread messages, got %d", len(unread.All()))
	}

	// Marking an already-read list succeeds without changing anything.
	refreshed, err := reader.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	result, err = refreshed.MarkRead(ctx)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 no-op successes, got %d", result.SuccessCount())
	}

	result, err = refreshed.MarkUnread(ctx)
	if err != nil {
		t.Fatalf("mark unread: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 successes, got %d", result.SuccessCount())
	}

	unread, err = reader.Open(ctx, BoxInbox, FilterUnread, ListOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(unread.All()) != 3 {
		t.Errorf("expected 3 unread messages, got %d", len(unread.All()))
	}
}

func TestMessageListBulkDelete(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	for i := 0; i < 3; i++ {
		sendMessage(t, svc.Client("sender"), "Bulk delete", "reader")
	}
	reader := svc.Client("reader")

	inbox, err := reader.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}

	result, err := inbox.Delete(ctx, false)
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 successes, got %d", result.SuccessCount())
	}
	for _, res := range result.Results {
		if res.NewState != OutcomeTrashed {
			t.Errorf("expected outcome trashed for %s, got %q", res.ID, res.NewState)
		}
	}

	inbox, err = reader.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox.All()) != 0 {
		t.Errorf("expected empty inbox, got %d", len(inbox.All()))
	}

	trash, err := reader.Trash(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("trash: %v", err)
	}
	if len(trash.All()) != 3 {
		t.Errorf("expected 3 trashed messages, got %d", len(trash.All()))
	}
}

func TestDraftListBulkOperations(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	client := svc.Client("drafter")
	for i := 0; i < 3; i++ {
		d := mustCompose(client)
		d.SetRecipients("recipient").SetSubject("Bulk draft").SetBody("Body")
		if _, err := d.Save(ctx); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	t.Run("bulk send", func(t *testing.T) {
		drafts, err := client.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}
		if len(drafts.All()) != 3 {
			t.Fatalf("expected 3 drafts, got %d", len(drafts.All()))
		}

		result, err := drafts.Send(ctx)
		if err != nil {
			t.Fatalf("bulk send: %v", err)
		}
		if result.SuccessCount() != 3 {
			t.Errorf("expected 3 sends, got %d", result.SuccessCount())
		}

		inbox, err := svc.Client("recipient").Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(inbox.All()) != 3 {
			t.Errorf("expected 3 delivered messages, got %d", len(inbox.All()))
		}

		remaining, err := client.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}
		if len(remaining.All()) != 0 {
			t.Errorf("expected no drafts after bulk send, got %d", len(remaining.All()))
		}
	})

	t.Run("bulk delete", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			d := mustCompose(client)
			d.SetSubject("Disposable")
			if _, err := d.Save(ctx); err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		drafts, err := client.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}
		result, err := drafts.Delete(ctx)
		if err != nil {
			t.Fatalf("bulk delete: %v", err)
		}
		if result.SuccessCount() != 2 {
			t.Errorf("expected 2 deletes, got %d", result.SuccessCount())
		}

		remaining, err := client.Drafts(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("drafts: %v", err)
		}
		if len(remaining.All()) != 0 {
			t.Errorf("expected no drafts, got %d", len(remaining.All()))
		}
	})
}
