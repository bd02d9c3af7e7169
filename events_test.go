package pmbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/redis/go-redis/v9"

	"github.com/pmbox/pmbox/store/memory"
)

func TestEventSubscriptions(t *testing.T) {
	ctx := context.Background()
	svc, err := New(
		WithStore(memory.New()),
		WithEventTransport(channel.New()),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	sent := make(chan MessageSentEvent, 1)
	err = svc.Events().MessageSent.Subscribe(ctx,
		func(_ context.Context, _ event.Event[MessageSentEvent], data MessageSentEvent) error {
			select {
			case sent <- data:
			default:
			}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	read := make(chan MessageReadEvent, 1)
	err = svc.Events().MessageRead.Subscribe(ctx,
		func(_ context.Context, _ event.Event[MessageReadEvent], data MessageReadEvent) error {
			select {
			case read <- data:
			default:
			}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	receipt := sendMessage(t, svc.Client("alice"), "Event payloads", "bob")

	select {
	case data := <-sent:
		if data.SenderID != "alice" {
			t.Errorf("expected sender alice, got %q", data.SenderID)
		}
		if len(data.RecipientIDs) != 1 || data.RecipientIDs[0] != "bob" {
			t.Errorf("expected recipients [bob], got %v", data.RecipientIDs)
		}
		if data.Subject != "Event payloads" {
			t.Errorf("expected subject to carry through, got %q", data.Subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for MessageSent event")
	}

	if _, err := svc.Client("bob").ToggleRead(ctx, receipt.MessageIDs[0], StateUnread); err != nil {
		t.Fatalf("toggle read: %v", err)
	}

	select {
	case data := <-read:
		if data.UserID != "bob" || !data.Read {
			t.Errorf("expected bob read=true, got %+v", data)
		}
		if data.MessageID != receipt.MessageIDs[0] {
			t.Errorf("expected message %s, got %s", receipt.MessageIDs[0], data.MessageID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for MessageRead event")
	}
}

func TestRedisEventTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	svc, err := New(
		WithStore(memory.New()),
		WithRedisClient(client),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	sent := make(chan MessageSentEvent, 1)
	err = svc.Events().MessageSent.Subscribe(ctx,
		func(_ context.Context, _ event.Event[MessageSentEvent], data MessageSentEvent) error {
			select {
			case sent <- data:
			default:
			}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sendMessage(t, svc.Client("alice"), "Via redis", "bob")

	select {
	case data := <-sent:
		if data.SenderID != "alice" || data.Subject != "Via redis" {
			t.Errorf("unexpected event payload: %+v", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event over redis transport")
	}
}

func TestGetMarkReadPublishFailure(t *testing.T) {
	ctx := context.Background()
	tr := &refusingTransport{Transport: channel.New(), failSuffix: EventNameMessageRead}
	svc := setupTestService(t,
		WithEventTransport(tr),
		WithEventErrorsFatal(true),
	)

	receipt := sendMessage(t, svc.Client("sender"), "Receipt wanted", "reader")
	msgID := receipt.MessageIDs[0]

	_, err := svc.Client("reader").Get(ctx, msgID, WithMarkRead())
	var epe *EventPublishError
	if !errors.As(err, &epe) {
		t.Fatalf("expected EventPublishError, got %v", err)
	}
	if epe.Event != "MessageRead" {
		t.Errorf("expected MessageRead publish failure, got %q", epe.Event)
	}

	// The read mark landed before the publish failed.
	msg, err := svc.Client("reader").Get(ctx, msgID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Unread() {
		t.Error("expected message to stay marked read despite publish failure")
	}
}

// refusingTransport delivers every event except those whose name carries the
// given suffix, for which Publish fails.
type refusingTransport struct {
	transport.Transport
	failSuffix string
}

func (r *refusingTransport) Publish(ctx context.Context, name string, msg transport.Message) error {
	if strings.HasSuffix(name, r.failSuffix) {
		return errors.New("publish refused")
	}
	return r.Transport.Publish(ctx, name, msg)
}
