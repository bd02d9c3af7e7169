package mongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// boxFacet is one facet result: total and unread for a single mailbox.
type boxFacet struct {
	Total  int64 `bson:"total"`
	Unread int64 `bson:"unread"`
}

// boxPipeline builds a facet pipeline counting total and unread documents
// matching the given predicate. $not of a missing read_at is true, so the
// conditional sum counts exactly the unread documents.
func boxPipeline(match bson.M) bson.A {
	return bson.A{
		bson.M{"$match": match},
		bson.M{"$group": bson.M{
			"_id":    nil,
			"total":  bson.M{"$sum": 1},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$not": bson.A{"$read_at"}}, 1, 0}}},
		}},
	}
}

// MailboxStats returns aggregate statistics for a user's mailboxes using a
// single $facet aggregation, one facet per mailbox predicate.
func (s *Store) MailboxStats(ctx context.Context, userID string, trashEmptiedAt time.Time) (*store.MailboxStats, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	notDraft := bson.M{"$ne": true}
	notDeleted := bson.M{"$exists": false}

	pipeline := bson.A{
		bson.M{"$match": bson.M{"$or": bson.A{
			bson.M{"sender_id": userID},
			bson.M{"recipient_id": userID},
		}}},
		bson.M{"$facet": bson.M{
			"inbox": boxPipeline(bson.M{
				"recipient_id":         userID,
				"recipient_deleted_at": notDeleted,
				"__is_draft":           notDraft,
			}),
			"outbox": boxPipeline(bson.M{
				"sender_id":            userID,
				"recipient_deleted_at": notDeleted,
				"__is_draft":           notDraft,
			}),
			"starbox": boxPipeline(bson.M{
				"$or": bson.A{
					bson.M{"recipient_id": userID, "recipient_starred": true},
					bson.M{"sender_id": userID, "sender_starred": true},
				},
				"recipient_deleted_at": notDeleted,
				"__is_draft":           notDraft,
			}),
			"trashbox": boxPipeline(bson.M{
				"recipient_id":         userID,
				"recipient_deleted_at": bson.M{"$gt": trashEmptiedAt},
			}),
			"drafts": bson.A{
				bson.M{"$match": bson.M{"__is_draft": true, "sender_id": userID}},
				bson.M{"$count": "total"},
			},
		}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate mailbox stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Inbox    []boxFacet `bson:"inbox"`
		Outbox   []boxFacet `bson:"outbox"`
		Starbox  []boxFacet `bson:"starbox"`
		Trashbox []boxFacet `bson:"trashbox"`
		Drafts   []boxFacet `bson:"drafts"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode mailbox stats: %w", err)
	}

	stats := &store.MailboxStats{
		Boxes: make(map[store.Mailbox]store.MailboxCounts, len(store.Mailboxes)),
	}
	if len(results) == 0 {
		return stats, nil
	}

	first := func(fs []boxFacet) boxFacet {
		if len(fs) == 0 {
			return boxFacet{}
		}
		return fs[0]
	}

	r := results[0]
	inbox := first(r.Inbox)
	outbox := first(r.Outbox)
	starbox := first(r.Starbox)
	trashbox := first(r.Trashbox)
	drafts := first(r.Drafts)

	stats.TotalMessages = inbox.Total + outbox.Total
	stats.UnreadCount = inbox.Unread
	stats.DraftCount = drafts.Total
	stats.Boxes[store.MailboxInbox] = store.MailboxCounts{Total: inbox.Total, Unread: inbox.Unread}
	stats.Boxes[store.MailboxOutbox] = store.MailboxCounts{Total: outbox.Total, Unread: outbox.Unread}
	stats.Boxes[store.MailboxDraftbox] = store.MailboxCounts{Total: drafts.Total}
	stats.Boxes[store.MailboxStarbox] = store.MailboxCounts{Total: starbox.Total, Unread: starbox.Unread}
	stats.Boxes[store.MailboxTrashbox] = store.MailboxCounts{Total: trashbox.Total, Unread: trashbox.Unread}

	return stats, nil
}

// PurgeEligible atomically removes up to limit documents deleted by both
// parties and starred by neither, returning the removed messages.
//
// Each document is claimed with FindOneAndDelete, so concurrent callers
// remove every document exactly once.
func (s *Store) PurgeEligible(ctx context.Context, limit int) ([]store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	filter := bson.M{
		"__is_draft":           bson.M{"$ne": true},
		"sender_starred":       bson.M{"$ne": true},
		"recipient_starred":    bson.M{"$ne": true},
		"sender_deleted_at":    bson.M{"$exists": true},
		"recipient_deleted_at": bson.M{"$exists": true},
	}

	var removed []store.Message
	for i := 0; i < limit; i++ {
		var doc messageDoc
		err := s.collection.FindOneAndDelete(ctx, filter).Decode(&doc)
		if err != nil {
			break
		}
		removed = append(removed, docToMessage(&doc))
	}

	return removed, nil
}
