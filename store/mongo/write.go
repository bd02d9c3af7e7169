package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MarkRead sets or clears the read marker of a message.
func (s *Store) MarkRead(ctx context.Context, id string, read bool, readAt time.Time) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrInvalidID
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{"updated_at": now},
	}
	if read {
		update["$set"].(bson.M)["read_at"] = readAt
	} else {
		update["$unset"] = bson.M{"read_at": ""}
	}

	filter := bson.M{
		"_id":        oid,
		"__is_draft": bson.M{"$ne": true},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ToggleStar atomically flips the star flag for the given party and returns
// the new value. A pipeline update flips the flag server-side so concurrent
// toggles never lose an update.
func (s *Store) ToggleStar(ctx context.Context, id string, party store.Party) (bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return false, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, store.ErrInvalidID
	}

	field := "recipient_starred"
	if party == store.PartySender {
		field = "sender_starred"
	}

	filter := bson.M{
		"_id":        oid,
		"__is_draft": bson.M{"$ne": true},
	}
	update := mongo.Pipeline{
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: field, Value: bson.D{bson.E{Key: "$not", Value: "$" + field}}},
			bson.E{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	}

	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var doc messageDoc
	err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("toggle star: %w", err)
	}

	if party == store.PartySender {
		return doc.SenderStarred, nil
	}
	return doc.RecipientStarred, nil
}

// MarkDeleted sets the soft-delete timestamp for the given party and returns
// the updated message.
func (s *Store) MarkDeleted(ctx context.Context, id string, party store.Party, at time.Time) (store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	field := "recipient_deleted_at"
	if party == store.PartySender {
		field = "sender_deleted_at"
	}

	filter := bson.M{
		"_id":        oid,
		"__is_draft": bson.M{"$ne": true},
	}
	update := bson.M{
		"$set": bson.M{
			field:        at,
			"updated_at": time.Now().UTC(),
		},
	}

	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var doc messageDoc
	err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mark deleted: %w", err)
	}

	return docToMessage(&doc), nil
}

// HardDeleteEligible removes the message only if it is still eligible: not
// starred by either party and, unless force is set, soft-deleted by both.
// Eligibility is part of the delete filter, so concurrent callers race
// safely at the database.
func (s *Store) HardDeleteEligible(ctx context.Context, id string, force bool) (bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return false, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, store.ErrInvalidID
	}

	filter := bson.M{
		"_id":               oid,
		"__is_draft":        bson.M{"$ne": true},
		"sender_starred":    bson.M{"$ne": true},
		"recipient_starred": bson.M{"$ne": true},
	}
	if !force {
		filter["sender_deleted_at"] = bson.M{"$exists": true}
		filter["recipient_deleted_at"] = bson.M{"$exists": true}
	}

	result, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("hard delete: %w", err)
	}

	return result.DeletedCount > 0, nil
}

// MarkAllRead sets the read marker on every unread message matching the
// filters. Returns the number of messages marked.
func (s *Store) MarkAllRead(ctx context.Context, filters []store.Filter, readAt time.Time) (int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return 0, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	conds, err := buildConditions(filters)
	if err != nil {
		return 0, err
	}
	conds = append(conds,
		bson.M{"__is_draft": bson.M{"$ne": true}},
		bson.M{"read_at": bson.M{"$exists": false}},
	)

	update := bson.M{
		"$set": bson.M{
			"read_at":    readAt,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := s.collection.UpdateMany(ctx, bson.M{"$and": conds}, update)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.ModifiedCount, nil
}

// CreateMessage creates a new message from the given data.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := dataToDoc(data, time.Now().UTC())

	result, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if oid, ok := result.InsertedID.(bson.ObjectID); ok {
		doc.ID = oid
	}

	return docToMessage(doc), nil
}

// CreateMessages creates one message per recipient in a batch. The insert
// is ordered: a failure aborts the whole batch with no partial results.
func (s *Store) CreateMessages(ctx context.Context, data []store.MessageData) ([]store.Message, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	if len(data) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	docs := make([]any, len(data))
	docRefs := make([]*messageDoc, len(data))

	for i, d := range data {
		doc := dataToDoc(d, now)
		docs[i] = doc
		docRefs[i] = doc
	}

	result, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}

	messages := make([]store.Message, len(result.InsertedIDs))
	for i, insertedID := range result.InsertedIDs {
		if oid, ok := insertedID.(bson.ObjectID); ok {
			docRefs[i].ID = oid
		}
		messages[i] = docToMessage(docRefs[i])
	}

	return messages, nil
}
