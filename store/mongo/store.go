// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.FindWithCounter = (*Store)(nil)
var _ store.BulkReadMarker = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	trash      *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)
	s.trash = s.db.Collection(s.opts.collection + "_trash")

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "sender_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "recipient_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "created_at", Value: -1}}},
		{Keys: bson.D{bson.E{Key: "__is_draft", Value: 1}}},
		// Compound indexes for mailbox scans
		{Keys: bson.D{
			bson.E{Key: "recipient_id", Value: 1},
			bson.E{Key: "recipient_deleted_at", Value: 1},
			bson.E{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "sender_id", Value: 1},
			bson.E{Key: "__is_draft", Value: 1},
			bson.E{Key: "created_at", Value: -1},
		}},
		// Unread scan index
		{Keys: bson.D{
			bson.E{Key: "recipient_id", Value: 1},
			bson.E{Key: "read_at", Value: 1},
		}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Draft Operations
// =============================================================================

// NewDraft creates a new empty draft for the given owner.
func (s *Store) NewDraft(ownerID string) store.DraftMessage {
	now := time.Now().UTC()
	return &message{
		senderID:  ownerID,
		isDraft:   true,
		draftedAt: &now,
	}
}

// GetDraft retrieves a draft by ID.
func (s *Store) GetDraft(ctx context.Context, id string) (store.DraftMessage, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	filter := bson.M{
		"_id":        oid,
		"__is_draft": true,
	}

	var doc messageDoc
	err = s.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find draft: %w", err)
	}

	return docToMessage(&doc), nil
}

// SaveDraft persists a draft. Saving stamps the last-edit time and clears
// any sent marker.
func (s *Store) SaveDraft(ctx context.Context, draft store.DraftMessage) (store.DraftMessage, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	msg, ok := draft.(*message)
	if !ok {
		msg = &message{
			id:           draft.GetID(),
			senderID:     draft.GetOwnerID(),
			recipientIDs: draft.GetRecipientIDs(),
			subject:      draft.GetSubject(),
			body:         draft.GetBody(),
			isDraft:      true,
		}
		for _, a := range draft.GetAttachments() {
			msg.AddAttachment(a)
		}
	}

	now := time.Now().UTC()
	msg.updatedAt = now
	msg.draftedAt = &now
	msg.sentAt = nil
	msg.isDraft = true

	if msg.id == "" {
		// New draft - insert
		if msg.createdAt.IsZero() {
			msg.createdAt = now
		}

		doc := messageToDoc(msg)
		result, err := s.collection.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, store.ErrDuplicateEntry
			}
			return nil, fmt.Errorf("insert draft: %w", err)
		}

		if oid, ok := result.InsertedID.(bson.ObjectID); ok {
			msg.id = oid.Hex()
		}
	} else {
		// Existing draft - update in place
		oid, err := bson.ObjectIDFromHex(msg.id)
		if err != nil {
			return nil, store.ErrInvalidID
		}

		doc := messageToDoc(msg)
		update := bson.M{
			"$set": bson.M{
				"subject":       doc.Subject,
				"body":          doc.Body,
				"recipient_ids": doc.RecipientIDs,
				"attachments":   doc.Attachments,
				"drafted_at":    doc.DraftedAt,
				"updated_at":    doc.UpdatedAt,
			},
			"$unset": bson.M{"sent_at": ""},
		}
		filter := bson.M{
			"_id":        oid,
			"__is_draft": true,
		}

		result, err := s.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("update draft: %w", err)
		}

		if result.MatchedCount == 0 {
			return nil, store.ErrNotFound
		}
	}

	return msg, nil
}

// DeleteDraft permanently removes a draft.
func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrInvalidID
	}

	filter := bson.M{
		"_id":        oid,
		"__is_draft": true,
	}

	result, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}

	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ListDrafts returns all drafts for a user.
func (s *Store) ListDrafts(ctx context.Context, ownerID string, opts store.ListOptions) (*store.DraftList, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{
		"sender_id":  ownerID,
		"__is_draft": true,
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count drafts: %w", err)
	}

	findOpts := mongoopts.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	findOpts.SetSort(bson.D{bson.E{Key: "drafted_at", Value: -1}})

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find drafts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}

	drafts := make([]store.DraftMessage, len(docs))
	for i := range docs {
		drafts[i] = docToMessage(&docs[i])
	}

	return &store.DraftList{
		Drafts:  drafts,
		Total:   total,
		HasMore: opts.Limit > 0 && len(drafts) >= opts.Limit,
	}, nil
}

// =============================================================================
// Trash watermark
// =============================================================================

// trashDoc is the per-user trash watermark document.
type trashDoc struct {
	UserID    string    `bson:"_id"`
	EmptiedAt time.Time `bson:"emptied_at"`
}

// TrashEmptiedAt returns the user's trash-emptied watermark, or the zero
// time if the user has never emptied their trash.
func (s *Store) TrashEmptiedAt(ctx context.Context, userID string) (time.Time, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return time.Time{}, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc trashDoc
	err := s.trash.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get trash watermark: %w", err)
	}

	return doc.EmptiedAt, nil
}

// SetTrashEmptiedAt advances the user's trash-emptied watermark.
func (s *Store) SetTrashEmptiedAt(ctx context.Context, userID string, t time.Time) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"emptied_at": t}}
	opts := mongoopts.UpdateOne().SetUpsert(true)

	if _, err := s.trash.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return fmt.Errorf("set trash watermark: %w", err)
	}

	return nil
}
