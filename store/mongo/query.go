package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pmbox/pmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (store.Message, error) {
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
		"__is_draft": bson.M{"$ne": true},
	}

	var doc messageDoc
	err = s.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}

	return docToMessage(&doc), nil
}

// GetOwned retrieves a message by ID, restricted to rows where userID is a
// party to the message.
func (s *Store) GetOwned(ctx context.Context, id, userID string) (store.Message, error) {
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
		"__is_draft": bson.M{"$ne": true},
		"$or": []bson.M{
			{"sender_id": userID},
			{"recipient_id": userID},
		},
	}

	var doc messageDoc
	err = s.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find owned message: %w", err)
	}

	return docToMessage(&doc), nil
}

// Find retrieves messages matching the filters.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, error) {
	list, _, err := s.findMessages(ctx, filters, opts, false)
	return list, err
}

// FindWithCount retrieves messages and total count in a single operation.
func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, int64, error) {
	return s.findMessages(ctx, filters, opts, true)
}

func (s *Store) findMessages(ctx context.Context, filters []store.Filter, opts store.ListOptions, withCount bool) (*store.MessageList, int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, 0, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	conds, err := buildConditions(filters)
	if err != nil {
		return nil, 0, err
	}
	conds = append(conds, bson.M{"__is_draft": bson.M{"$ne": true}})

	// Determine sort key and direction
	sortKey := "created_at"
	sortDir := -1 // DESC
	if opts.SortBy != "" {
		if key, ok := store.MessageFieldKey(opts.SortBy); ok {
			sortKey = mapKey(key)
		}
	}
	if opts.SortOrder == store.SortAsc {
		sortDir = 1
	}

	var total int64
	if withCount {
		total, err = s.collection.CountDocuments(ctx, bson.M{"$and": conds})
		if err != nil {
			return nil, 0, fmt.Errorf("count messages: %w", err)
		}
	}

	// Cursor-based pagination: keyset filtering when StartAfter is provided
	if opts.StartAfter != "" {
		cursorOID, cursorErr := bson.ObjectIDFromHex(opts.StartAfter)
		if cursorErr != nil {
			return nil, 0, store.ErrInvalidID
		}
		var cursorDoc messageDoc
		cursorErr = s.collection.FindOne(ctx, bson.M{"_id": cursorOID}).Decode(&cursorDoc)
		if cursorErr != nil {
			if errors.Is(cursorErr, mongo.ErrNoDocuments) {
				return nil, 0, store.ErrNotFound
			}
			return nil, 0, fmt.Errorf("fetch cursor document: %w", cursorErr)
		}
		var cursorSortValue any
		switch sortKey {
		case "updated_at":
			cursorSortValue = cursorDoc.UpdatedAt
		default:
			cursorSortValue = cursorDoc.CreatedAt
		}
		comp := "$lt"
		if sortDir == 1 {
			comp = "$gt"
		}
		conds = append(conds, bson.M{"$or": []bson.M{
			{sortKey: bson.M{comp: cursorSortValue}},
			{sortKey: cursorSortValue, "_id": bson.M{comp: cursorOID}},
		}})
	}

	findOpts := mongoopts.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.StartAfter == "" && opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	findOpts.SetSort(bson.D{
		bson.E{Key: sortKey, Value: sortDir},
		bson.E{Key: "_id", Value: sortDir},
	})

	cursor, err := s.collection.Find(ctx, bson.M{"$and": conds}, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]store.Message, len(docs))
	for i := range docs {
		messages[i] = docToMessage(&docs[i])
	}

	hasMore := opts.Limit > 0 && len(messages) >= opts.Limit

	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].GetID()
	}

	return &store.MessageList{
		Messages:   messages,
		Total:      total,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, total, nil
}

// Count counts messages matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return 0, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	conds, err := buildConditions(filters)
	if err != nil {
		return 0, err
	}
	conds = append(conds, bson.M{"__is_draft": bson.M{"$ne": true}})

	count, err := s.collection.CountDocuments(ctx, bson.M{"$and": conds})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	return count, nil
}

// mapKey translates shared filter keys to MongoDB field names.
func mapKey(key string) string {
	if key == "id" {
		return "_id"
	}
	return key
}

// buildConditions converts store filters to a list of MongoDB conditions.
// Each filter becomes a separate document so several conditions on the same
// field (a watermark range, for example) never clobber each other.
func buildConditions(filters []store.Filter) ([]bson.M, error) {
	conds := make([]bson.M, 0, len(filters)+2)
	for _, f := range filters {
		cond, err := filterToCondition(f)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			conds = append(conds, cond)
		}
	}
	if len(conds) == 0 {
		conds = append(conds, bson.M{})
	}
	return conds, nil
}

func filterToCondition(f store.Filter) (bson.M, error) {
	// Disjunction: each group is ANDed internally, groups are ORed together.
	if groups := f.OrGroups(); groups != nil {
		orConds := make([]bson.M, 0, len(groups))
		for _, group := range groups {
			groupConds, err := buildConditions(group)
			if err != nil {
				return nil, err
			}
			orConds = append(orConds, bson.M{"$and": groupConds})
		}
		if len(orConds) == 0 {
			return nil, nil
		}
		return bson.M{"$or": orConds}, nil
	}

	key, ok := store.MessageFieldKey(f.Key())
	if !ok {
		return nil, store.ErrFilterInvalid
	}
	key = mapKey(key)
	value := f.Value()

	// _id filters compare ObjectIDs, not hex strings.
	if key == "_id" {
		hex, ok := value.(string)
		if !ok {
			return nil, store.ErrInvalidID
		}
		oid, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, store.ErrInvalidID
		}
		value = oid
	}

	switch f.Operator() {
	case "eq", "":
		return bson.M{key: value}, nil
	case "ne":
		return bson.M{key: bson.M{"$ne": value}}, nil
	case "gt":
		return bson.M{key: bson.M{"$gt": value}}, nil
	case "gte":
		return bson.M{key: bson.M{"$gte": value}}, nil
	case "lt":
		return bson.M{key: bson.M{"$lt": value}}, nil
	case "lte":
		return bson.M{key: bson.M{"$lte": value}}, nil
	case "in":
		return bson.M{key: bson.M{"$in": value}}, nil
	case "exists":
		return bson.M{key: bson.M{"$exists": value}}, nil
	default:
		return nil, store.ErrFilterInvalid
	}
}
