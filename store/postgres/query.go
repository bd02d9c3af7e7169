package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pmbox/pmbox/store"
)

// timestampColumns are nullable marker columns. An "exists" filter on one
// of them maps to IS NULL / IS NOT NULL instead of an empty-string check.
var timestampColumns = map[string]bool{
	"drafted_at":           true,
	"sent_at":              true,
	"read_at":              true,
	"sender_deleted_at":    true,
	"recipient_deleted_at": true,
}

func (s *Store) Get(ctx context.Context, id string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1 AND is_draft = false
	`, messageColumns, s.opts.table)

	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	return msg, nil
}

func (s *Store) GetOwned(ctx context.Context, id, userID string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1 AND is_draft = false AND (sender_id = $2 OR recipient_id = $2)
	`, messageColumns, s.opts.table)

	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get owned message: %w", err)
	}

	return msg, nil
}

func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, error) {
	list, _, err := s.findMessages(ctx, filters, opts, false)
	return list, err
}

func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, int64, error) {
	return s.findMessages(ctx, filters, opts, true)
}

func (s *Store) findMessages(ctx context.Context, filters []store.Filter, opts store.ListOptions, withCount bool) (*store.MessageList, int64, error) {
	if err := s.checkConnected(); err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Apply defaults
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.SortBy == "" {
		opts.SortBy = "created_at"
		opts.SortOrder = store.SortDesc
	}

	// Build WHERE clause
	where, args, err := s.buildWhereClause(filters)
	if err != nil {
		return nil, 0, err
	}
	where = where + " AND is_draft = false"

	// Count total
	var total int64
	if withCount {
		countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
		if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count messages: %w", err)
		}
	}

	// Build ORDER BY
	sortOrder := "DESC"
	if opts.SortOrder == store.SortAsc {
		sortOrder = "ASC"
	}
	sortField := s.mapSortField(opts.SortBy)

	// Cursor-based pagination: use keyset filtering when StartAfter is provided
	if opts.StartAfter != "" {
		if _, err := uuid.Parse(opts.StartAfter); err != nil {
			return nil, 0, store.ErrInvalidID
		}
		comp := "<"
		if opts.SortOrder == store.SortAsc {
			comp = ">"
		}
		where = where + fmt.Sprintf(` AND (%s, id) %s (SELECT %s, id FROM %s WHERE id = $%d)`,
			sortField, comp, sortField, s.opts.table, len(args)+1)
		args = append(args, opts.StartAfter)
	}

	// Query messages
	var query string
	if opts.StartAfter != "" {
		// Cursor-based: no OFFSET needed
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY %s %s
			LIMIT $%d
		`, messageColumns, s.opts.table, where, sortField, sortOrder, len(args)+1)
		args = append(args, opts.Limit+1)
	} else {
		// Offset-based
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY %s %s
			LIMIT $%d OFFSET $%d
		`, messageColumns, s.opts.table, where, sortField, sortOrder, len(args)+1, len(args)+2)
		args = append(args, opts.Limit+1, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		msg, err := s.scanMessageFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	hasMore := len(messages) > opts.Limit
	if hasMore {
		messages = messages[:opts.Limit]
	}

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

func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args, err := s.buildWhereClause(filters)
	if err != nil {
		return 0, err
	}
	where = where + " AND is_draft = false"

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return count, nil
}

func (s *Store) buildWhereClause(filters []store.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "1=1", nil, nil
	}

	var conditions []string
	var args []any
	argIdx := 1

	for _, f := range filters {
		cond, condArgs, err := s.filterToCondition(f, &argIdx)
		if err != nil {
			return "", nil, err
		}
		if cond != "" {
			conditions = append(conditions, cond)
			args = append(args, condArgs...)
		}
	}

	if len(conditions) == 0 {
		return "1=1", nil, nil
	}

	return strings.Join(conditions, " AND "), args, nil
}

func (s *Store) filterToCondition(f store.Filter, argIdx *int) (string, []any, error) {
	// Disjunction: each group is ANDed internally, groups are ORed together.
	if groups := f.OrGroups(); groups != nil {
		var groupConds []string
		var args []any
		for _, group := range groups {
			var conds []string
			for _, gf := range group {
				cond, condArgs, err := s.filterToCondition(gf, argIdx)
				if err != nil {
					return "", nil, err
				}
				if cond != "" {
					conds = append(conds, cond)
					args = append(args, condArgs...)
				}
			}
			if len(conds) > 0 {
				groupConds = append(groupConds, "("+strings.Join(conds, " AND ")+")")
			}
		}
		if len(groupConds) == 0 {
			return "", nil, nil
		}
		return "(" + strings.Join(groupConds, " OR ") + ")", args, nil
	}

	key, ok := store.MessageFieldKey(f.Key())
	if !ok {
		return "", nil, store.ErrFilterInvalid
	}
	op := f.Operator()
	val := f.Value()

	switch op {
	case "eq", "":
		cond := fmt.Sprintf("%s = $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "ne":
		cond := fmt.Sprintf("%s != $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "gt":
		cond := fmt.Sprintf("%s > $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "gte":
		cond := fmt.Sprintf("%s >= $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "lt":
		cond := fmt.Sprintf("%s < $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "lte":
		cond := fmt.Sprintf("%s <= $%d", key, *argIdx)
		*argIdx++
		return cond, []any{val}, nil
	case "in":
		cond := fmt.Sprintf("%s = ANY($%d)", key, *argIdx)
		*argIdx++
		return cond, []any{pq.Array(val)}, nil
	case "exists":
		// Marker columns use NULL for "unset"; scalar columns use the
		// empty string.
		if timestampColumns[key] {
			if val == true {
				return fmt.Sprintf("%s IS NOT NULL", key), nil, nil
			}
			return fmt.Sprintf("%s IS NULL", key), nil, nil
		}
		if val == true {
			return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", key, key), nil, nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", key, key), nil, nil
	default:
		return "", nil, store.ErrFilterInvalid
	}
}

func (s *Store) mapSortField(field string) string {
	switch field {
	case "CreatedAt", "created_at":
		return "created_at"
	case "UpdatedAt", "updated_at":
		return "updated_at"
	case "SentAt", "sent_at":
		return "sent_at"
	case "Subject", "subject":
		return "subject"
	default:
		return "created_at"
	}
}
