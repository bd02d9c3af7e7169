package pmbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OperationResult contains the result of a single operation within a bulk operation.
// Results are returned in the same order as the input items.
type OperationResult struct {
	// ID is the identifier of the item that was processed.
	ID string
	// Success indicates whether the operation succeeded.
	Success bool
	// Error contains the error if the operation failed (nil if successful).
	Error error
	// NewState is the state token after a successful toggle
	// (only for BatchStarOrRead).
	NewState string
}

// BulkResult contains the result of a bulk operation.
// Used consistently across MessageList, DraftList, and batch toggles.
//
// Results are returned in order, matching the input order.
// Use helper methods to check status and iterate results.
type BulkResult struct {
	// Results contains the outcome of each operation in input order.
	Results []OperationResult
}

// SuccessCount returns the number of successful operations.
func (r *BulkResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// FailureCount returns the number of failed operations.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, res := range r.Results {
		if !res.Success {
			count++
		}
	}
	return count
}

// HasFailures returns true if any operations failed.
func (r *BulkResult) HasFailures() bool {
	if r == nil {
		return false
	}
	for _, res := range r.Results {
		if !res.Success {
			return true
		}
	}
	return false
}

// TotalCount returns the total number of items processed.
func (r *BulkResult) TotalCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results)
}

// FailedIDs returns the IDs of items that failed.
func (r *BulkResult) FailedIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// SuccessfulIDs returns the IDs of items that succeeded.
func (r *BulkResult) SuccessfulIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Err returns an error if there are failures, nil otherwise.
func (r *BulkResult) Err() error {
	if r == nil {
		return nil
	}
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError is returned when a bulk operation has partial failures.
// It wraps BulkResult to provide error interface while guaranteeing non-empty Error().
type BulkOperationError struct {
	Result *BulkResult
}

// Error implements the error interface.
// Always returns a non-empty string describing the failure.
func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("pmbox: bulk operation failed for %d of %d items",
		e.Result.FailureCount(), e.Result.TotalCount())
}

// Unwrap returns the individual errors from failed operations.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}

// BatchResult is the outcome of a BatchStarOrRead call.
type BatchResult struct {
	*BulkResult
}

// NewStates maps each successfully toggled message ID to its new state token.
func (r *BatchResult) NewStates() map[string]string {
	if r == nil || r.BulkResult == nil {
		return nil
	}
	states := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		if res.Success {
			states[res.ID] = res.NewState
		}
	}
	return states
}

// BatchStarOrRead applies one toggle per (id, state) pair.
//
// The slices are parallel: states[i] is the state the caller last observed
// for messageIDs[i], and each pair flips to the opposite state. Read tokens
// ("read"/"unread") flip the read marker; star tokens ("starred"/"unstarred")
// flip the star flag. A length mismatch rejects the whole call, as does any
// malformed state token: all tokens are validated up front and a bad one
// aborts the batch before anything is applied.
func (m *userMailbox) BatchStarOrRead(ctx context.Context, messageIDs, states []string) (*BatchResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	if len(messageIDs) != len(states) {
		return nil, &InputError{
			Field:   "states",
			Message: fmt.Sprintf("got %d ids but %d states", len(messageIDs), len(states)),
		}
	}

	// Validate every token before applying anything. A token outside the
	// known set suggests a tampered request; reject the whole batch.
	ops := make([]batchOp, len(states))
	for i, token := range states {
		op, err := parseBatchState(token)
		if err != nil {
			m.service.logger.Warn("rejecting batch on unrecognized state token",
				"user_id", m.userID, "message_id", messageIDs[i], "token", token, "position", i)
			return nil, err
		}
		ops[i] = op
	}

	result := &BatchResult{
		BulkResult: &BulkResult{Results: make([]OperationResult, 0, len(messageIDs))},
	}

	for i, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			for _, remaining := range messageIDs[i:] {
				result.Results = append(result.Results, OperationResult{ID: remaining, Error: err})
			}
			break
		}

		op := ops[i]
		res := OperationResult{ID: id}
		switch op.kind {
		case batchRead:
			newState, err := m.batchToggleRead(ctx, id, op.current)
			if err != nil {
				res.Error = err
			} else {
				res.Success = true
				res.NewState = newState
			}
		case batchStar:
			starred, err := m.ToggleStar(ctx, id)
			if err != nil {
				res.Error = err
			} else {
				res.Success = true
				res.NewState = starStateLabel(starred)
			}
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// batchToggleRead flips the read marker for one batch item.
// Unlike ToggleRead it takes the already-parsed state, and like ToggleRead
// it leaves draft rows untouched.
func (m *userMailbox) batchToggleRead(ctx context.Context, messageID string, current bool) (string, error) {
	if _, err := m.getOwned(ctx, messageID); err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) && m.ownsDraft(ctx, messageID) {
			return StateRead, nil
		}
		return "", err
	}

	newRead := !current
	now := time.Now().UTC()
	if err := m.service.store.MarkRead(ctx, messageID, newRead, now); err != nil {
		return "", &PersistenceError{Op: "mark read", Err: err}
	}

	if err := m.publishReadEvent(ctx, messageID, newRead, now); err != nil {
		return readStateLabel(newRead), err
	}

	return readStateLabel(newRead), nil
}
