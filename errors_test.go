package pmbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/pmbox/pmbox/store"
)

func TestPartialDeliveryError(t *testing.T) {
	t.Run("Error message format", func(t *testing.T) {
		err := &PartialDeliveryError{
			MessageIDs:  []string{"msg1", "msg2"},
			DeliveredTo: []string{"user1", "user2"},
			FailedRecipients: map[string]error{
				"user3": ErrNotFound,
			},
		}

		errMsg := err.Error()
		if errMsg == "" {
			t.Error("expected non-empty error message")
		}

		// Should mention delivered and failed counts
		expectedParts := []string{"2 delivered", "1 failed", "user3"}
		for _, part := range expectedParts {
			if !strings.Contains(errMsg, part) {
				t.Errorf("expected error message to contain %q, got %q", part, errMsg)
			}
		}
	})

	t.Run("Error message with many failures", func(t *testing.T) {
		failed := make(map[string]error)
		for i := 0; i < 10; i++ {
			failed[string(rune('a'+i))] = ErrNotFound
		}

		err := &PartialDeliveryError{
			DeliveredTo:      []string{"user1"},
			FailedRecipients: failed,
		}

		errMsg := err.Error()
		// Should truncate after 5 failures
		if !strings.Contains(errMsg, "more") {
			t.Errorf("expected error message to truncate with '...and X more', got %q", errMsg)
		}
	})

	t.Run("Unwrap returns ErrPartialDelivery", func(t *testing.T) {
		err := &PartialDeliveryError{
			DeliveredTo:      []string{"user1"},
			FailedRecipients: map[string]error{"user2": ErrNotFound},
		}

		if !errors.Is(err, ErrPartialDelivery) {
			t.Error("expected errors.Is to return true for ErrPartialDelivery")
		}
	})
}

func TestPartialDeliveryErrorRetryGuidance(t *testing.T) {
	t.Run("RetryableRecipients", func(t *testing.T) {
		err := &PartialDeliveryError{
			DeliveredTo: []string{"user1"},
			FailedRecipients: map[string]error{
				"user2": ErrNotFound,               // permanent
				"user3": ErrNotConnected,           // retryable
				"user4": store.ErrTransactionFailed, // retryable
				"user5": ErrInvalidUserID,          // permanent
			},
		}

		retryable := err.RetryableRecipients()
		if len(retryable) != 2 {
			t.Errorf("expected 2 retryable recipients, got %d", len(retryable))
		}
	})

	t.Run("PermanentFailures", func(t *testing.T) {
		err := &PartialDeliveryError{
			DeliveredTo: []string{"user1"},
			FailedRecipients: map[string]error{
				"user2": ErrNotFound,     // permanent
				"user3": ErrNotConnected, // retryable
			},
		}

		permanent := err.PermanentFailures()
		if len(permanent) != 1 {
			t.Errorf("expected 1 permanent failure, got %d", len(permanent))
		}
		if permanent[0] != "user2" {
			t.Errorf("expected user2, got %s", permanent[0])
		}
	})

	t.Run("HasRetryableFailures", func(t *testing.T) {
		errWithRetryable := &PartialDeliveryError{
			FailedRecipients: map[string]error{
				"user1": ErrNotConnected,
			},
		}
		if !errWithRetryable.HasRetryableFailures() {
			t.Error("expected HasRetryableFailures to return true")
		}

		errNoneRetryable := &PartialDeliveryError{
			FailedRecipients: map[string]error{
				"user1": ErrNotFound,
			},
		}
		if errNoneRetryable.HasRetryableFailures() {
			t.Error("expected HasRetryableFailures to return false")
		}
	})

	t.Run("AllFailed", func(t *testing.T) {
		errAllFailed := &PartialDeliveryError{
			DeliveredTo: []string{},
			FailedRecipients: map[string]error{
				"user1": ErrNotFound,
			},
		}
		if !errAllFailed.AllFailed() {
			t.Error("expected AllFailed to return true")
		}

		errPartial := &PartialDeliveryError{
			DeliveredTo: []string{"user1"},
			FailedRecipients: map[string]error{
				"user2": ErrNotFound,
			},
		}
		if errPartial.AllFailed() {
			t.Error("expected AllFailed to return false")
		}
	})

	t.Run("SuccessRate", func(t *testing.T) {
		err := &PartialDeliveryError{
			DeliveredTo: []string{"user1", "user2"},
			FailedRecipients: map[string]error{
				"user3": ErrNotFound,
				"user4": ErrNotFound,
			},
		}
		rate := err.SuccessRate()
		if rate != 0.5 {
			t.Errorf("expected success rate 0.5, got %f", rate)
		}

		emptyErr := &PartialDeliveryError{}
		if emptyErr.SuccessRate() != 0 {
			t.Error("expected 0 success rate for empty error")
		}
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ErrNotFound is permanent", ErrNotFound, false},
		{"ErrInvalidMessage is permanent", ErrInvalidMessage, false},
		{"ErrInvalidRecipient is permanent", ErrInvalidRecipient, false},
		{"ErrNotDraft is permanent", ErrNotDraft, false},
		{"ErrMalformedBatch is permanent", ErrMalformedBatch, false},
		{"store.ErrDuplicateEntry is permanent", store.ErrDuplicateEntry, false},
		{"store.ErrNotEligible is permanent", store.ErrNotEligible, false},
		{"ErrNotConnected is retryable", ErrNotConnected, true},
		{"store.ErrTransactionFailed is retryable", store.ErrTransactionFailed, true},
		{"unknown error is retryable", errors.New("some unknown error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsPartialDelivery(t *testing.T) {
	t.Run("returns true for PartialDeliveryError", func(t *testing.T) {
		err := &PartialDeliveryError{
			MessageIDs:       []string{"msg123"},
			DeliveredTo:      []string{"user1"},
			FailedRecipients: map[string]error{"user2": ErrNotFound},
		}

		pde, ok := IsPartialDelivery(err)
		if !ok {
			t.Fatal("expected IsPartialDelivery to return true")
		}
		if pde == nil {
			t.Fatal("expected non-nil PartialDeliveryError")
		}
		if len(pde.MessageIDs) != 1 || pde.MessageIDs[0] != "msg123" {
			t.Errorf("expected MessageIDs [msg123], got %v", pde.MessageIDs)
		}
	})

	t.Run("returns true for wrapped PartialDeliveryError", func(t *testing.T) {
		innerErr := &PartialDeliveryError{
			DeliveredTo:      []string{"user1", "user2"},
			FailedRecipients: map[string]error{"user3": ErrNotFound},
		}
		wrappedErr := &wrappedError{err: innerErr}

		pde, ok := IsPartialDelivery(wrappedErr)
		if !ok {
			t.Error("expected IsPartialDelivery to return true for wrapped error")
		}
		if pde == nil {
			t.Error("expected non-nil PartialDeliveryError")
		}
	})

	t.Run("returns false for other errors", func(t *testing.T) {
		pde, ok := IsPartialDelivery(ErrNotFound)
		if ok {
			t.Error("expected IsPartialDelivery to return false for non-PartialDeliveryError")
		}
		if pde != nil {
			t.Error("expected nil PartialDeliveryError")
		}
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		pde, ok := IsPartialDelivery(nil)
		if ok {
			t.Error("expected IsPartialDelivery to return false for nil")
		}
		if pde != nil {
			t.Error("expected nil PartialDeliveryError")
		}
	})
}

func TestStructuredErrors(t *testing.T) {
	t.Run("ValidationError unwraps to ErrInvalidMessage", func(t *testing.T) {
		err := &ValidationError{Field: "subject", Message: "too long"}
		if !errors.Is(err, ErrInvalidMessage) {
			t.Error("expected ValidationError to unwrap to ErrInvalidMessage")
		}
		if !strings.Contains(err.Error(), "subject") {
			t.Errorf("expected field name in message, got %q", err.Error())
		}
	})

	t.Run("NotFoundError unwraps to ErrNotFound", func(t *testing.T) {
		err := &NotFoundError{ID: "m1", UserID: "u1"}
		if !errors.Is(err, ErrNotFound) {
			t.Error("expected NotFoundError to unwrap to ErrNotFound")
		}
		if !errors.Is(err, store.ErrNotFound) {
			t.Error("expected NotFoundError to unwrap to store.ErrNotFound")
		}
	})

	t.Run("InputError unwraps to ErrMalformedBatch", func(t *testing.T) {
		err := &InputError{Field: "states", Message: "length mismatch"}
		if !errors.Is(err, ErrMalformedBatch) {
			t.Error("expected InputError to unwrap to ErrMalformedBatch")
		}
	})

	t.Run("PersistenceError preserves underlying error", func(t *testing.T) {
		inner := store.ErrTransactionFailed
		err := &PersistenceError{Op: "create message", Err: inner}
		if !errors.Is(err, store.ErrTransactionFailed) {
			t.Error("expected PersistenceError to unwrap to the driver error")
		}
		if !strings.Contains(err.Error(), "create message") {
			t.Errorf("expected op in message, got %q", err.Error())
		}
	})

	t.Run("EventPublishError preserves underlying error", func(t *testing.T) {
		inner := errors.New("broker unavailable")
		err := &EventPublishError{Event: "MessageSent", MessageID: "m1", Err: inner}
		if !errors.Is(err, inner) {
			t.Error("expected EventPublishError to unwrap to the publish error")
		}

		epe, ok := IsEventPublishError(err)
		if !ok || epe.Event != "MessageSent" {
			t.Errorf("expected IsEventPublishError to recover details, got %v %v", epe, ok)
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	// Test that all sentinel errors are distinct
	sentinelErrors := []error{
		ErrNotFound,
		ErrInvalidMessage,
		ErrEmptyRecipients,
		ErrEmptySubject,
		ErrEmptyBody,
		ErrStoreRequired,
		ErrNotConnected,
		ErrAlreadyConnected,
		ErrInvalidID,
		ErrInvalidUserID,
		ErrNotDraft,
		ErrMalformedBatch,
		ErrSubjectTooLong,
		ErrBodyTooLarge,
		ErrInvalidContent,
		ErrTooManyRecipients,
		ErrInvalidRecipient,
		ErrTooManyAttachments,
		ErrAttachmentTooLarge,
		ErrInvalidAttachment,
		ErrInvalidMIMEType,
		ErrAttachmentStoreNotConfigured,
		ErrClassResolverNotConfigured,
		ErrPartialDelivery,
	}

	// Check that each error has a non-empty message
	for i, err := range sentinelErrors {
		if err.Error() == "" {
			t.Errorf("sentinel error at index %d has empty message", i)
		}
	}

	// Check that all errors are distinct
	seen := make(map[string]int)
	for i, err := range sentinelErrors {
		msg := err.Error()
		if prevIndex, exists := seen[msg]; exists {
			t.Errorf("duplicate error message %q at indices %d and %d", msg, prevIndex, i)
		}
		seen[msg] = i
	}
}

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"ErrNotFound matches itself", ErrNotFound, ErrNotFound, true},
		{"ErrNotFound matches store.ErrNotFound", ErrNotFound, store.ErrNotFound, true},
		{"ErrNotFound doesn't match ErrInvalidUserID", ErrNotFound, ErrInvalidUserID, false},
		{"wrapped error matches", wrappedError{err: ErrNotConnected}, ErrNotConnected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

// wrappedError is a helper for testing error wrapping
type wrappedError struct {
	err error
}

func (e wrappedError) Error() string { return "wrapped: " + e.err.Error() }
func (e wrappedError) Unwrap() error { return e.err }
