package pmbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pmbox/pmbox/store"
)

// Sentinel errors for the pmbox package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, pmbox.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a message cannot be found or is not
	// visible to the requesting user. Wraps store.ErrNotFound.
	ErrNotFound = fmt.Errorf("pmbox: %w", store.ErrNotFound)

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("pmbox: invalid message")

	// ErrEmptyRecipients is returned when no recipients are provided.
	// Wraps store.ErrEmptyRecipients.
	ErrEmptyRecipients = fmt.Errorf("pmbox: %w", store.ErrEmptyRecipients)

	// ErrEmptySubject is returned when subject is empty.
	// Wraps store.ErrEmptySubject.
	ErrEmptySubject = fmt.Errorf("pmbox: %w", store.ErrEmptySubject)

	// ErrEmptyBody is returned when a message body is empty at send time.
	ErrEmptyBody = errors.New("pmbox: empty body")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("pmbox: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected.
	ErrNotConnected = fmt.Errorf("pmbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected.
	ErrAlreadyConnected = fmt.Errorf("pmbox: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid message ID is provided.
	// Wraps store.ErrInvalidID.
	ErrInvalidID = fmt.Errorf("pmbox: %w", store.ErrInvalidID)

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("pmbox: invalid user id")

	// ErrNotDraft is returned when a draft-only operation is applied to a
	// sent message.
	ErrNotDraft = errors.New("pmbox: not a draft")

	// ErrMalformedBatch is returned when a batch operation carries an
	// unrecognized state token or mismatched input sequences. The batch is
	// aborted as a whole; no further items are processed.
	ErrMalformedBatch = errors.New("pmbox: malformed batch")

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = errors.New("pmbox: subject too long")

	// ErrBodyTooLarge is returned when body exceeds maximum size.
	ErrBodyTooLarge = errors.New("pmbox: body too large")

	// ErrInvalidContent is returned when message content contains invalid characters.
	ErrInvalidContent = errors.New("pmbox: invalid content")

	// ErrTooManyRecipients is returned when recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("pmbox: too many recipients")

	// ErrInvalidRecipient is returned when a recipient ID is invalid.
	ErrInvalidRecipient = errors.New("pmbox: invalid recipient")

	// ErrTooManyAttachments is returned when attachment count exceeds the limit.
	ErrTooManyAttachments = errors.New("pmbox: too many attachments")

	// ErrAttachmentTooLarge is returned when an attachment exceeds the size limit.
	ErrAttachmentTooLarge = errors.New("pmbox: attachment too large")

	// ErrInvalidAttachment is returned when attachment data is invalid.
	ErrInvalidAttachment = errors.New("pmbox: invalid attachment")

	// ErrInvalidMIMEType is returned when an attachment has a disallowed MIME type.
	ErrInvalidMIMEType = errors.New("pmbox: invalid mime type")

	// ErrAttachmentStoreNotConfigured is returned when attachment access is
	// requested but no attachment manager was configured.
	ErrAttachmentStoreNotConfigured = errors.New("pmbox: attachment store not configured")

	// ErrClassResolverNotConfigured is returned when a class send is
	// requested but no class resolver was configured.
	ErrClassResolverNotConfigured = errors.New("pmbox: class resolver not configured")

	// ErrPartialDelivery is returned when some recipients failed to receive the message.
	ErrPartialDelivery = errors.New("pmbox: partial delivery")
)

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pmbox: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// NotFoundError reports that a message does not exist or is not visible to
// the requesting user. The two cases are deliberately indistinguishable:
// leaking existence of another user's message is an information disclosure.
type NotFoundError struct {
	ID     string
	UserID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pmbox: message %s not found for user %s", e.ID, e.UserID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// PersistenceError wraps a storage-layer failure with the operation that
// triggered it. The underlying driver error is preserved for errors.Is/As.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("pmbox: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// InputError reports malformed caller input to a batch operation, such as
// mismatched id/state sequences or an unrecognized state token.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("pmbox: invalid input for %s: %s", e.Field, e.Message)
}

func (e *InputError) Unwrap() error {
	return ErrMalformedBatch
}

// PartialDeliveryError provides details about which recipients failed.
// The send is not rolled back: delivered recipients keep their copies.
type PartialDeliveryError struct {
	// MessageIDs are the IDs of the per-recipient rows that were created.
	MessageIDs []string
	// DeliveredTo contains recipient IDs that received the message.
	DeliveredTo []string
	// FailedRecipients maps recipient IDs to their delivery errors.
	FailedRecipients map[string]error
}

func (e *PartialDeliveryError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pmbox: partial delivery - %d delivered, %d failed",
		len(e.DeliveredTo), len(e.FailedRecipients))
	if len(e.FailedRecipients) > 0 {
		sb.WriteString(" (failed: ")
		count := 0
		const maxShown = 5
		for id := range e.FailedRecipients {
			if count > 0 {
				sb.WriteString(", ")
			}
			if count >= maxShown {
				fmt.Fprintf(&sb, "...and %d more", len(e.FailedRecipients)-maxShown)
				break
			}
			sb.WriteString(id)
			count++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *PartialDeliveryError) Unwrap() error {
	return ErrPartialDelivery
}

// AllFailed returns true if no recipients received the message.
func (e *PartialDeliveryError) AllFailed() bool {
	return len(e.DeliveredTo) == 0
}

// RetryableRecipients returns the recipient IDs whose failures are transient
// and worth retrying.
func (e *PartialDeliveryError) RetryableRecipients() []string {
	var out []string
	for id, err := range e.FailedRecipients {
		if IsRetryableError(err) {
			out = append(out, id)
		}
	}
	return out
}

// PermanentFailures returns the recipient IDs whose failures are permanent.
func (e *PartialDeliveryError) PermanentFailures() []string {
	var out []string
	for id, err := range e.FailedRecipients {
		if !IsRetryableError(err) {
			out = append(out, id)
		}
	}
	return out
}

// HasRetryableFailures reports whether any failed recipient can be retried.
func (e *PartialDeliveryError) HasRetryableFailures() bool {
	for _, err := range e.FailedRecipients {
		if IsRetryableError(err) {
			return true
		}
	}
	return false
}

// SuccessRate returns the fraction of recipients that were delivered to,
// between 0 and 1. Returns 0 when there were no recipients at all.
func (e *PartialDeliveryError) SuccessRate() float64 {
	total := len(e.DeliveredTo) + len(e.FailedRecipients)
	if total == 0 {
		return 0
	}
	return float64(len(e.DeliveredTo)) / float64(total)
}

// IsPartialDelivery checks if the error is a partial delivery error and returns details.
func IsPartialDelivery(err error) (*PartialDeliveryError, bool) {
	var pde *PartialDeliveryError
	if errors.As(err, &pde) {
		return pde, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The message was sent/read/deleted, only the notification failed.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageSent", "MessageRead")
	MessageID string // The message ID the event was for
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("pmbox: event %s publish failed for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the
// operation itself succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both service-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	permanentErrors := []error{
		ErrNotFound,
		ErrInvalidMessage,
		ErrEmptyRecipients,
		ErrEmptySubject,
		ErrEmptyBody,
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
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		store.ErrFilterInvalid,
		store.ErrNotEligible,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	retryableErrors := []error{
		ErrNotConnected,
		store.ErrNotConnected,
		store.ErrTransactionFailed,
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// Unknown errors default to retryable: they are most likely transient
	// network or timeout failures.
	return true
}
