package pmbox

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmbox/pmbox/store"
)

// MessageLimits holds all message validation limits.
// Used to pass limits to validation functions.
type MessageLimits struct {
	MaxSubjectLength   int
	MaxBodySize        int
	MaxAttachmentSize  int64
	MaxAttachmentCount int
	MaxRecipientCount  int
}

// MinSubjectLength is the minimum subject length (non-empty after trimming).
const MinSubjectLength = 1

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:   DefaultMaxSubjectLength,
		MaxBodySize:        DefaultMaxBodySize,
		MaxAttachmentSize:  DefaultMaxAttachmentSize,
		MaxAttachmentCount: DefaultMaxAttachmentCount,
		MaxRecipientCount:  DefaultMaxRecipientCount,
	}
}

// ValidateSubject validates a message subject using default limits.
func ValidateSubject(subject string) error {
	return ValidateSubjectWithLimits(subject, DefaultLimits())
}

// ValidateSubjectWithLimits validates a message subject against configurable limits.
func ValidateSubjectWithLimits(subject string, limits MessageLimits) error {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) < MinSubjectLength {
		return ErrEmptySubject
	}

	if len(subject) > limits.MaxSubjectLength {
		return fmt.Errorf("%w: subject length %d exceeds max %d", ErrSubjectTooLong, len(subject), limits.MaxSubjectLength)
	}

	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: subject contains invalid UTF-8", ErrInvalidContent)
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("%w: subject contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateBody validates a message body using default limits.
func ValidateBody(body string) error {
	return ValidateBodyWithLimits(body, DefaultLimits())
}

// ValidateBodyWithLimits validates a message body against configurable limits.
func ValidateBodyWithLimits(body string, limits MessageLimits) error {
	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: body size %d exceeds max %d bytes", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}

	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body contains invalid UTF-8", ErrInvalidContent)
	}

	// Null bytes could indicate injection attempts.
	if strings.ContainsRune(body, '\x00') {
		return fmt.Errorf("%w: body contains null bytes", ErrInvalidContent)
	}

	return nil
}

// ValidateRecipients validates the recipient list.
func ValidateRecipients(recipientIDs []string, limits MessageLimits) error {
	if len(recipientIDs) == 0 {
		return ErrEmptyRecipients
	}

	if len(recipientIDs) > limits.MaxRecipientCount {
		return fmt.Errorf("%w: recipient count %d exceeds max %d", ErrTooManyRecipients, len(recipientIDs), limits.MaxRecipientCount)
	}

	// Duplicates are silently deduplicated at send time.
	for _, id := range recipientIDs {
		if id == "" {
			return fmt.Errorf("%w: empty recipient ID", ErrInvalidRecipient)
		}
	}

	return nil
}

// ValidateAttachments validates the attachment list.
func ValidateAttachments(attachments []store.Attachment, limits MessageLimits) error {
	return ValidateAttachmentsWithMIME(attachments, limits, nil, nil)
}

// ValidateAttachmentsWithMIME validates attachments with MIME type restrictions.
// allowedTypes: if non-empty, only these MIME types are allowed.
// blockedTypes: these MIME types are always blocked, even if in allowedTypes.
func ValidateAttachmentsWithMIME(attachments []store.Attachment, limits MessageLimits, allowedTypes, blockedTypes []string) error {
	if len(attachments) > limits.MaxAttachmentCount {
		return fmt.Errorf("%w: attachment count %d exceeds max %d", ErrTooManyAttachments, len(attachments), limits.MaxAttachmentCount)
	}

	for _, a := range attachments {
		if a.GetSize() > limits.MaxAttachmentSize {
			return fmt.Errorf("%w: attachment %q size %d exceeds max %d bytes",
				ErrAttachmentTooLarge, a.GetFilename(), a.GetSize(), limits.MaxAttachmentSize)
		}
		if a.GetFilename() == "" {
			return fmt.Errorf("%w: attachment filename is required", ErrInvalidAttachment)
		}
		if err := ValidateMIMEType(a.GetContentType(), allowedTypes, blockedTypes); err != nil {
			return fmt.Errorf("%w: attachment %q: %v", ErrInvalidMIMEType, a.GetFilename(), err)
		}
	}

	return nil
}

// ValidateMIMEType validates a MIME type against allowed and blocked lists.
// Returns nil if the MIME type is valid.
func ValidateMIMEType(contentType string, allowedTypes, blockedTypes []string) error {
	normalized := normalizeMIMEType(contentType)
	if normalized == "" {
		return fmt.Errorf("empty content type")
	}

	for _, blocked := range blockedTypes {
		if matchMIMEType(normalized, blocked) {
			return fmt.Errorf("content type %q is blocked", contentType)
		}
	}

	if len(allowedTypes) > 0 {
		allowed := false
		for _, a := range allowedTypes {
			if matchMIMEType(normalized, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("content type %q is not allowed", contentType)
		}
	}

	return nil
}

// normalizeMIMEType extracts the base MIME type without parameters.
// e.g., "text/plain; charset=utf-8" -> "text/plain"
func normalizeMIMEType(contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ""
	}
	parts := strings.SplitN(ct, ";", 2)
	return strings.ToLower(strings.TrimSpace(parts[0]))
}

// matchMIMEType checks if contentType matches the pattern.
// Supports wildcards: "image/*" matches "image/png", "image/jpeg", etc.
func matchMIMEType(contentType, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	if pattern == contentType {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(contentType, prefix+"/")
	}

	return false
}

// DefaultBlockedMIMETypes returns MIME types that are commonly blocked for security.
func DefaultBlockedMIMETypes() []string {
	return []string{
		"application/x-msdownload",
		"application/x-executable",
		"application/x-msdos-program",
		"application/x-sh",
		"application/x-shellscript",
		"application/x-bat",
		"application/x-msi",
		"application/vnd.microsoft.portable-executable",
		"application/x-dosexec",
	}
}

// ValidateDraftForSend performs full validation of a draft before sending.
// Sending requires recipients, a subject, and a body; saving does not.
func ValidateDraftForSend(draft store.DraftMessage, limits MessageLimits) error {
	if err := ValidateRecipients(draft.GetRecipientIDs(), limits); err != nil {
		return err
	}
	if err := ValidateSubjectWithLimits(draft.GetSubject(), limits); err != nil {
		return err
	}
	if strings.TrimSpace(draft.GetBody()) == "" {
		return ErrEmptyBody
	}
	if err := ValidateBodyWithLimits(draft.GetBody(), limits); err != nil {
		return err
	}
	return ValidateAttachments(draft.GetAttachments(), limits)
}

// ValidateDraftForSave validates only what a work-in-progress draft must
// already satisfy: size limits on whatever content is present. Empty
// recipients, subject, and body are allowed until send time.
func ValidateDraftForSave(draft store.DraftMessage, limits MessageLimits) error {
	if draft.GetSubject() != "" {
		if err := ValidateSubjectWithLimits(draft.GetSubject(), limits); err != nil {
			return err
		}
	}
	if draft.GetBody() != "" {
		if err := ValidateBodyWithLimits(draft.GetBody(), limits); err != nil {
			return err
		}
	}
	return ValidateAttachments(draft.GetAttachments(), limits)
}
