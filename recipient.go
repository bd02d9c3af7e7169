package pmbox

import (
	"context"
	"strings"
)

// Recipient contains resolved information about a user.
type Recipient struct {
	// UserID is the unique user identifier.
	UserID string
	// Name is the display name of the user.
	Name string
	// Email is the user's email address (optional).
	Email string
}

// RecipientResolver maps user IDs to recipient information.
// Implementations should be safe for concurrent use.
//
// Example use cases:
//   - Populate "From" display names in inbox views
//   - Resolve email addresses for notification delivery
//   - Validate that recipient IDs are valid users
type RecipientResolver interface {
	// Resolve returns recipient information for a single user ID.
	Resolve(ctx context.Context, userID string) (*Recipient, error)

	// ResolveBatch returns recipient information for multiple user IDs.
	// Returns results in the same order as input. Unknown IDs have nil entries.
	ResolveBatch(ctx context.Context, userIDs []string) ([]*Recipient, error)
}

// ClassResolver expands a user-class reference into its member IDs.
// A class send fans out one message per member, in chunks.
type ClassResolver interface {
	// Members returns the user IDs belonging to the given class reference.
	Members(ctx context.Context, classRef string) ([]string, error)
}

// SendMode identifies how a recipient field is interpreted at send time.
type SendMode string

// Send modes.
const (
	// SendModeIndividual delivers to a single recipient.
	SendModeIndividual SendMode = "individual"
	// SendModeMultiple delivers to an explicit list of recipients.
	SendModeMultiple SendMode = "multiple"
	// SendModeClass delivers to every member of a user class.
	SendModeClass SendMode = "class"
)

// classPrefix marks a recipient field as a class reference.
const classPrefix = "class:"

// ParseRecipientField classifies a raw recipient field and extracts its
// content. A field starting with "class:" is a class reference; a field
// containing commas is an explicit recipient list; anything else is a
// single recipient. Empty segments are dropped.
//
//	"42"              -> individual, ["42"]
//	"1,2,3"           -> multiple, ["1", "2", "3"]
//	"class:teachers"  -> class, classRef "teachers"
func ParseRecipientField(field string) (mode SendMode, recipientIDs []string, classRef string) {
	field = strings.TrimSpace(field)

	if rest, ok := strings.CutPrefix(field, classPrefix); ok {
		return SendModeClass, nil, strings.TrimSpace(rest)
	}

	if strings.Contains(field, ",") {
		for _, part := range strings.Split(field, ",") {
			if id := strings.TrimSpace(part); id != "" {
				recipientIDs = append(recipientIDs, id)
			}
		}
		return SendModeMultiple, recipientIDs, ""
	}

	if field == "" {
		return SendModeIndividual, nil, ""
	}
	return SendModeIndividual, []string{field}, ""
}

// dedupeRecipients returns a list of unique recipient IDs, preserving order.
func dedupeRecipients(recipientIDs []string) []string {
	seen := make(map[string]bool, len(recipientIDs))
	unique := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
