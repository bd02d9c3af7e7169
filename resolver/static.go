// Package resolver provides RecipientResolver and ClassResolver implementations.
package resolver

import (
	"context"
	"fmt"

	"github.com/pmbox/pmbox"
)

// Static is a map-based RecipientResolver for testing and simple deployments.
// It resolves user IDs from an in-memory map. Safe for concurrent use (read-only after creation).
type Static struct {
	recipients map[string]*pmbox.Recipient
}

// NewStatic creates a Static resolver from a map of user ID to Recipient.
// The map is copied to prevent external mutation.
func NewStatic(recipients map[string]*pmbox.Recipient) *Static {
	m := make(map[string]*pmbox.Recipient, len(recipients))
	for k, v := range recipients {
		m[k] = v
	}
	return &Static{recipients: m}
}

// Resolve returns recipient information for a single user ID.
func (s *Static) Resolve(_ context.Context, userID string) (*pmbox.Recipient, error) {
	r, ok := s.recipients[userID]
	if !ok {
		return nil, fmt.Errorf("recipient not found: %s", userID)
	}
	return r, nil
}

// ResolveBatch returns recipient information for multiple user IDs.
// Unknown IDs have nil entries in the returned slice.
func (s *Static) ResolveBatch(_ context.Context, userIDs []string) ([]*pmbox.Recipient, error) {
	result := make([]*pmbox.Recipient, len(userIDs))
	for i, id := range userIDs {
		result[i] = s.recipients[id]
	}
	return result, nil
}

// StaticClasses is a map-based ClassResolver for testing and simple
// deployments. A class reference resolves to a fixed member list. Safe for
// concurrent use (read-only after creation).
type StaticClasses struct {
	classes map[string][]string
}

// NewStaticClasses creates a StaticClasses resolver from a map of class
// reference to member user IDs. The map and member slices are copied to
// prevent external mutation.
func NewStaticClasses(classes map[string][]string) *StaticClasses {
	m := make(map[string][]string, len(classes))
	for ref, members := range classes {
		cp := make([]string, len(members))
		copy(cp, members)
		m[ref] = cp
	}
	return &StaticClasses{classes: m}
}

// Members returns the member user IDs for a class reference.
func (s *StaticClasses) Members(_ context.Context, classRef string) ([]string, error) {
	members, ok := s.classes[classRef]
	if !ok {
		return nil, fmt.Errorf("class not found: %s", classRef)
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}
