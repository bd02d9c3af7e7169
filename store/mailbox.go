package store

import "time"

// Mailbox identifies one of the five virtual mailboxes. Mailboxes are not
// rows in the store: each one is a predicate over the single message table,
// produced by MailboxFilters.
type Mailbox string

// Mailbox constants.
const (
	MailboxInbox    Mailbox = "inbox"
	MailboxOutbox   Mailbox = "outbox"
	MailboxDraftbox Mailbox = "draftbox"
	MailboxStarbox  Mailbox = "starbox"
	MailboxTrashbox Mailbox = "trashbox"
)

// Mailboxes lists all valid mailboxes in display order.
var Mailboxes = []Mailbox{
	MailboxInbox,
	MailboxOutbox,
	MailboxDraftbox,
	MailboxStarbox,
	MailboxTrashbox,
}

// String returns the mailbox name.
func (m Mailbox) String() string { return string(m) }

// Valid reports whether m is one of the five known mailboxes.
func (m Mailbox) Valid() bool {
	switch m {
	case MailboxInbox, MailboxOutbox, MailboxDraftbox, MailboxStarbox, MailboxTrashbox:
		return true
	}
	return false
}

// ResolveMailbox maps a requested mailbox name to a Mailbox. Unknown names,
// including the empty string, resolve to MailboxInbox. The fallback is a
// safety default, not an error: callers pass through user-supplied strings
// and always land somewhere sensible.
func ResolveMailbox(name string) Mailbox {
	m := Mailbox(name)
	if !m.Valid() {
		return MailboxInbox
	}
	return m
}

// ReadFilter narrows a mailbox listing by read state.
type ReadFilter string

// ReadFilter constants.
const (
	// FilterAll selects every message in the mailbox.
	FilterAll ReadFilter = "all"
	// FilterUnread selects only messages whose read marker is unset.
	FilterUnread ReadFilter = "unread"
)

// ResolveReadFilter maps a requested filter name to a ReadFilter.
// Unknown names resolve to FilterAll.
func ResolveReadFilter(name string) ReadFilter {
	if ReadFilter(name) == FilterUnread {
		return FilterUnread
	}
	return FilterAll
}

// MailboxFilters produces the selection predicate for listing a user's
// mailbox. Pure function of its inputs: the requesting user is an explicit
// parameter, never ambient state.
//
// trashEmptiedAt is the user's trash-emptied watermark and only affects the
// trashbox: soft-deleted messages whose deletion timestamp is at or before
// the watermark are hidden. Pass the zero time if the user has never
// emptied their trash.
//
// Predicate semantics, with U the requesting user:
//
//	inbox:    recipient=U AND NOT recipient-deleted AND NOT draft
//	outbox:   sender=U    AND NOT recipient-deleted AND NOT draft
//	draftbox: sender=U    AND drafted AND NOT sent  AND NOT recipient-deleted
//	starbox:  ((recipient=U AND recipient-starred) OR (sender=U AND sender-starred))
//	          AND NOT recipient-deleted
//	trashbox: recipient=U AND recipient-deleted AND deleted-after-watermark
//
// rf=FilterUnread appends "read marker unset" to any of the above.
func MailboxFilters(box Mailbox, rf ReadFilter, userID string, trashEmptiedAt time.Time) []Filter {
	var filters []Filter

	switch box {
	case MailboxOutbox:
		filters = []Filter{SenderIs(userID), NotDeletedByRecipient(), NotDraft()}
	case MailboxDraftbox:
		filters = []Filter{SenderIs(userID), IsDrafted(), NotSent(), NotDeletedByRecipient()}
	case MailboxStarbox:
		filters = []Filter{
			AnyOf(
				[]Filter{RecipientIs(userID), StarredBy(PartyRecipient)},
				[]Filter{SenderIs(userID), StarredBy(PartySender)},
			),
			NotDeletedByRecipient(),
		}
	case MailboxTrashbox:
		filters = []Filter{RecipientIs(userID), DeletedByRecipient(), DeletedAfter(trashEmptiedAt)}
	default:
		// MailboxInbox, and anything unresolved upstream.
		filters = []Filter{RecipientIs(userID), NotDeletedByRecipient(), NotDraft()}
	}

	if rf == FilterUnread {
		filters = append(filters, Unread())
	}
	return filters
}
