package pmbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/retry"
	"github.com/pmbox/pmbox/store"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Type aliases for commonly used store types.
// These allow users to work with the pmbox package without importing store directly.
type (
	ListOptions = store.ListOptions
	SortOrder   = store.SortOrder
	Box         = store.Mailbox
)

// Re-exported sort order constants.
const (
	SortAsc  = store.SortAsc
	SortDesc = store.SortDesc
)

// Mailbox names accepted by Open. Unknown names fall back to the inbox.
const (
	BoxInbox    = string(store.MailboxInbox)
	BoxOutbox   = string(store.MailboxOutbox)
	BoxDraftbox = string(store.MailboxDraftbox)
	BoxStarbox  = string(store.MailboxStarbox)
	BoxTrashbox = string(store.MailboxTrashbox)
)

// Read filter names accepted by Open. Unknown names fall back to "all".
const (
	FilterAll    = string(store.FilterAll)
	FilterUnread = string(store.FilterUnread)
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the private messaging system (server-side).
// It handles connections to storage and creates per-user mailbox clients.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client for the given user.
	// The returned client shares the service's connections.
	Client(userID string) Mailbox
	// PurgeDeleted permanently removes messages that both parties have
	// deleted and neither has starred. Call this periodically using your
	// application's scheduler.
	PurgeDeleted(ctx context.Context) (*PurgeResult, error)
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing.
	Events() *ServiceEvents
}

// MessageReader provides single message retrieval.
type MessageReader interface {
	// Get retrieves a message by ID. The message must belong to the user
	// as sender or recipient; otherwise NotFoundError is returned.
	Get(ctx context.Context, messageID string, opts ...GetOption) (Message, error)
}

// MessageLister provides mailbox listing.
// Every mailbox is a view over the same message rows; Open selects one by
// name, and the convenience methods cover the common boxes.
type MessageLister interface {
	// Open lists the named mailbox filtered by the named read filter.
	// Unknown mailbox names resolve to the inbox; unknown filter names
	// resolve to "all".
	Open(ctx context.Context, mailbox, filter string, opts ListOptions) (MessageList, error)

	Inbox(ctx context.Context, opts ListOptions) (MessageList, error)
	Outbox(ctx context.Context, opts ListOptions) (MessageList, error)
	Starred(ctx context.Context, opts ListOptions) (MessageList, error)
	Trash(ctx context.Context, opts ListOptions) (MessageList, error)
}

// MessageStreamer provides streaming access to messages.
// Use streaming for memory-efficient processing of large result sets.
// For paginated UI with bulk operations, use MessageLister instead.
type MessageStreamer interface {
	// Stream returns an iterator over the named mailbox.
	Stream(ctx context.Context, mailbox, filter string, opts StreamOptions) (MessageIterator, error)
}

// DraftLister provides draft listing.
type DraftLister interface {
	Drafts(ctx context.Context, opts ListOptions) (DraftList, error)
}

// MessageComposer provides message composition.
type MessageComposer interface {
	// Compose starts a new draft. Call Draft.Save to keep it in the
	// draftbox or Draft.Send to deliver it.
	Compose() (Draft, error)
	// EditDraft reopens a saved draft for editing. Saving it again
	// updates the existing draft in place.
	EditDraft(ctx context.Context, draftID string) (Draft, error)
	// Discard permanently removes a saved draft.
	Discard(ctx context.Context, draftID string) error
}

// MessageMutator provides single-message state changes.
type MessageMutator interface {
	// ToggleRead flips the read marker. currentState is the state the
	// caller last observed ("read" or "unread"); the message moves to the
	// opposite state. Returns the new state token. Draft rows are left
	// untouched.
	ToggleRead(ctx context.Context, messageID, currentState string) (string, error)

	// ToggleStar atomically flips the star flag for the user's side of the
	// message and returns the new value.
	ToggleStar(ctx context.Context, messageID string) (bool, error)

	// Delete removes the message from the user's view. The row is
	// physically destroyed only once both parties have deleted it (or
	// force is set) and neither party has it starred.
	Delete(ctx context.Context, messageID string, force bool) (*DeleteResult, error)

	// EmptyTrash hides everything currently in the user's trashbox by
	// advancing the trash-emptied watermark. Rows are not touched.
	EmptyTrash(ctx context.Context) error

	// MarkAllRead marks every unread message in the named mailbox read.
	// Returns the number of messages marked.
	MarkAllRead(ctx context.Context, mailbox string) (int64, error)
}

// BatchOperator provides batch state changes over parallel ID/state slices.
type BatchOperator interface {
	// BatchStarOrRead applies one toggle per (id, state) pair. The slices
	// must be the same length. A malformed state token aborts the batch;
	// pairs before the bad token keep their applied changes.
	BatchStarOrRead(ctx context.Context, messageIDs, states []string) (*BatchResult, error)
}

// StatsReader provides aggregate mailbox statistics.
type StatsReader interface {
	// Stats returns per-mailbox totals and unread counts for the user.
	Stats(ctx context.Context) (*store.MailboxStats, error)
}

// AttachmentLoader provides attachment access.
type AttachmentLoader interface {
	LoadAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error)
}

// DraftClient provides draft-related operations.
type DraftClient interface {
	DraftLister
	MessageComposer
}

// MessageClient provides message read operations.
type MessageClient interface {
	MessageReader
	MessageLister
	MessageStreamer
}

// Mailbox provides private messaging functionality for a single user.
// This is the main interface for mailbox operations.
//
// Composed of focused client interfaces:
//   - MessageClient: Read operations (Get, Open, box listings, Stream)
//   - DraftClient: Draft operations (Drafts, Compose, EditDraft, Discard)
//   - MessageMutator: State changes (ToggleRead, ToggleStar, Delete, EmptyTrash)
//   - BatchOperator: Batch toggles (BatchStarOrRead)
//   - StatsReader: Aggregate counts (Stats)
//   - AttachmentLoader: Attachment content (LoadAttachment)
type Mailbox interface {
	UserID() string
	MessageClient
	DraftClient
	MessageMutator
	BatchOperator
	StatsReader
	AttachmentLoader
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store       store.Store
	attachments store.AttachmentManager
	logger      *slog.Logger
	opts        *options
	state       int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins     *pluginRegistry
	otel        *otelInstrumentation
	sendSem     *semaphore.Weighted // Limits concurrent sends to prevent resource exhaustion
	sendRetryCfg retry.Config       // Retry policy for fan-out chunk creation
	eventBus    *event.Bus          // Event bus for publishing events
	events      *ServiceEvents      // Per-service event instances
	statsCache  sync.Map            // userID -> *statsEntry
}

// New creates a new messaging service.
// Call Connect() to establish connections to backends.
func New(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	// Initialize plugin registry
	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:       o.store,
		attachments: o.attachments,
		logger:      o.logger,
		opts:        o,
		plugins:     plugins,
		otel:        otelInstr,
		sendSem:     semaphore.NewWeighted(int64(o.maxConcurrentSends)),
		sendRetryCfg: retry.Config{
			MaxRetries:     2,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2.0,
			Jitter:         0.1,
			IsRetryable:    IsRetryableError,
		},
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Client() from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	// Initialize event bus with appropriate transport
	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	// Initialize plugins
	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("pmbox service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own per-service events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "pmbox"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	// Create and register per-service events (unique per service instance).
	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	// Keep the stats cache in sync with message activity.
	if err := s.subscribeStatsHandlers(ctx); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("subscribe stats handlers: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight send operations to complete (graceful shutdown).
	// After setting state to disconnected, no new sends can start because checkAccess fails.
	// We acquire all semaphore slots to wait for existing operations to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
		s.logger.Info("all in-flight operations completed")
	}

	// Close plugins first (reverse order of init)
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a mailbox client for the given user.
func (s *service) Client(userID string) Mailbox {
	return &userMailbox{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// This prevents cache key injection and other security issues.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// userMailbox is the default implementation of Mailbox.
type userMailbox struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this mailbox.
func (m *userMailbox) UserID() string {
	return m.userID
}

// isConnected checks if the service is connected.
func (m *userMailbox) isConnected() bool {
	return atomic.LoadInt32(&m.service.state) == stateConnected
}

// checkAccess verifies the mailbox is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (m *userMailbox) checkAccess() error {
	if !m.isConnected() {
		return ErrNotConnected
	}
	if !m.validUserID {
		return ErrInvalidUserID
	}
	return nil
}

// Compose starts a new message draft.
func (m *userMailbox) Compose() (Draft, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return newDraft(m), nil
}

// EditDraft reopens a saved draft for editing.
func (m *userMailbox) EditDraft(ctx context.Context, draftID string) (Draft, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if draftID == "" {
		return nil, &ValidationError{Field: "id", Message: "draft ID is required"}
	}

	d, err := m.service.store.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{ID: draftID, UserID: m.userID}
		}
		return nil, &PersistenceError{Op: "get draft", Err: err}
	}
	if d.GetOwnerID() != m.userID {
		// Not distinguishable from a missing draft.
		return nil, &NotFoundError{ID: draftID, UserID: m.userID}
	}

	return &draft{mailbox: m, message: d, saved: true}, nil
}

// getOptions holds options for Get.
type getOptions struct {
	markRead bool
}

// GetOption configures a Get call.
type GetOption func(*getOptions)

// WithMarkRead marks the message read on retrieval when the user is the
// recipient and the message is unread. Mirrors opening a message in a UI.
func WithMarkRead() GetOption {
	return func(o *getOptions) {
		o.markRead = true
	}
}

// Get retrieves a message by ID, restricted to the user's own messages.
func (m *userMailbox) Get(ctx context.Context, messageID string, opts ...GetOption) (Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	// OTel tracing
	ctx, endSpan := m.service.otel.startSpan(ctx, "pmbox.get",
		attribute.String("user_id", m.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	var getErr error
	defer func() {
		endSpan(getErr)
		m.service.otel.recordGet(ctx, time.Since(start), getErr)
	}()

	msg, storeErr := m.service.store.GetOwned(ctx, messageID, m.userID)
	if storeErr != nil {
		if errors.Is(storeErr, store.ErrNotFound) {
			getErr = &NotFoundError{ID: messageID, UserID: m.userID}
			return nil, getErr
		}
		getErr = &PersistenceError{Op: "get message", Err: storeErr}
		return nil, getErr
	}

	if o.markRead && msg.GetRecipientID() == m.userID && !store.IsRead(msg) {
		now := time.Now().UTC()
		if err := m.service.store.MarkRead(ctx, messageID, true, now); err != nil {
			getErr = &PersistenceError{Op: "mark read", Err: err}
			return nil, getErr
		}
		if err := m.publishReadEvent(ctx, messageID, true, now); err != nil {
			getErr = err
			return nil, getErr
		}
		msg, storeErr = m.service.store.GetOwned(ctx, messageID, m.userID)
		if storeErr != nil {
			getErr = &PersistenceError{Op: "get message", Err: storeErr}
			return nil, getErr
		}
	}

	return newMessage(msg, m), nil
}

// Open lists the named mailbox filtered by the named read filter.
func (m *userMailbox) Open(ctx context.Context, mailbox, filter string, opts ListOptions) (MessageList, error) {
	box := store.ResolveMailbox(mailbox)
	rf := store.ResolveReadFilter(filter)

	// Drafts live in their own store; present them through the same
	// list shape as the other boxes.
	if box == store.MailboxDraftbox {
		return m.openDraftbox(ctx, opts)
	}

	return m.listWithOTel(ctx, box.String(), opts, func() ([]store.Filter, error) {
		var watermark time.Time
		if box == store.MailboxTrashbox {
			var err error
			watermark, err = m.service.store.TrashEmptiedAt(ctx, m.userID)
			if err != nil {
				return nil, fmt.Errorf("trash watermark: %w", err)
			}
		}
		return store.MailboxFilters(box, rf, m.userID, watermark), nil
	})
}

// Inbox returns messages received by the user, excluding deleted ones.
func (m *userMailbox) Inbox(ctx context.Context, opts ListOptions) (MessageList, error) {
	return m.Open(ctx, BoxInbox, FilterAll, opts)
}

// Outbox returns messages sent by the user that the recipient has not deleted.
func (m *userMailbox) Outbox(ctx context.Context, opts ListOptions) (MessageList, error) {
	return m.Open(ctx, BoxOutbox, FilterAll, opts)
}

// Starred returns messages the user has starred on their side.
func (m *userMailbox) Starred(ctx context.Context, opts ListOptions) (MessageList, error) {
	return m.Open(ctx, BoxStarbox, FilterAll, opts)
}

// Trash returns messages the user has deleted since last emptying their trash.
func (m *userMailbox) Trash(ctx context.Context, opts ListOptions) (MessageList, error) {
	return m.Open(ctx, BoxTrashbox, FilterAll, opts)
}

// openDraftbox lists the user's drafts through the MessageList shape.
func (m *userMailbox) openDraftbox(ctx context.Context, opts ListOptions) (MessageList, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "pmbox.list",
		attribute.String("user_id", m.userID),
		attribute.String("mailbox", BoxDraftbox),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		m.service.otel.recordList(ctx, time.Since(start), BoxDraftbox, resultCount, listErr)
	}()

	opts = m.clampListOptions(opts)
	drafts, err := m.service.store.ListDrafts(ctx, m.userID, opts)
	if err != nil {
		listErr = err
		return nil, &PersistenceError{Op: "list drafts", Err: err}
	}
	resultCount = len(drafts.Drafts)

	msgs := make([]store.Message, len(drafts.Drafts))
	for i, d := range drafts.Drafts {
		msgs[i] = newDraftView(d)
	}

	return wrapMessageList(&store.MessageList{
		Messages:   msgs,
		Total:      drafts.Total,
		HasMore:    drafts.HasMore,
		NextCursor: drafts.NextCursor,
	}, m), nil
}

// Drafts returns draft messages for the current user.
func (m *userMailbox) Drafts(ctx context.Context, opts ListOptions) (DraftList, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	opts = m.clampListOptions(opts)
	storeDrafts, err := m.service.store.ListDrafts(ctx, m.userID, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "list drafts", Err: err}
	}

	drafts := make([]Draft, len(storeDrafts.Drafts))
	for i, d := range storeDrafts.Drafts {
		drafts[i] = &draft{
			mailbox: m,
			message: d,
			saved:   true,
		}
	}

	return &draftList{
		mailbox:    m,
		drafts:     drafts,
		total:      storeDrafts.Total,
		hasMore:    storeDrafts.HasMore,
		nextCursor: storeDrafts.NextCursor,
	}, nil
}

// listWithOTel is a helper that adds OTel instrumentation to list operations.
func (m *userMailbox) listWithOTel(ctx context.Context, mailbox string, opts ListOptions, getFilters func() ([]store.Filter, error)) (MessageList, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	// OTel tracing
	ctx, endSpan := m.service.otel.startSpan(ctx, "pmbox.list",
		attribute.String("user_id", m.userID),
		attribute.String("mailbox", mailbox),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		m.service.otel.recordList(ctx, time.Since(start), mailbox, resultCount, listErr)
	}()

	filters, err := getFilters()
	if err != nil {
		listErr = err
		return nil, err
	}
	storeList, err := m.listMessages(ctx, filters, opts)
	if err != nil {
		listErr = err
		return nil, err
	}
	resultCount = len(storeList.Messages)

	return wrapMessageList(storeList, m), nil
}

// clampListOptions applies default and maximum query limits.
func (m *userMailbox) clampListOptions(opts ListOptions) ListOptions {
	if opts.Limit == 0 {
		opts.Limit = m.service.opts.defaultQueryLimit
	}
	if opts.Limit > m.service.opts.maxQueryLimit {
		opts.Limit = m.service.opts.maxQueryLimit
	}
	return opts
}

func (m *userMailbox) listMessages(ctx context.Context, filters []store.Filter, opts ListOptions) (*store.MessageList, error) {
	opts = m.clampListOptions(opts)
	if opts.SortBy == "" {
		opts.SortBy = "SentAt"
		opts.SortOrder = store.SortDesc
	}

	// Fast path: use combined find+count if the store supports it.
	var list *store.MessageList
	var total int64
	if fwc, ok := m.service.store.(store.FindWithCounter); ok {
		var err error
		list, total, err = fwc.FindWithCount(ctx, filters, opts)
		if err != nil {
			return nil, &PersistenceError{Op: "find messages", Err: err}
		}
	} else {
		var err error
		list, err = m.service.store.Find(ctx, filters, opts)
		if err != nil {
			return nil, &PersistenceError{Op: "find messages", Err: err}
		}
		total, err = m.service.store.Count(ctx, filters)
		if err != nil {
			return nil, &PersistenceError{Op: "count messages", Err: err}
		}
	}

	var nextCursor string
	if list.HasMore && len(list.Messages) > 0 {
		nextCursor = list.Messages[len(list.Messages)-1].GetID()
	}

	return &store.MessageList{
		Messages:   list.Messages,
		Total:      total,
		HasMore:    list.HasMore,
		NextCursor: nextCursor,
	}, nil
}

// LoadAttachment loads attachment content by message and attachment ID.
func (m *userMailbox) LoadAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	if m.service.attachments == nil {
		return nil, ErrAttachmentStoreNotConfigured
	}

	// Get the message to verify access and find the attachment
	msg, err := m.service.store.GetOwned(ctx, messageID, m.userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{ID: messageID, UserID: m.userID}
		}
		return nil, &PersistenceError{Op: "get message", Err: err}
	}

	var found bool
	for _, a := range msg.GetAttachments() {
		if a.GetID() == attachmentID {
			found = true
			break
		}
	}
	if !found {
		return nil, &NotFoundError{ID: attachmentID, UserID: m.userID}
	}

	return m.service.attachments.Load(ctx, attachmentID)
}

// publishReadEvent publishes a MessageRead event, honoring eventErrorsFatal.
// Returns an EventPublishError only when event errors are fatal.
func (m *userMailbox) publishReadEvent(ctx context.Context, messageID string, read bool, at time.Time) error {
	if err := m.service.events.MessageRead.Publish(ctx, MessageReadEvent{
		MessageID: messageID,
		UserID:    m.userID,
		Read:      read,
		At:        at,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			return &EventPublishError{Event: "MessageRead", MessageID: messageID, Err: err}
		}
		m.service.opts.safeEventPublishFailure("MessageRead", err)
	}
	return nil
}

// releaseAttachmentRefs decrements reference counts for all attachments in a
// message. Failures are logged and counted but processing continues; a purged
// message must not come back just because a ref release failed.
func (m *userMailbox) releaseAttachmentRefs(ctx context.Context, msg store.Message) (released, failed int) {
	return releaseAttachmentRefs(ctx, m.service, msg)
}

func releaseAttachmentRefs(ctx context.Context, s *service, msg store.Message) (released, failed int) {
	if s.attachments == nil {
		return 0, 0
	}
	for _, a := range msg.GetAttachments() {
		if err := s.attachments.RemoveRef(ctx, a.GetID()); err != nil {
			s.logger.Warn("failed to release attachment ref",
				"error", err, "attachment_id", a.GetID(), "message_id", msg.GetID())
			failed++
			continue
		}
		released++
	}
	return released, failed
}
