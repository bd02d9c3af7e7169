package pmbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pmbox/pmbox/store"
)

// Plugin is the lifecycle contract for messaging extensions. A plugin
// that also implements SendHook participates in the send pipeline;
// everything else (read, star, delete) is observable through the event
// system (MessageSent, MessageRead, MessageDeleted).
type Plugin interface {
	// Name identifies the plugin in errors and logs.
	Name() string
	// Init runs when the service connects.
	Init(ctx context.Context) error
	// Close runs when the service shuts down.
	Close(ctx context.Context) error
}

// SendHook intercepts the send pipeline. Spam filtering, rate limiting
// and content policy belong here.
type SendHook interface {
	Plugin
	// BeforeSend runs after validation but before any row is written.
	// Returning an error aborts the send.
	BeforeSend(ctx context.Context, userID string, draft store.DraftMessage) error
	// AfterSend runs once a send has produced at least one delivery.
	// Sending fans out one row per recipient; msgs holds the created
	// rows. An error here surfaces to the sender but the deliveries
	// stand.
	AfterSend(ctx context.Context, userID string, msgs []store.Message) error
}

// PluginError reports which plugin failed and during which operation.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// pluginRegistry indexes plugins by the hooks they implement.
type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)
	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
}

// initAll initializes plugins in registration order. A failure unwinds
// the plugins initialized so far, in reverse, before returning.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		err := p.Init(ctx)
		if err == nil {
			continue
		}
		r.unwind(ctx, i)
		return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
	}
	return nil
}

// unwind closes plugins [0, n) in reverse order, logging close failures.
func (r *pluginRegistry) unwind(ctx context.Context, n int) {
	for j := n - 1; j >= 0; j-- {
		if err := r.all[j].Close(ctx); err != nil {
			r.logger.Error("failed to close plugin during init rollback",
				"plugin", r.all[j].Name(), "error", err)
		}
	}
}

// closeAll closes every plugin in reverse registration order and joins
// the failures.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (r *pluginRegistry) beforeSend(ctx context.Context, userID string, draft store.DraftMessage) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, userID, draft); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSend(ctx context.Context, userID string, msgs []store.Message) error {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, userID, msgs); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSend", Err: err}
		}
	}
	return nil
}
