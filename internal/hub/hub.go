// Package hub is the single funnel every delivery channel writes through.
// It owns the dedup ledger check, the inbox upsert, sender classification
// and presentation so that a notification arriving on several channels is
// stored once and surfaced once.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nhle/sitenotify/internal/dedup"
	"github.com/nhle/sitenotify/internal/inbox"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/present"
)

// Server propagates user actions to the backend.
type Server interface {
	MarkRead(ctx context.Context, id model.ID) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id model.ID) error
}

// Identity is the signed-in user as far as classification is concerned.
type Identity struct {
	UserID model.ID
	Role   string
}

// Options configures a Hub.
type Options struct {
	Ledger    *dedup.Ledger
	Inbox     *inbox.Inbox
	Presenter *present.Presenter
	Server    Server
	Identity  func() Identity
	Logger    *slog.Logger
}

// Hub serializes ingestion across channels.
type Hub struct {
	mu         sync.Mutex
	ledger     *dedup.Ledger
	inbox      *inbox.Inbox
	presenter  *present.Presenter
	server     Server
	identity   func() Identity
	logger     *slog.Logger
	visibility present.Visibility

	subMu   sync.Mutex
	subs    map[int]func(model.Notification, model.Origin)
	nextSub int
}

// New creates a hub. Ledger and Inbox default to fresh instances.
func New(opts Options) *Hub {
	if opts.Ledger == nil {
		opts.Ledger = dedup.New(dedup.DefaultCapacity)
	}
	if opts.Inbox == nil {
		opts.Inbox = inbox.New("")
	}
	if opts.Presenter == nil {
		opts.Presenter = present.NewPresenter(nil, nil)
	}
	if opts.Identity == nil {
		opts.Identity = func() Identity { return Identity{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		ledger:    opts.Ledger,
		inbox:     opts.Inbox,
		presenter: opts.Presenter,
		server:    opts.Server,
		identity:  opts.Identity,
		logger:    opts.Logger,
		subs:      make(map[int]func(model.Notification, model.Origin)),
	}
}

// Inbox returns the backing inbox.
func (h *Hub) Inbox() *inbox.Inbox {
	return h.inbox
}

// Ingest accepts one pushed notification. It reports whether the
// notification was new to this client.
func (h *Hub) Ingest(ctx context.Context, origin model.Origin, n model.Notification) bool {
	n.Normalize()
	if n.ID == "" {
		return false
	}

	h.mu.Lock()
	if h.ledger.HasProcessed(n.ID) {
		h.mu.Unlock()
		h.logger.Debug("duplicate notification dropped", "id", n.ID, "origin", origin)
		return false
	}
	h.ledger.MarkProcessed(n.ID)
	added := h.inbox.Add(n)
	if added {
		h.presentLocked(n, origin)
	}
	h.mu.Unlock()

	if added {
		h.notify(n, origin)
	}
	return added
}

// Merge upserts a server listing without purging, as returned by the
// catch-up fetch and the fallback poll. Server read state is authoritative.
// It returns the number of notifications the ledger had not seen.
func (h *Hub) Merge(ctx context.Context, origin model.Origin, ns []model.Notification) int {
	return h.apply(origin, ns, false)
}

// Reconcile applies a full server listing: everything listed is upserted,
// every local notification the server no longer lists is purged, and only
// ids the ledger had not seen are presented. It returns that count.
func (h *Hub) Reconcile(ctx context.Context, origin model.Origin, ns []model.Notification) int {
	return h.apply(origin, ns, true)
}

func (h *Hub) apply(origin model.Origin, ns []model.Notification, purge bool) int {
	h.mu.Lock()
	var unseen []model.Notification
	for _, n := range ns {
		n.Normalize()
		if n.ID == "" || h.ledger.HasProcessed(n.ID) {
			continue
		}
		h.ledger.MarkProcessed(n.ID)
		unseen = append(unseen, n)
	}

	var added []model.ID
	if purge {
		added = h.inbox.Reconcile(ns)
	} else {
		added = h.inbox.AddNotifications(ns)
	}
	isAdded := make(map[model.ID]struct{}, len(added))
	for _, id := range added {
		isAdded[id] = struct{}{}
	}

	var surfaced []model.Notification
	for _, n := range unseen {
		if _, ok := isAdded[n.ID]; !ok {
			continue
		}
		h.presentLocked(n, origin)
		surfaced = append(surfaced, n)
	}
	h.mu.Unlock()

	for _, n := range surfaced {
		h.notify(n, origin)
	}
	return len(unseen)
}

// presentLocked classifies n and hands it to the presenter. A read
// notification is stored but not surfaced.
func (h *Hub) presentLocked(n model.Notification, origin model.Origin) {
	if n.Read {
		return
	}
	if h.isOwnConfirmation(n) {
		h.presenter.ShowToastOnly(n)
		return
	}
	h.presenter.Present(n, present.Decide(h.visibility, n.Priority, origin))
}

func (h *Hub) isOwnConfirmation(n model.Notification) bool {
	if !n.SenderConfirmation {
		return false
	}
	me := h.identity().UserID
	return me != "" && n.SenderID == me
}

// Subscribe registers fn for every newly surfaced notification. The
// returned func removes it.
func (h *Hub) Subscribe(fn func(model.Notification, model.Origin)) func() {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

func (h *Hub) notify(n model.Notification, origin model.Origin) {
	h.subMu.Lock()
	fns := make([]func(model.Notification, model.Origin), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()

	for _, fn := range fns {
		fn(n.Clone(), origin)
	}
}

// SetVisibility records the host window's attention state.
func (h *Hub) SetVisibility(v present.Visibility) {
	h.mu.Lock()
	h.visibility = v
	h.mu.Unlock()
}

// Visibility returns the last recorded attention state.
func (h *Hub) Visibility() present.Visibility {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visibility
}

// MarkAsRead marks id read locally and then tells the server.
func (h *Hub) MarkAsRead(ctx context.Context, id model.ID) {
	if !h.inbox.MarkAsRead(id) || h.server == nil {
		return
	}
	if err := h.server.MarkRead(ctx, id); err != nil {
		h.logger.Warn("mark read not propagated", "id", id, "error", err)
	}
}

// MarkAllAsRead marks everything read locally and then tells the server.
func (h *Hub) MarkAllAsRead(ctx context.Context) {
	if len(h.inbox.MarkAllAsRead()) == 0 || h.server == nil {
		return
	}
	if err := h.server.MarkAllRead(ctx); err != nil {
		h.logger.Warn("mark all read not propagated", "error", err)
	}
}

// Delete removes id locally and then tells the server.
func (h *Hub) Delete(ctx context.Context, id model.ID) {
	if !h.inbox.Delete(id) || h.server == nil {
		return
	}
	if err := h.server.DeleteNotification(ctx, id); err != nil {
		h.logger.Warn("delete not propagated", "id", id, "error", err)
	}
}

// Reset forgets every notification, as on logout.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.ledger.Reset()
	h.inbox.Clear()
	h.mu.Unlock()
}

// Unread returns the unread badge count.
func (h *Hub) Unread() int {
	return h.inbox.UnreadCount()
}

// Title returns the window title for the current unread count.
func (h *Hub) Title() string {
	return h.inbox.Title()
}
