package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/background"
	"github.com/nhle/sitenotify/internal/credential"
	"github.com/nhle/sitenotify/internal/dedup"
	"github.com/nhle/sitenotify/internal/hub"
	"github.com/nhle/sitenotify/internal/inbox"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/present"
	"github.com/nhle/sitenotify/internal/realtime"
	"github.com/nhle/sitenotify/internal/roles"
	"github.com/nhle/sitenotify/internal/store"
	appsync "github.com/nhle/sitenotify/internal/sync"
)

// pruneAge is how long synced background records are kept.
const pruneAge = 30 * 24 * time.Hour

// Deps are the collaborators a Notifier is built from.
type Deps struct {
	Config      *model.AppConfig
	Credentials *credential.Store
	// Store is the durable background store. When nil and a db path is
	// configured, the notifier opens and owns one.
	Store store.Store
	// Output receives desktop notification escape sequences.
	Output io.Writer
	Logger *slog.Logger
}

// Notifier wires every channel into one hub. Channels whose configuration
// is missing are left nil and the rest keep working.
type Notifier struct {
	cfg       *model.AppConfig
	logger    *slog.Logger
	creds     *credential.Store
	inbox     *inbox.Inbox
	desktop   *present.TerminalNotifier
	presenter *present.Presenter
	hub       *hub.Hub

	client     *api.Client
	poller     *appsync.Poller
	realtime   *realtime.Client
	store      store.Store
	ownsStore  bool
	background *background.Service
	receiver   *background.Receiver
	watcher    *credential.Watcher

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewNotifier builds the notifier from configuration.
func NewNotifier(d Deps) (*Notifier, error) {
	if d.Config == nil {
		return nil, errors.New("notifier needs a configuration")
	}
	if d.Credentials == nil {
		return nil, errors.New("notifier needs a credential store")
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Output == nil {
		d.Output = io.Discard
	}
	cfg := d.Config

	n := &Notifier{
		cfg:    cfg,
		logger: d.Logger,
		creds:  d.Credentials,
		inbox:  inbox.New(cfg.AppName),
	}
	n.desktop = present.NewTerminalNotifier(d.Output, cfg.AppName)
	n.presenter = present.NewPresenter(n.desktop, nil)
	matcher := roles.NewMatcher(cfg.Roles.Aliases)

	if cfg.API.BaseURL != "" {
		n.client = api.NewClient(cfg.API.BaseURL, d.Credentials, time.Duration(cfg.API.TimeoutSec)*time.Second)
	} else {
		n.logger.Warn("api.base_url not set; polling, catch-up and server updates disabled")
	}

	hubOpts := hub.Options{
		Ledger:    dedup.New(cfg.Dedup.Capacity),
		Inbox:     n.inbox,
		Presenter: n.presenter,
		Identity:  n.hubIdentity,
		Logger:    n.logger.With("component", "hub"),
	}
	if n.client != nil {
		hubOpts.Server = n.client
	}
	n.hub = hub.New(hubOpts)

	if cfg.Socket.URL != "" {
		rtOpts := realtime.Options{
			URL:         cfg.Socket.URL,
			MaxAttempts: cfg.Socket.MaxAttempts,
			Tokens:      d.Credentials,
			Identity:    n.realtimeIdentity,
			Sink:        n.hub,
			Matcher:     matcher,
			Logger:      n.logger.With("component", "realtime"),
		}
		if n.client != nil {
			rtOpts.Fetcher = n.client
		}
		n.realtime = realtime.New(rtOpts)
	} else {
		n.logger.Warn("socket.url not set; realtime channel disabled")
	}

	if n.client != nil {
		var connected func() bool
		if n.realtime != nil {
			connected = n.realtime.Connected
		}
		n.poller = appsync.New(n.client, n.hub, d.Credentials, connected,
			appsync.ConfigFrom(cfg.Poll), n.logger.With("component", "poll"))
	}

	n.store = d.Store
	if n.store == nil && cfg.Storage.DBPath != "" {
		s, err := store.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			n.logger.Warn("durable store unavailable; background channel disabled", "error", err)
		} else {
			n.store = s
			n.ownsStore = true
		}
	}
	if n.store != nil {
		n.background = NewBackgroundService(cfg, n.store, n.presenter, n.client, d.Credentials, n.logger)
		n.background.AttachHub(n.hub)
		if cfg.Push.ListenAddr != "" {
			n.receiver = background.NewReceiver(cfg.Push.ListenAddr, n.background, n.logger.With("component", "receiver"))
		}
	}

	if d.Credentials.MarkerFile() != "" {
		n.watcher = credential.NewWatcher(d.Credentials, n.logger.With("component", "session"))
	}

	return n, nil
}

// NewBackgroundService builds the background channel without a hub, for
// headless use.
func NewBackgroundService(
	cfg *model.AppConfig,
	st store.Store,
	presenter *present.Presenter,
	client *api.Client,
	creds *credential.Store,
	logger *slog.Logger,
) *background.Service {
	opts := background.Options{
		Store:          st,
		Presenter:      presenter,
		Tokens:         creds,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		Endpoint:       PushEndpoint(cfg.Push),
		Identity: func() background.Identity {
			sess, err := creds.Session()
			if err != nil {
				return background.Identity{}
			}
			return background.Identity{UserID: sess.UserID, Role: sess.Role}
		},
		Logger: logger.With("component", "background"),
	}
	if client != nil {
		opts.Registrar = client
	}
	return background.NewService(opts)
}

// PushEndpoint is the URL registered with the server for pushes.
func PushEndpoint(c model.PushConfig) string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	if c.ListenAddr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return "http://" + c.ListenAddr + "/push"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/push"
}

func (n *Notifier) hubIdentity() hub.Identity {
	sess, err := n.creds.Session()
	if err != nil {
		return hub.Identity{}
	}
	return hub.Identity{UserID: model.ID(sess.UserID), Role: sess.Role}
}

func (n *Notifier) realtimeIdentity() realtime.Identity {
	sess, err := n.creds.Session()
	if err != nil {
		return realtime.Identity{}
	}
	return realtime.Identity{UserID: sess.UserID, Role: sess.Role}
}

// Hub returns the reconciliation hub.
func (n *Notifier) Hub() *hub.Hub { return n.hub }

// Inbox returns the materialized notification list.
func (n *Notifier) Inbox() *inbox.Inbox { return n.inbox }

// Poller returns the poll channel, or nil when polling is disabled.
func (n *Notifier) Poller() *appsync.Poller { return n.poller }

// SetToastHandler routes in-app toasts to fn.
func (n *Notifier) SetToastHandler(fn func(model.Notification)) {
	n.desktop.SetToastHandler(fn)
}

// Start brings every configured channel up. It is a no-op when already
// started.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.mu.Unlock()

	if n.poller != nil {
		n.poller.Start()
	}
	if n.realtime != nil {
		n.realtime.Connect(ctx)
	}

	if n.receiver != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.receiver.Start(); err != nil {
				n.logger.Warn("push receiver stopped", "error", err)
			}
		}()
	}

	if n.watcher != nil {
		n.wg.Add(2)
		go func() {
			defer n.wg.Done()
			if err := n.watcher.Run(ctx); err != nil {
				n.logger.Warn("session watcher stopped", "error", err)
			}
		}()
		go func() {
			defer n.wg.Done()
			for ev := range n.watcher.Events() {
				n.handleCredentialEvent(ctx, ev)
			}
		}()
	}

	if n.background != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.resumeBackground(ctx)
			n.ensureSubscription(ctx)
		}()
	}

	// An initial listing so the panel is not empty until the first tick.
	if n.poller != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.poller.FetchNow(ctx)
		}()
	}
}

// Stop shuts every channel down and waits for background goroutines.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if n.poller != nil {
		n.poller.Stop()
	}
	if n.realtime != nil {
		n.realtime.Disconnect()
	}
	if n.receiver != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.receiver.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn("shutting down push receiver", "error", err)
		}
		done()
	}
	cancel()
	n.wg.Wait()

	if n.background != nil {
		n.background.AttachHub(nil)
	}
	if n.ownsStore {
		if err := n.store.Close(); err != nil {
			n.logger.Warn("closing durable store", "error", err)
		}
	}
}

// FetchNow runs a poll cycle immediately.
func (n *Notifier) FetchNow(ctx context.Context) appsync.PollResultMsg {
	if n.poller == nil {
		return appsync.PollResultMsg{Skipped: true}
	}
	return n.poller.FetchNow(ctx)
}

// MarkAsRead marks id read locally and on the server.
func (n *Notifier) MarkAsRead(ctx context.Context, id model.ID) {
	n.hub.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks everything read locally and on the server.
func (n *Notifier) MarkAllAsRead(ctx context.Context) {
	n.hub.MarkAllAsRead(ctx)
}

// Delete removes id locally and on the server.
func (n *Notifier) Delete(ctx context.Context, id model.ID) {
	n.hub.Delete(ctx, id)
}

// Subscribe registers fn for every surfaced notification.
func (n *Notifier) Subscribe(fn func(model.Notification, model.Origin)) func() {
	return n.hub.Subscribe(fn)
}

// SetFocused records whether the user is looking at the terminal.
// Regaining focus replays whatever the background channel stored.
func (n *Notifier) SetFocused(ctx context.Context, focused bool) {
	if !focused {
		n.hub.SetVisibility(present.Unfocused)
		return
	}
	n.hub.SetVisibility(present.Visible)
	n.resumeBackground(ctx)
}

// Statuses returns a snapshot of each enabled channel.
func (n *Notifier) Statuses() []model.ChannelState {
	var out []model.ChannelState
	if n.realtime != nil {
		out = append(out, n.realtime.Status())
	}
	if n.poller != nil {
		out = append(out, n.poller.Status())
	}
	if n.background != nil {
		out = append(out, model.ChannelState{Name: "push", Connected: n.receiver != nil})
	}
	return out
}

// RealtimeGaveUp reports whether the socket exhausted its reconnects.
func (n *Notifier) RealtimeGaveUp() bool {
	return n.realtime != nil && n.realtime.State() == realtime.PermanentlyDisconnected
}

// ReconnectRealtime restarts the socket with a fresh attempt budget.
func (n *Notifier) ReconnectRealtime() {
	if n.realtime != nil {
		n.realtime.Reconnect()
	}
}

func (n *Notifier) handleCredentialEvent(ctx context.Context, ev credential.Event) {
	switch ev.Kind {
	case credential.LoggedIn:
		n.logger.Info("session changed; reconnecting", "user", ev.Session.UserID)
		if n.realtime != nil {
			n.realtime.Reconnect()
		}
		if n.poller != nil {
			n.poller.Start()
		}
		if n.background != nil {
			n.ensureSubscription(ctx)
		}
	case credential.LoggedOut:
		n.logger.Info("session ended; clearing notifications")
		if n.realtime != nil {
			n.realtime.Disconnect()
		}
		if n.poller != nil {
			n.poller.Stop()
		}
		n.hub.Reset()
	}
}

func (n *Notifier) resumeBackground(ctx context.Context) {
	if n.background == nil {
		return
	}
	synced, err := n.background.ReconcilePending(ctx)
	if err != nil && !errors.Is(err, background.ErrHubUnavailable) {
		n.logger.Warn("replaying background notifications", "synced", synced, "error", err)
	}
	if pruned, err := n.store.Prune(ctx, time.Now().Add(-pruneAge)); err != nil {
		n.logger.Warn("pruning background notifications", "error", err)
	} else if pruned > 0 {
		n.logger.Debug("pruned background notifications", "count", pruned)
	}
}

func (n *Notifier) ensureSubscription(ctx context.Context) {
	_, err := n.background.EnsureSubscription(ctx)
	switch {
	case err == nil:
	case errors.Is(err, background.ErrPushDisabled):
		n.logger.Debug("push subscription skipped", "reason", err)
	default:
		n.logger.Warn("push subscription handshake failed", "error", fmt.Errorf("ensuring subscription: %w", err))
	}
}
