// Package background keeps notifications flowing while the UI is hidden
// or not running: pushes are persisted durably, shown as desktop
// notifications when nobody is looking, and replayed into the hub when the
// app comes back.
package background

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/present"
	"github.com/nhle/sitenotify/internal/store"
)

var (
	// ErrPushDisabled is returned when no VAPID key is configured.
	ErrPushDisabled = errors.New("push notifications are not configured")
	// ErrHubUnavailable is returned when there is no running hub to replay into.
	ErrHubUnavailable = errors.New("notification hub is not running")
)

// Hub is the ingestion funnel. *hub.Hub implements it.
type Hub interface {
	Ingest(ctx context.Context, origin model.Origin, n model.Notification) bool
}

// Registrar registers a push subscription with the server.
type Registrar interface {
	RegisterPushSubscription(ctx context.Context, sub api.PushSubscription, role, userID, applicationKey string) error
}

// TokenSource reports whether a credential exists.
type TokenSource interface {
	Token() (string, error)
}

// Identity is the signed-in user.
type Identity struct {
	UserID string
	Role   string
}

// Options configures a Service.
type Options struct {
	Store     store.Store
	Presenter *present.Presenter
	Registrar Registrar
	Tokens    TokenSource
	Identity  func() Identity
	// VAPIDPublicKey is the server's application key. Empty disables the
	// subscription handshake.
	VAPIDPublicKey string
	// Endpoint is the URL the server pushes to.
	Endpoint string
	Logger   *slog.Logger
}

// Service is the background survivability channel.
type Service struct {
	opts Options

	mu  sync.Mutex
	hub Hub
}

// NewService creates a service with no hub attached, the app-closed mode.
func NewService(opts Options) *Service {
	if opts.Identity == nil {
		opts.Identity = func() Identity { return Identity{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{opts: opts}
}

// AttachHub routes pushes into h. Passing nil detaches it.
func (s *Service) AttachHub(h Hub) {
	s.mu.Lock()
	s.hub = h
	s.mu.Unlock()
}

func (s *Service) currentHub() Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub
}

// HandlePush persists a pushed notification and delivers it. With a hub
// attached it goes through the hub and is marked synced; otherwise it is
// left unsynced for the next reconcile and shown on the desktop directly.
func (s *Service) HandlePush(ctx context.Context, n model.Notification) error {
	n.Normalize()
	if n.ID == "" {
		return errors.New("push payload has no id")
	}

	_, err := s.opts.Store.GetNotification(ctx, n.ID)
	duplicate := err == nil

	persisted := true
	if err := s.opts.Store.PutNotification(ctx, n); err != nil {
		persisted = false
		s.opts.Logger.Warn("persisting pushed notification", "id", n.ID, "error", err)
	}

	if h := s.currentHub(); h != nil {
		h.Ingest(ctx, model.OriginBackground, n)
		if persisted {
			if err := s.opts.Store.MarkSynced(ctx, n.ID); err != nil {
				s.opts.Logger.Warn("marking pushed notification synced", "id", n.ID, "error", err)
			}
		}
		return nil
	}

	// Nobody sees a toast with the app closed, so an own-action
	// confirmation is only stored. A repeated push was already shown.
	if duplicate || s.isOwnConfirmation(n) || s.opts.Presenter == nil {
		return nil
	}
	s.opts.Presenter.ShowDesktopOnly(n)
	return nil
}

func (s *Service) isOwnConfirmation(n model.Notification) bool {
	me := s.opts.Identity().UserID
	return n.SenderConfirmation && me != "" && string(n.SenderID) == me
}

// ReconcilePending replays every unsynced record through the hub and marks
// each synced in its own transaction. A failure on one record does not
// undo the others. It returns how many records were synced.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	h := s.currentHub()
	if h == nil {
		return 0, ErrHubUnavailable
	}

	records, err := s.opts.Store.Unsynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading unsynced notifications: %w", err)
	}

	var (
		synced int
		errs   []error
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		h.Ingest(ctx, model.OriginBackground, rec.Notification)
		if err := s.opts.Store.MarkSynced(ctx, rec.Notification.ID); err != nil {
			errs = append(errs, fmt.Errorf("marking %s synced: %w", rec.Notification.ID, err))
			continue
		}
		synced++
	}

	if synced > 0 {
		s.opts.Logger.Info("replayed background notifications", "count", synced)
	}
	return synced, errors.Join(errs...)
}

// EnsureSubscription makes sure a push subscription exists locally and is
// registered with the server. Registration is repeated on every call
// because the server may have lost the mapping.
func (s *Service) EnsureSubscription(ctx context.Context) (*api.PushSubscription, error) {
	if s.opts.VAPIDPublicKey == "" || s.opts.Registrar == nil {
		return nil, ErrPushDisabled
	}
	if _, err := s.opts.Tokens.Token(); err != nil {
		return nil, fmt.Errorf("push subscription needs a credential: %w", err)
	}

	sub, err := s.opts.Store.GetSubscription(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sub, err = s.newSubscription()
		if err != nil {
			return nil, err
		}
		if err := s.opts.Store.SaveSubscription(ctx, *sub); err != nil {
			return nil, err
		}
		s.opts.Logger.Info("created push subscription", "endpoint", sub.Endpoint)
	case err != nil:
		return nil, err
	case sub.Endpoint != s.opts.Endpoint:
		sub.Endpoint = s.opts.Endpoint
		if err := s.opts.Store.SaveSubscription(ctx, *sub); err != nil {
			return nil, err
		}
	}

	me := s.opts.Identity()
	if err := s.opts.Registrar.RegisterPushSubscription(ctx, *sub, me.Role, me.UserID, s.opts.VAPIDPublicKey); err != nil {
		return sub, err
	}
	return sub, nil
}

// newSubscription creates client keys: a P-256 public key and a 16-byte
// auth secret, both base64url encoded.
func (s *Service) newSubscription() (*api.PushSubscription, error) {
	_, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generating subscription keys: %w", err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating auth secret: %w", err)
	}
	return &api.PushSubscription{
		Endpoint: s.opts.Endpoint,
		Keys: api.PushKeys{
			P256dh: publicKey,
			Auth:   base64.RawURLEncoding.EncodeToString(secret),
		},
	}, nil
}
