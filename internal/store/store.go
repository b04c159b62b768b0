package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Record is one durably persisted notification.
type Record struct {
	Notification model.Notification
	Synced       bool
	ReceivedAt   time.Time
}

// Store defines the durable persistence used by the background channel.
// Notifications are keyed by id: a second put for the same id overwrites.
type Store interface {
	// === Notifications ===

	PutNotification(ctx context.Context, n model.Notification) error
	GetNotification(ctx context.Context, id model.ID) (*Record, error)
	Unsynced(ctx context.Context) ([]Record, error)
	MarkSynced(ctx context.Context, id model.ID) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// === Push subscription ===

	SaveSubscription(ctx context.Context, sub api.PushSubscription) error
	GetSubscription(ctx context.Context) (*api.PushSubscription, error)

	Close() error
}
