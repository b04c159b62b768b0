package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nhle/sitenotify/internal/model"
)

// ListOptions selects between the unread-only and full listings.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
}

// ListNotifications calls GET /notifications. Entries are normalized so that
// missing fields carry defaults. A body reporting failure or lacking the
// notifications field yields a *MalformedResponseError, never an empty list.
func (c *Client) ListNotifications(ctx context.Context, opts ListOptions) (*model.ListResponse, error) {
	q := url.Values{}
	q.Set("unread_only", strconv.FormatBool(opts.UnreadOnly))
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp model.ListResponse
	if err := c.Get(ctx, "/notifications?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	if !resp.Success || resp.Notifications == nil {
		msg := resp.Message
		if msg == "" && resp.Notifications == nil {
			msg = "missing notifications"
		}
		return nil, fmt.Errorf("listing notifications: %w", &MalformedResponseError{Path: "/notifications", Message: msg})
	}

	kept := resp.Notifications[:0]
	for _, n := range resp.Notifications {
		n.Normalize()
		if n.ID == "" {
			continue
		}
		kept = append(kept, n)
	}
	resp.Notifications = kept
	return &resp, nil
}

// MarkRead calls POST /notifications/{id}/read.
func (c *Client) MarkRead(ctx context.Context, id model.ID) error {
	path := fmt.Sprintf("/notifications/%s/read", url.PathEscape(string(id)))
	if err := c.Post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead calls POST /notifications/read-all.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.Post(ctx, "/notifications/read-all", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// DeleteNotification calls DELETE /notifications/{id}.
func (c *Client) DeleteNotification(ctx context.Context, id model.ID) error {
	path := fmt.Sprintf("/notifications/%s", url.PathEscape(string(id)))
	if err := c.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// PushKeys are the client keys of a push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription mirrors the standard browser subscription object.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

type registerPushRequest struct {
	Subscription   PushSubscription `json:"subscription"`
	Role           string           `json:"role"`
	UserID         string           `json:"user_id"`
	ApplicationKey string           `json:"application_server_key,omitempty"`
}

// RegisterPushSubscription calls POST /push/subscribe. Registration is
// repeated on every load because the server may have lost the mapping.
func (c *Client) RegisterPushSubscription(
	ctx context.Context,
	sub PushSubscription,
	role string,
	userID string,
	applicationKey string,
) error {
	body := registerPushRequest{
		Subscription:   sub,
		Role:           role,
		UserID:         userID,
		ApplicationKey: applicationKey,
	}
	if err := c.Post(ctx, "/push/subscribe", body, nil); err != nil {
		return fmt.Errorf("registering push subscription: %w", err)
	}
	return nil
}
