package background

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/hub"
	"github.com/nhle/sitenotify/internal/inbox"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/present"
	"github.com/nhle/sitenotify/internal/testutil"
)

type desktopSink struct {
	mu      sync.Mutex
	toasts  []model.ID
	desktop []model.ID
}

func (s *desktopSink) ShowToast(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, n.ID)
}

func (s *desktopSink) ShowDesktopNotification(n model.Notification, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desktop = append(s.desktop, n.ID)
	return nil
}

type fakeRegistrar struct {
	calls []api.PushSubscription
	role  string
	user  string
	err   error
}

func (r *fakeRegistrar) RegisterPushSubscription(_ context.Context, sub api.PushSubscription, role, userID, _ string) error {
	r.calls = append(r.calls, sub)
	r.role, r.user = role, userID
	return r.err
}

type token string

func (t token) Token() (string, error) {
	if t == "" {
		return "", errors.New("no credential")
	}
	return string(t), nil
}

func me() Identity { return Identity{UserID: "7", Role: "buyer"} }

func TestHandlePushWhileAppClosed(t *testing.T) {
	st := testutil.NewTestStore(t)
	sink := &desktopSink{}
	svc := NewService(Options{
		Store:     st,
		Presenter: present.NewPresenter(sink, nil),
		Identity:  me,
	})
	ctx := context.Background()

	require.NoError(t, svc.HandlePush(ctx, model.Notification{ID: "1", Title: "PR approved"}))
	require.NoError(t, svc.HandlePush(ctx, model.Notification{ID: "1", Title: "PR approved"}))

	own := model.Notification{ID: "2", Title: "You submitted PR-2", SenderID: "7", SenderConfirmation: true}
	require.NoError(t, svc.HandlePush(ctx, own))

	assert.Equal(t, []model.ID{"1"}, sink.desktop)
	assert.Empty(t, sink.toasts)

	pending, err := st.Unsynced(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReconcilePendingReplaysOnce(t *testing.T) {
	st := testutil.NewTestStore(t)
	svc := NewService(Options{Store: st, Identity: me})
	ctx := context.Background()

	_, err := svc.ReconcilePending(ctx)
	assert.ErrorIs(t, err, ErrHubUnavailable)

	for _, id := range []model.ID{"a", "b", "c"} {
		require.NoError(t, svc.HandlePush(ctx, model.Notification{ID: id, Title: "n"}))
	}

	sink := &desktopSink{}
	h := hub.New(hub.Options{
		Inbox:     inbox.New("SiteNotify"),
		Presenter: present.NewPresenter(sink, nil),
		Identity:  func() hub.Identity { return hub.Identity{UserID: "7"} },
	})
	// "a" already reached the app through the socket.
	h.Ingest(ctx, model.OriginRealtime, model.Notification{ID: "a", Title: "n"})
	svc.AttachHub(h)

	n, err := svc.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, h.Unread())
	assert.Len(t, sink.toasts, 3)

	pending, err := st.Unsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = svc.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandlePushWithHubMarksSynced(t *testing.T) {
	st := testutil.NewTestStore(t)
	h := hub.New(hub.Options{Inbox: inbox.New("SiteNotify")})
	svc := NewService(Options{Store: st})
	svc.AttachHub(h)
	ctx := context.Background()

	require.NoError(t, svc.HandlePush(ctx, model.Notification{ID: "9", Title: "BOQ approved"}))

	rec, err := st.GetNotification(ctx, "9")
	require.NoError(t, err)
	assert.True(t, rec.Synced)
	assert.Equal(t, 1, h.Unread())
}

func TestEnsureSubscriptionCreatesThenReregisters(t *testing.T) {
	st := testutil.NewTestStore(t)
	reg := &fakeRegistrar{}
	svc := NewService(Options{
		Store:          st,
		Registrar:      reg,
		Tokens:         token("tok"),
		Identity:       me,
		VAPIDPublicKey: "server-key",
		Endpoint:       "http://127.0.0.1:7345/push",
	})
	ctx := context.Background()

	first, err := svc.EnsureSubscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7345/push", first.Endpoint)
	assert.NotEmpty(t, first.Keys.P256dh)
	secret, err := base64.RawURLEncoding.DecodeString(first.Keys.Auth)
	require.NoError(t, err)
	assert.Len(t, secret, 16)

	second, err := svc.EnsureSubscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Keys, second.Keys)

	assert.Len(t, reg.calls, 2)
	assert.Equal(t, "buyer", reg.role)
	assert.Equal(t, "7", reg.user)
}

func TestEnsureSubscriptionPreconditions(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := NewService(Options{Store: st, Registrar: &fakeRegistrar{}}).EnsureSubscription(ctx)
	assert.ErrorIs(t, err, ErrPushDisabled)

	reg := &fakeRegistrar{}
	_, err = NewService(Options{
		Store:          st,
		Registrar:      reg,
		Tokens:         token(""),
		VAPIDPublicKey: "k",
	}).EnsureSubscription(ctx)
	assert.Error(t, err)
	assert.Empty(t, reg.calls)
}

func TestReceiverAcceptsValidPush(t *testing.T) {
	st := testutil.NewTestStore(t)
	svc := NewService(Options{Store: st})
	r := NewReceiver("127.0.0.1:0", svc, nil)

	body := `{"id": 31, "title": "CR submitted", "message": "CR-31", "priority": "high"}`
	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	stored, err := st.GetNotification(context.Background(), "31")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, stored.Notification.Priority)
}

func TestReceiverRejectsBadPayloads(t *testing.T) {
	r := NewReceiver("127.0.0.1:0", NewService(Options{Store: testutil.NewTestStore(t)}), nil)

	for body, want := range map[string]int{
		`{"id": "1"`:     http.StatusBadRequest,
		`{"title": "x"}`: http.StatusUnprocessableEntity,
		`{"id": "1"}`:    http.StatusUnprocessableEntity,
	} {
		req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		r.Handler().ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, body)
	}
}
