package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/inbox"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/present"
)

type countingSink struct {
	mu      sync.Mutex
	toasts  map[model.ID]int
	desktop map[model.ID]int
}

func newCountingSink() *countingSink {
	return &countingSink{toasts: map[model.ID]int{}, desktop: map[model.ID]int{}}
}

func (s *countingSink) ShowToast(n model.Notification) {
	s.mu.Lock()
	s.toasts[n.ID]++
	s.mu.Unlock()
}

func (s *countingSink) ShowDesktopNotification(n model.Notification, tag string) error {
	s.mu.Lock()
	s.desktop[n.ID]++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) totals() (toasts, desktop int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.toasts {
		toasts += c
	}
	for _, c := range s.desktop {
		desktop += c
	}
	return toasts, desktop
}

type fakeServer struct {
	mu      sync.Mutex
	read    []model.ID
	deleted []model.ID
	err     error
}

func (f *fakeServer) MarkRead(_ context.Context, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return f.err
}

func (f *fakeServer) MarkAllRead(context.Context) error { return f.err }

func (f *fakeServer) DeleteNotification(_ context.Context, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func newTestHub(sink *countingSink, server Server) *Hub {
	return New(Options{
		Inbox:     inbox.New("SiteNotify"),
		Presenter: present.NewPresenter(sink, nil),
		Server:    server,
		Identity:  func() Identity { return Identity{UserID: "7", Role: "pm"} },
	})
}

func note(id string) model.Notification {
	return model.Notification{
		ID:        model.ID(id),
		Title:     "PR " + id,
		Priority:  model.PriorityHigh,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)
	ctx := context.Background()

	assert.True(t, h.Ingest(ctx, model.OriginRealtime, note("1")))
	for i := 0; i < 4; i++ {
		assert.False(t, h.Ingest(ctx, model.OriginBackground, note("1")))
	}

	assert.Equal(t, 1, h.Inbox().Len())
	assert.Equal(t, 1, h.Unread())
	toasts, desktop := sink.totals()
	assert.Equal(t, 1, toasts)
	assert.Equal(t, 0, desktop)
}

func TestDedupAcrossRacingChannels(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)
	h.SetVisibility(present.Hidden)
	ctx := context.Background()

	before := h.Unread()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Ingest(ctx, model.OriginRealtime, note("99"))
	}()
	go func() {
		defer wg.Done()
		h.Reconcile(ctx, model.OriginPoll, []model.Notification{note("99")})
	}()
	wg.Wait()

	assert.Equal(t, before+1, h.Unread())
	toasts, desktop := sink.totals()
	assert.Equal(t, 1, toasts)
	assert.Equal(t, 1, desktop)
}

func TestReconnectCatchUpWhileVisible(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)
	ctx := context.Background()

	missed := []model.Notification{note("a"), note("b"), note("c")}
	assert.Equal(t, 3, h.Merge(ctx, model.OriginRealtime, missed))
	// The poll channel finds the same three moments later.
	assert.Equal(t, 0, h.Reconcile(ctx, model.OriginPoll, missed))

	assert.Equal(t, 3, h.Inbox().Len())
	toasts, desktop := sink.totals()
	assert.Equal(t, 3, toasts)
	assert.Equal(t, 0, desktop)
}

func TestReconcilePurgesAbsent(t *testing.T) {
	h := newTestHub(newCountingSink(), nil)
	ctx := context.Background()

	h.Reconcile(ctx, model.OriginPoll, []model.Notification{note("1"), note("2")})
	require.Equal(t, 2, h.Inbox().Len())

	h.Reconcile(ctx, model.OriginPoll, []model.Notification{note("2")})
	_, ok := h.Inbox().Get("1")
	assert.False(t, ok)
	assert.Equal(t, 1, h.Inbox().Len())
}

func TestOwnConfirmationIsToastOnly(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)
	h.SetVisibility(present.Hidden)

	n := note("5")
	n.SenderID = "7"
	n.SenderConfirmation = true
	h.Ingest(context.Background(), model.OriginBackground, n)

	toasts, desktop := sink.totals()
	assert.Equal(t, 1, toasts)
	assert.Equal(t, 0, desktop)
	assert.Equal(t, 1, h.Unread())
}

func TestConfirmationForSomeoneElseGetsFullTreatment(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)
	h.SetVisibility(present.Unfocused)

	n := note("6")
	n.SenderID = "8"
	n.SenderConfirmation = true
	h.Ingest(context.Background(), model.OriginRealtime, n)

	toasts, desktop := sink.totals()
	assert.Equal(t, 1, toasts)
	assert.Equal(t, 1, desktop)
}

func TestReadNotificationsAreStoredQuietly(t *testing.T) {
	sink := newCountingSink()
	h := newTestHub(sink, nil)

	n := note("r")
	n.Read = true
	h.Merge(context.Background(), model.OriginPoll, []model.Notification{n})

	assert.Equal(t, 1, h.Inbox().Len())
	toasts, _ := sink.totals()
	assert.Equal(t, 0, toasts)
}

func TestReadStateDoesNotRegressFromPush(t *testing.T) {
	h := newTestHub(newCountingSink(), &fakeServer{})
	ctx := context.Background()

	h.Ingest(ctx, model.OriginRealtime, note("1"))
	h.MarkAsRead(ctx, "1")
	h.Ingest(ctx, model.OriginBackground, note("1"))

	got, ok := h.Inbox().Get("1")
	require.True(t, ok)
	assert.True(t, got.Read)

	// A server listing may flip it back, as another device would.
	h.Reconcile(ctx, model.OriginPoll, []model.Notification{note("1")})
	got, _ = h.Inbox().Get("1")
	assert.False(t, got.Read)
}

func TestUserActionsPropagateBestEffort(t *testing.T) {
	server := &fakeServer{err: errors.New("boom")}
	h := newTestHub(newCountingSink(), server)
	ctx := context.Background()

	h.Ingest(ctx, model.OriginRealtime, note("1"))
	h.Ingest(ctx, model.OriginRealtime, note("2"))

	h.MarkAsRead(ctx, "1")
	h.Delete(ctx, "2")

	assert.Equal(t, []model.ID{"1"}, server.read)
	assert.Equal(t, []model.ID{"2"}, server.deleted)
	assert.Equal(t, 0, h.Unread())
	assert.Equal(t, 1, h.Inbox().Len())

	// A deleted id does not come back through a push.
	assert.False(t, h.Ingest(ctx, model.OriginBackground, note("2")))
}

func TestSubscribeAndReset(t *testing.T) {
	h := newTestHub(newCountingSink(), nil)
	ctx := context.Background()

	var got []model.Origin
	unsub := h.Subscribe(func(_ model.Notification, o model.Origin) { got = append(got, o) })

	h.Ingest(ctx, model.OriginRealtime, note("1"))
	h.Merge(ctx, model.OriginPoll, []model.Notification{note("1"), note("2")})
	unsub()
	h.Ingest(ctx, model.OriginRealtime, note("3"))

	assert.Equal(t, []model.Origin{model.OriginRealtime, model.OriginPoll}, got)

	h.Reset()
	assert.Equal(t, 0, h.Inbox().Len())
	assert.True(t, h.Ingest(ctx, model.OriginRealtime, note("1")))
	assert.Equal(t, "(1) SiteNotify", h.Title())
}
