package inbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/model"
)

func notif(id string, read bool) model.Notification {
	return model.Notification{
		ID:        model.ID(id),
		Title:     "PR " + id,
		Message:   "purchase requisition " + id,
		Priority:  model.PriorityHigh,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Read:      read,
	}
}

func TestAddIsUpsert(t *testing.T) {
	b := New("SiteERP")

	assert.True(t, b.Add(notif("1", false)))
	for i := 0; i < 4; i++ {
		assert.False(t, b.Add(notif("1", false)))
	}

	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.UnreadCount())
}

func TestAddDefaultsMalformedFields(t *testing.T) {
	b := New("SiteERP")
	b.Add(model.Notification{ID: " 7 "})

	n, ok := b.Get("7")
	require.True(t, ok)
	assert.Equal(t, model.PriorityMedium, n.Priority)
	assert.Equal(t, model.TypeInfo, n.Type)
	assert.Equal(t, "Notification", n.Title)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestAddIgnoresEmptyID(t *testing.T) {
	b := New("SiteERP")
	assert.False(t, b.Add(model.Notification{Title: "orphan"}))
	assert.Equal(t, 0, b.Len())
}

func TestReadStateNeverRegressesFromClientEvents(t *testing.T) {
	b := New("SiteERP")
	b.Add(notif("1", false))
	require.True(t, b.MarkAsRead("1"))

	b.Add(notif("1", false))

	n, _ := b.Get("1")
	assert.True(t, n.Read)
	assert.Equal(t, 0, b.UnreadCount())
}

func TestServerListingMayReportUnread(t *testing.T) {
	b := New("SiteERP")
	b.Add(notif("1", false))
	b.MarkAsRead("1")

	b.AddNotifications([]model.Notification{notif("1", false)})

	n, _ := b.Get("1")
	assert.False(t, n.Read)
	assert.Equal(t, 1, b.UnreadCount())
}

func TestDeletedNotificationNotResurrectedUntilServerConfirms(t *testing.T) {
	b := New("SiteERP")
	b.Add(notif("1", false))
	require.True(t, b.Delete("1"))

	assert.False(t, b.Add(notif("1", false)))
	assert.Equal(t, 0, b.Len())

	added := b.AddNotifications([]model.Notification{notif("1", false)})
	assert.Equal(t, []model.ID{"1"}, added)
	assert.Equal(t, 1, b.Len())
}

func TestReconcilePurgesAbsentIDs(t *testing.T) {
	b := New("SiteERP")
	b.Add(notif("1", false))
	b.Add(notif("2", false))
	b.Add(notif("3", true))

	added := b.Reconcile([]model.Notification{notif("2", false), notif("4", false)})

	assert.Equal(t, []model.ID{"4"}, added)
	_, ok := b.Get("1")
	assert.False(t, ok)
	_, ok = b.Get("3")
	assert.False(t, ok)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.UnreadCount())
}

func TestMarkAllAsRead(t *testing.T) {
	b := New("SiteERP")
	b.Add(notif("1", false))
	b.Add(notif("2", false))
	b.Add(notif("3", true))

	changed := b.MarkAllAsRead()

	assert.ElementsMatch(t, []model.ID{"1", "2"}, changed)
	assert.Equal(t, 0, b.UnreadCount())
}

func TestListNewestFirst(t *testing.T) {
	b := New("SiteERP")
	older := notif("1", false)
	newer := notif("2", false)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	b.Add(older)
	b.Add(newer)

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, model.ID("2"), list[0].ID)
}

func TestSubscribersReceiveCountAndTitle(t *testing.T) {
	b := New("SiteERP")
	var events []Event
	unsubscribe := b.Subscribe(func(ev Event) { events = append(events, ev) })

	b.Add(notif("1", false))
	b.Add(notif("2", false))
	b.MarkAsRead("1")
	unsubscribe()
	b.Add(notif("3", false))

	require.Len(t, events, 3)
	assert.Equal(t, "(1) SiteERP", events[0].Title)
	assert.Equal(t, "(2) SiteERP", events[1].Title)
	assert.Equal(t, EventRead, events[2].Kind)
	assert.Equal(t, 1, events[2].UnreadCount)
}

func TestFormatTitle(t *testing.T) {
	assert.Equal(t, "SiteERP", FormatTitle(0, "SiteERP"))
	assert.Equal(t, "SiteERP", FormatTitle(-1, "SiteERP"))
	assert.Equal(t, "(12) SiteERP", FormatTitle(12, "SiteERP"))
}
