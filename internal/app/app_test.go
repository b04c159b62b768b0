package app

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/model"
	appsync "github.com/nhle/sitenotify/internal/sync"
	"github.com/nhle/sitenotify/internal/ui/notiflist"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T) (Model, *Notifier) {
	t.Helper()
	n, err := NewNotifier(Deps{Config: bareConfig(t), Credentials: loggedIn(t)})
	require.NoError(t, err)

	m := New(context.Background(), n, "SiteERP")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model), n
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func TestModelRendersUnreadBadge(t *testing.T) {
	m, n := newTestModel(t)

	n.Hub().Ingest(context.Background(), model.OriginRealtime, model.Notification{
		ID:    "1",
		Title: "PR-12 approved",
	})
	m, _ = update(t, m, inboxChangedMsg{})

	assert.Equal(t, 1, m.unread)
	view := m.View()
	assert.Contains(t, view, "1 new")
	assert.Contains(t, view, "PR-12 approved")
}

func TestModelToastsExpireBySequence(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, toastMsg{notification: model.Notification{Title: "BOQ-3 rejected", Message: "over budget"}})
	assert.Equal(t, "BOQ-3 rejected: over budget", m.toast)
	first := m.toastSeq

	m, _ = update(t, m, toastMsg{notification: model.Notification{Title: "CR-9 submitted"}})
	m, _ = update(t, m, clearToastMsg{seq: first})
	assert.Equal(t, "CR-9 submitted", m.toast)
	assert.Contains(t, m.View(), "CR-9 submitted")

	m, _ = update(t, m, clearToastMsg{seq: m.toastSeq})
	assert.Empty(t, m.toast)
}

func TestModelHoldsToastWhileBlurred(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, tea.BlurMsg{})
	m, _ = update(t, m, toastMsg{notification: model.Notification{Title: "PR-4 forwarded"}})
	assert.True(t, m.toastHeld)
	assert.Equal(t, "PR-4 forwarded", m.toast)

	m, cmd := update(t, m, tea.FocusMsg{})
	require.NotNil(t, cmd)
	assert.False(t, m.toastHeld)
	assert.Contains(t, m.View(), "PR-4 forwarded")

	// Expiry is counted from the return of focus.
	m, _ = update(t, m, clearToastMsg{seq: m.toastSeq})
	assert.Empty(t, m.toast)
}

func TestModelFocusedToastIsNotHeld(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, toastMsg{notification: model.Notification{Title: "BOQ-1 approved"}})
	assert.False(t, m.toastHeld)

	m, _ = update(t, m, tea.BlurMsg{})
	m, _ = update(t, m, runes("r"))
	m, _ = update(t, m, refreshDoneMsg{result: appsync.PollResultMsg{NewCount: 2}})
	assert.True(t, m.toastHeld)
	assert.Equal(t, "refreshed, 2 new", m.toast)
}

func TestModelSessionExpiryWarning(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, appsync.PollResultMsg{SessionExpired: true})
	assert.Contains(t, m.View(), "session expired")

	m, _ = update(t, m, appsync.PollResultMsg{NewCount: 0})
	assert.Empty(t, m.warning)
}

func TestModelHelpToggle(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, runes("?"))
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.showHelp)
}

func TestModelMarkReadAndDelete(t *testing.T) {
	m, n := newTestModel(t)
	ctx := context.Background()
	n.Hub().Ingest(ctx, model.OriginPoll, model.Notification{ID: "1", Title: "one"})
	n.Hub().Ingest(ctx, model.OriginPoll, model.Notification{ID: "2", Title: "two"})
	m, _ = update(t, m, inboxChangedMsg{})

	_, cmd := update(t, m, notiflist.MarkReadMsg{ID: "1"})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, n.Hub().Unread())

	_, cmd = update(t, m, notiflist.DeleteMsg{ID: "2"})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, n.Inbox().Len())
	assert.Equal(t, 0, n.Hub().Unread())
}

func TestModelFocusDrivesVisibility(t *testing.T) {
	m, n := newTestModel(t)

	_, cmd := update(t, m, tea.BlurMsg{})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "unfocused", n.Hub().Visibility().String())

	_, cmd = update(t, m, tea.FocusMsg{})
	cmd()
	assert.Equal(t, "visible", n.Hub().Visibility().String())
}

func TestModelQuit(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestChannelSummary(t *testing.T) {
	assert.Equal(t, "offline", channelSummary(nil))

	got := channelSummary([]model.ChannelState{
		{Name: "realtime", Connected: true},
		{Name: "poll", Connected: true, BackoffMultiplier: 3},
	})
	assert.Contains(t, got, "● realtime")
	assert.Contains(t, got, "poll x3")
}
