package notiflist

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/keys"
	"github.com/nhle/sitenotify/internal/model"
)

func sample() []model.Notification {
	now := time.Now()
	return []model.Notification{
		{ID: "3", Title: "CR-3 submitted", CreatedAt: now, Type: model.TypeApproval, Priority: model.PriorityHigh},
		{ID: "2", Title: "BOQ-2 approved", CreatedAt: now.Add(-time.Hour), Read: true},
		{ID: "1", Title: "PR-1 rejected", CreatedAt: now.Add(-2 * time.Hour), ActionURL: "/procurement/purchase-requests/1"},
	}
}

func TestSelectionFollowsNotification(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetNotifications(sample())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	id, ok := m.SelectedID()
	require.True(t, ok)
	assert.Equal(t, model.ID("2"), id)

	// A new notification on top keeps the cursor on the same one.
	m.SetNotifications(append([]model.Notification{{ID: "4", Title: "new", CreatedAt: time.Now()}}, sample()...))
	id, _ = m.SelectedID()
	assert.Equal(t, model.ID("2"), id)
}

func TestUnreadOnlyHidesRead(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetNotifications(sample())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("u")})
	assert.True(t, m.UnreadOnly())
	assert.NotContains(t, m.View(), "BOQ-2 approved")
	assert.Contains(t, m.View(), "CR-3 submitted")

	m.SetNotifications([]model.Notification{{ID: "2", Title: "BOQ-2 approved", Read: true}})
	assert.Contains(t, m.View(), "No unread notifications")
}

func TestKeysEmitActions(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetNotifications(sample())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, MarkReadMsg{ID: "3"}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	assert.Equal(t, DeleteMsg{ID: "3"}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	require.NotNil(t, cmd)
	open, ok := cmd().(OpenMsg)
	require.True(t, ok)
	assert.Equal(t, model.ID("3"), open.Notification.ID)
}

func TestEmptyState(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	assert.Contains(t, m.View(), "No notifications yet")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}
