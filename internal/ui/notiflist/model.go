// Package notiflist renders the notification panel.
package notiflist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sitenotify/internal/keys"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/theme"
)

// MarkReadMsg asks the root model to mark a notification read.
type MarkReadMsg struct {
	ID model.ID
}

// DeleteMsg asks the root model to delete a notification.
type DeleteMsg struct {
	ID model.ID
}

// OpenMsg asks the root model to surface a notification's action link.
type OpenMsg struct {
	Notification model.Notification
}

// Model is the notification panel.
type Model struct {
	list       list.Model
	keys       *keys.KeyMap
	all        []model.Notification
	unreadOnly bool
	width      int
	height     int
}

// New creates an empty panel.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetNotifications replaces the rendered list, keeping the cursor on the
// same notification when it is still present.
func (m *Model) SetNotifications(ns []model.Notification) tea.Cmd {
	m.all = ns
	return m.refresh()
}

func (m *Model) refresh() tea.Cmd {
	selected, hadSelection := m.SelectedID()

	items := make([]list.Item, 0, len(m.all))
	cursor := -1
	for _, n := range m.all {
		if m.unreadOnly && n.Read {
			continue
		}
		if hadSelection && n.ID == selected {
			cursor = len(items)
		}
		items = append(items, Item{Notification: n})
	}

	cmd := m.list.SetItems(items)
	if cursor >= 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// SelectedID returns the id under the cursor.
func (m Model) SelectedID() (model.ID, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return "", false
	}
	return it.Notification.ID, true
}

// UnreadOnly reports whether read notifications are hidden.
func (m Model) UnreadOnly() bool {
	return m.unreadOnly
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(keyMsg, m.keys.MarkRead):
		if id, ok := m.SelectedID(); ok {
			return m, func() tea.Msg { return MarkReadMsg{ID: id} }
		}
		return m, nil

	case key.Matches(keyMsg, m.keys.Delete):
		if id, ok := m.SelectedID(); ok {
			return m, func() tea.Msg { return DeleteMsg{ID: id} }
		}
		return m, nil

	case key.Matches(keyMsg, m.keys.Open):
		if it, ok := m.list.SelectedItem().(Item); ok {
			n := it.Notification
			return m, func() tea.Msg { return OpenMsg{Notification: n} }
		}
		return m, nil

	case key.Matches(keyMsg, m.keys.UnreadOnly):
		m.unreadOnly = !m.unreadOnly
		return m, m.refresh()
	}

	// Navigation keys go to the list.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the panel.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.unreadOnly && len(m.all) > 0 {
		return style.Render("No unread notifications.\nPress u to show everything.")
	}
	return style.Render("No notifications yet.")
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
