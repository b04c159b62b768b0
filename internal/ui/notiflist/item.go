package notiflist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/theme"
)

// Item wraps a notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string {
	return i.Notification.Title + " " + i.Notification.Message
}

// Title returns the notification title.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line.
func (i Item) Description() string {
	parts := []string{string(i.Notification.Type), relativeTime(i.Notification.CreatedAt)}
	if i.Notification.SenderName != "" {
		parts = append(parts, i.Notification.SenderName)
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate with a two-line layout: the
// title line and a dimmed message line.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification
	isSelected := index == m.Index()
	width := m.Width()

	marker := "●"
	if n.Read {
		marker = " "
	}

	typeBadge := theme.TypeStyle(n.Type).Render(strings.ToUpper(string(n.Type)))
	priBadge := theme.PriorityStyle(n.Priority).Render(priorityLabel(n.Priority))
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.CreatedAt))

	head := fmt.Sprintf("%s %s %s %s  %s", marker, priBadge, typeBadge, n.Title, timeStr)

	body := n.Message
	if n.SenderName != "" {
		body = n.SenderName + ": " + body
	}
	body = truncate(strings.ReplaceAll(body, "\n", " "), max(width-6, 10))
	body = theme.DimmedStyle.Render("    " + body)

	if n.Read {
		head = theme.DimmedStyle.Render(head)
	}

	line := lipgloss.JoinVertical(lipgloss.Left, head, body)
	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}

// priorityLabel returns a short label for the given priority.
func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityUrgent:
		return "!!"
	case model.PriorityHigh:
		return "! "
	case model.PriorityLow:
		return "· "
	default:
		return "  "
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
