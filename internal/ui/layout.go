package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sitenotify/internal/theme"
)

// Layout manages the header, panel and status bar dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the notification panel.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader renders the title, an optional unread badge and the
// right-aligned channel summary.
func (l Layout) RenderHeader(title, badge, channels string) string {
	left := theme.HeaderStyle.Render(title)
	if badge != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, theme.BadgeStyle.Render(badge))
	}
	right := theme.HeaderStyle.Render(channels)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left,
		l.fill(theme.HeaderStyle, l.Width-lipgloss.Width(left)-lipgloss.Width(right)),
		right,
	)
}

// RenderStatusBar renders the bottom bar. A toast or warning, when
// present, replaces the key hints.
func (l Layout) RenderStatusBar(hints, toast, warning string) string {
	style := theme.StatusBarStyle
	text := hints
	switch {
	case warning != "":
		style, text = theme.WarningStyle, warning
	case toast != "":
		style, text = theme.ToastStyle, toast
	}

	rendered := style.MaxWidth(max(l.Width, 1)).Render(text)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		rendered,
		l.fill(style, l.Width-lipgloss.Width(rendered)),
	)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}

func (l Layout) fill(style lipgloss.Style, gap int) string {
	if gap <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
}
