package app

import (
	"strconv"
	"strings"

	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/theme"
)

// channelSummary renders one indicator per channel, e.g. "● realtime ○ poll".
func channelSummary(states []model.ChannelState) string {
	if len(states) == 0 {
		return "offline"
	}
	parts := make([]string, 0, len(states))
	for _, s := range states {
		mark := "○"
		if s.Connected {
			mark = "●"
		}
		label := s.Name
		if s.Name == "poll" && s.BackoffMultiplier > 1 {
			label += " x" + strconv.Itoa(s.BackoffMultiplier)
		}
		failing := s.LastError != nil
		parts = append(parts, theme.ChannelStyle(s.Connected, failing).Render(mark+" "+label))
	}
	return strings.Join(parts, "  ")
}

// toastText is the single status-bar line for an in-app toast.
func toastText(n model.Notification) string {
	text := n.Title
	if n.Message != "" {
		text += ": " + strings.ReplaceAll(n.Message, "\n", " ")
	}
	return text
}
