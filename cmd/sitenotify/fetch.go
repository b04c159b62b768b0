package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/theme"
)

var (
	fetchUnread bool
	fetchLimit  int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Print the current notification listing once",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchUnread, "unread", false, "list unread notifications only")
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 50, "maximum number of notifications")
}

func runFetch(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.API.BaseURL == "" {
		return errors.New("api.base_url is not configured")
	}
	client := api.NewClient(rt.cfg.API.BaseURL, rt.creds, time.Duration(rt.cfg.API.TimeoutSec)*time.Second)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	resp, err := client.ListNotifications(ctx, api.ListOptions{UnreadOnly: fetchUnread, Limit: fetchLimit})
	if err != nil {
		if api.IsAuthError(err) {
			return fmt.Errorf("%w; run `sitenotify login`", err)
		}
		return err
	}

	fmt.Println(renderTable(resp.Notifications))
	fmt.Printf("%d shown, %d unread\n", len(resp.Notifications), resp.UnreadCount)
	return nil
}

func renderTable(ns []model.Notification) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("", "ID", "PRIORITY", "TYPE", "TITLE", "FROM", "CREATED")

	for _, n := range ns {
		mark := "●"
		if n.Read {
			mark = " "
		}
		t.Row(
			mark,
			string(n.ID),
			n.Priority.String(),
			string(n.Type),
			n.Title,
			n.SenderName,
			n.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return lipgloss.NewStyle().Bold(true).Padding(0, 1)
		}
		if col == 2 && row >= 0 && row < len(ns) {
			return theme.PriorityStyle(ns[row].Priority).Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})
	return t.String()
}
