package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/sitenotify/internal/app"
	"github.com/nhle/sitenotify/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the notification panel (default)",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := app.NewNotifier(app.Deps{
		Config:      rt.cfg,
		Credentials: rt.creds,
		Output:      os.Stderr,
		Logger:      rt.logger,
	})
	if err != nil {
		return err
	}

	unsubscribe := notifier.Subscribe(func(n model.Notification, origin model.Origin) {
		rt.logger.Debug("notification surfaced", "id", n.ID, "origin", origin, "type", n.Type)
	})
	defer unsubscribe()

	if _, err := rt.creds.Session(); err != nil {
		rt.logger.Info("no session stored; channels idle until login", "error", err)
	}

	m := app.New(ctx, notifier, rt.cfg.AppName)
	notifier.Start(ctx)
	defer notifier.Stop()

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running notification panel: %w", err)
	}
	return nil
}
