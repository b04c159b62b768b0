package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/app"
	"github.com/nhle/sitenotify/internal/background"
	"github.com/nhle/sitenotify/internal/present"
	"github.com/nhle/sitenotify/internal/store"
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Run only the push receiver and durable store",
	Long: `Run only the push receiver and durable store.

This is the mode used while the panel is closed: pushes are stored and shown
as desktop notifications, and replayed into the panel the next time it opens.`,
	RunE: runReceiver,
}

func runReceiver(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	if cfg.Push.ListenAddr == "" {
		return errors.New("push.listen_addr is not configured")
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var client *api.Client
	if cfg.API.BaseURL != "" {
		client = api.NewClient(cfg.API.BaseURL, rt.creds, time.Duration(cfg.API.TimeoutSec)*time.Second)
	}

	presenter := present.NewPresenter(present.NewTerminalNotifier(os.Stdout, cfg.AppName), nil)
	svc := app.NewBackgroundService(cfg, st, presenter, client, rt.creds, rt.logger)
	recv := background.NewReceiver(cfg.Push.ListenAddr, svc, rt.logger.With("component", "receiver"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := svc.EnsureSubscription(ctx); err != nil {
		rt.logger.Warn("push subscription handshake failed", "error", err)
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- recv.Start() }()
	fmt.Printf("Listening for pushes on %s\n", cfg.Push.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return recv.Shutdown(shutdownCtx)
}
