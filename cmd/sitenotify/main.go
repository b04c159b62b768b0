package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/sitenotify/internal/credential"
	"github.com/nhle/sitenotify/internal/model"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sitenotify",
	Short: "Terminal notification center for the site ERP",
	Long: `sitenotify keeps ERP notifications in one place.

Notifications arrive over a realtime socket, a periodic poll and a local push
receiver. Each one is stored and shown once, however many channels deliver it.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(),
		"path to the YAML configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(receiverCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime is what every command needs: configuration, a logger and the
// credential store.
type runtime struct {
	cfg    *model.AppConfig
	logger *slog.Logger
	creds  *credential.Store
	close  func()
}

func loadRuntime() (*runtime, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := openLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	ring, err := credential.OpenKeyring(model.ConfigDir())
	if err != nil {
		closeLog()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		creds:  credential.NewStore(ring, cfg.Session.MarkerFile),
		close:  closeLog,
	}, nil
}

// openLogger writes slog text records to the configured file. The TUI owns
// stdout, so nothing is logged there.
func openLogger(c model.LogConfig) (*slog.Logger, func(), error) {
	if c.File == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := model.SaveConfig(configPath, model.DefaultAppConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}
