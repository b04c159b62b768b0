package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// APIConfig holds the REST backend settings.
type APIConfig struct {
	// BaseURL is the root URL of the ERP REST API. Empty disables polling.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`

	// TimeoutSec bounds each HTTP request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gte=1"`
}

// SocketConfig holds the realtime channel settings.
type SocketConfig struct {
	// URL is the websocket endpoint. Empty disables the realtime channel.
	URL string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`

	// MaxAttempts bounds reconnection attempts before giving up.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
}

// PollConfig holds the poll channel settings.
type PollConfig struct {
	BaseIntervalSec int    `mapstructure:"base_interval_sec" yaml:"base_interval_sec" validate:"gte=1"`
	MaxMultiplier   int    `mapstructure:"max_multiplier" yaml:"max_multiplier" validate:"gte=1"`
	Policy          string `mapstructure:"policy" yaml:"policy" validate:"oneof=safety-net fallback"`
	PageSize        int    `mapstructure:"page_size" yaml:"page_size" validate:"gte=1"`
}

// PushConfig holds the background push settings.
type PushConfig struct {
	// VAPIDPublicKey is the application server key. Empty disables push.
	VAPIDPublicKey string `mapstructure:"vapid_public_key" yaml:"vapid_public_key"`

	// ListenAddr is where the local push receiver listens.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// PublicURL is the endpoint registered with the server. Defaults to
	// http://<listen_addr>/push.
	PublicURL string `mapstructure:"public_url" yaml:"public_url" validate:"omitempty,url"`
}

// StorageConfig holds durable storage settings.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// SessionConfig holds credential change detection settings.
type SessionConfig struct {
	MarkerFile string `mapstructure:"marker_file" yaml:"marker_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// DedupConfig holds the dedup ledger settings.
type DedupConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=10"`
}

// RolesConfig holds the role alias table. Each key is a canonical role and
// each value lists names that mean the same role.
type RolesConfig struct {
	Aliases map[string][]string `mapstructure:"aliases" yaml:"aliases"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	AppName string        `mapstructure:"app_name" yaml:"app_name" validate:"required"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Socket  SocketConfig  `mapstructure:"socket" yaml:"socket"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Dedup   DedupConfig   `mapstructure:"dedup" yaml:"dedup"`
	Roles   RolesConfig   `mapstructure:"roles" yaml:"roles"`
}

// Poll policies.
const (
	PollPolicySafetyNet = "safety-net"
	PollPolicyFallback  = "fallback"
)

// ConfigDir returns ~/.config/sitenotify, or "." when the home directory
// cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sitenotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/sitenotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		AppName: "SiteERP",
		API:     APIConfig{TimeoutSec: 15},
		Socket:  SocketConfig{MaxAttempts: 10},
		Poll: PollConfig{
			BaseIntervalSec: 30,
			MaxMultiplier:   4,
			Policy:          PollPolicySafetyNet,
			PageSize:        100,
		},
		Push: PushConfig{ListenAddr: "127.0.0.1:8787"},
		Storage: StorageConfig{
			DBPath: filepath.Join(dir, "notifications.db"),
		},
		Session: SessionConfig{
			MarkerFile: filepath.Join(dir, "session"),
		},
		Log: LogConfig{
			File:  filepath.Join(dir, "sitenotify.log"),
			Level: "info",
		},
		Dedup: DedupConfig{Capacity: 500},
		Roles: RolesConfig{Aliases: map[string][]string{}},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("socket.max_attempts", d.Socket.MaxAttempts)
	v.SetDefault("poll.base_interval_sec", d.Poll.BaseIntervalSec)
	v.SetDefault("poll.max_multiplier", d.Poll.MaxMultiplier)
	v.SetDefault("poll.policy", d.Poll.Policy)
	v.SetDefault("poll.page_size", d.Poll.PageSize)
	v.SetDefault("push.listen_addr", d.Push.ListenAddr)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("session.marker_file", d.Session.MarkerFile)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("dedup.capacity", d.Dedup.Capacity)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// SITENOTIFY_* environment variables override file values. If the file does
// not exist, defaults plus environment overrides are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SITENOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// Env-only keys are not visible to Unmarshal unless bound.
	for _, key := range []string{
		"api.base_url", "socket.url", "push.vapid_public_key", "push.public_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Roles.Aliases == nil {
		cfg.Roles.Aliases = map[string][]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *AppConfig) Validate() error {
	return validator.New().Struct(c)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("app_name", cfg.AppName)
	v.Set("api", cfg.API)
	v.Set("socket", cfg.Socket)
	v.Set("poll", cfg.Poll)
	v.Set("push", cfg.Push)
	v.Set("storage", cfg.Storage)
	v.Set("session", cfg.Session)
	v.Set("log", cfg.Log)
	v.Set("dedup", cfg.Dedup)
	v.Set("roles", cfg.Roles)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
