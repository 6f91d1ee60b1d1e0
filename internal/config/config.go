// Package config handles application configuration using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Display   DisplayConfig   `mapstructure:"display"`
}

// StorageConfig holds local storage configuration.
type StorageConfig struct {
	// Path is the SQLite database file holding the dataset.
	Path string `mapstructure:"path"`

	// Inbox is the directory watched by the daemon for dropped dataset
	// files to import.
	Inbox string `mapstructure:"inbox"`
}

// RemoteConfig holds remote sync configuration.
type RemoteConfig struct {
	// BaseURL is the root of the remote document store API.
	BaseURL string `mapstructure:"base_url"`
}

// DaemonConfig holds sync daemon configuration.
type DaemonConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	DebounceInterval  time.Duration `mapstructure:"debounce_interval"`

	// LogFile, when set, routes daemon logs to a rotated file instead of
	// stderr.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// DashboardConfig holds the status dashboard configuration.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DisplayConfig holds display-related configuration.
type DisplayConfig struct {
	Colors bool `mapstructure:"colors"`
}

// Dir returns the prodcal configuration directory (~/.prodcal).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".prodcal"), nil
}

// Load reads configuration from file and environment. A missing config
// file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PRODCAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// An explicit path that does not exist also falls back to
			// defaults.
			if configPath == "" || !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Storage.Inbox = expandHome(cfg.Storage.Inbox)
	cfg.Daemon.LogFile = expandHome(cfg.Daemon.LogFile)
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Storage.Inbox = expandHome(cfg.Storage.Inbox)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "~/.prodcal/prodcal.db")
	v.SetDefault("storage.inbox", "~/.prodcal/inbox")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("daemon.reconcile_interval", 5*time.Minute)
	v.SetDefault("daemon.debounce_interval", 500*time.Millisecond)
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8377)
	v.SetDefault("display.colors", true)
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Default()

	// Durations render as strings and paths stay portable rather than
	// baked to this home dir.
	out := map[string]any{
		"storage": map[string]any{
			"path":  "~/.prodcal/prodcal.db",
			"inbox": "~/.prodcal/inbox",
		},
		"remote": map[string]any{
			"base_url": cfg.Remote.BaseURL,
		},
		"daemon": map[string]any{
			"reconcile_interval": cfg.Daemon.ReconcileInterval.String(),
			"debounce_interval":  cfg.Daemon.DebounceInterval.String(),
			"log_file":           cfg.Daemon.LogFile,
			"log_max_size_mb":    cfg.Daemon.LogMaxSizeMB,
			"log_max_backups":    cfg.Daemon.LogMaxBackups,
		},
		"dashboard": map[string]any{
			"enabled": cfg.Dashboard.Enabled,
			"port":    cfg.Dashboard.Port,
		},
		"display": map[string]any{
			"colors": cfg.Display.Colors,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
