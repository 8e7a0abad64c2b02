// Package config handles configuration loading and management for the merge
// queue daemon. It supports XDG config paths, project-level overrides, and
// environment variables, with a subset of fields hot-reloadable via
// Watch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for mqd/mqctl.
type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// QueueConfig holds the merge queue's tunable limits.
type QueueConfig struct {
	// MaxQueueSize is the maximum number of entries admitted at once.
	// Not hot-reloadable — see DESIGN.md.
	MaxQueueSize int `mapstructure:"max_queue_size"`
	// MaxRetries is the number of merge attempts allowed before an entry
	// is permanently stuck until explicitly dequeued.
	MaxRetries int `mapstructure:"max_retries"`
	// MergeStrategy selects merge, rebase, or squash.
	MergeStrategy string `mapstructure:"merge_strategy"`
	// TerminalRetention is how long a terminal entry (merged, failed,
	// cancelled) is kept before being garbage collected.
	TerminalRetention time.Duration `mapstructure:"terminal_retention"`
}

// DaemonConfig holds the daemon's process-level settings.
type DaemonConfig struct {
	// RepoPath is the filesystem path of the shared repository this
	// daemon is the sole writer into.
	RepoPath string `mapstructure:"repo_path"`
	// SocketPath is where the Unix domain socket is bound.
	SocketPath string `mapstructure:"socket_path"`
	// DBPath is the SQLite database file backing the Persistence Store.
	DBPath string `mapstructure:"db_path"`
}

// AnthropicConfig holds Anthropic API settings used only by the optional
// conflict advisor.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// WatchConfig holds settings for the mqctl watch dashboard.
type WatchConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// hotReloadable is the set of dot-notation keys the fsnotify watcher is
// allowed to apply on a running daemon without a restart.
var hotReloadable = map[string]bool{
	"queue.max_retries":    true,
	"queue.merge_strategy": true,
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (MQD_* and ANTHROPIC_API_KEY)
//  2. Project config (.mqd.yaml in current directory or parent)
//  3. User config (~/.config/mergequeue/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MQD")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing and
// for `mqd serve --config`).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("queue.max_queue_size", cfg.Queue.MaxQueueSize)
	v.Set("queue.max_retries", cfg.Queue.MaxRetries)
	v.Set("queue.merge_strategy", cfg.Queue.MergeStrategy)
	v.Set("queue.terminal_retention", cfg.Queue.TerminalRetention.String())
	v.Set("daemon.repo_path", cfg.Daemon.RepoPath)
	v.Set("daemon.socket_path", cfg.Daemon.SocketPath)
	v.Set("daemon.db_path", cfg.Daemon.DBPath)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("watch.refresh_rate", cfg.Watch.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if one
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// IsHotReloadable reports whether key may be applied to a running daemon
// without a restart.
func IsHotReloadable(key string) bool {
	return hotReloadable[key]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.max_queue_size", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.merge_strategy", "merge")
	v.SetDefault("queue.terminal_retention", "30m")

	v.SetDefault("daemon.repo_path", ".")
	v.SetDefault("daemon.socket_path", defaultSocketPath())
	v.SetDefault("daemon.db_path", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("watch.refresh_rate", "500ms")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join(os.TempDir())
	}
	return filepath.Join(runtimeDir, "mqd.sock")
}

// getUserConfigDir returns the XDG config directory for mqd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mergequeue")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mergequeue")
	}
	return filepath.Join(home, ".config", "mergequeue")
}

// findProjectConfig searches for .mqd.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".mqd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with built-in default values.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxQueueSize:      10,
			MaxRetries:        3,
			MergeStrategy:     "merge",
			TerminalRetention: 30 * time.Minute,
		},
		Daemon: DaemonConfig{
			RepoPath:   ".",
			SocketPath: defaultSocketPath(),
		},
		Anthropic: AnthropicConfig{
			APIKey: "",
		},
		Watch: WatchConfig{
			RefreshRate: 500 * time.Millisecond,
		},
	}
}
