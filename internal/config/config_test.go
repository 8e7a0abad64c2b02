package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.MaxQueueSize != 10 {
		t.Errorf("expected default max_queue_size 10, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.MergeStrategy != "merge" {
		t.Errorf("expected default merge_strategy 'merge', got %q", cfg.Queue.MergeStrategy)
	}
	if cfg.Queue.TerminalRetention != 30*time.Minute {
		t.Errorf("expected default terminal_retention 30m, got %v", cfg.Queue.TerminalRetention)
	}
	if cfg.Watch.RefreshRate != 500*time.Millisecond {
		t.Errorf("expected default watch refresh rate 500ms, got %v", cfg.Watch.RefreshRate)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
queue:
  max_queue_size: 25
  max_retries: 5
  merge_strategy: squash
  terminal_retention: 1h
daemon:
  repo_path: /srv/repo
  socket_path: /tmp/mqd-test.sock
  db_path: /srv/repo/.mqd/queue.db
anthropic:
  api_key: test-key
watch:
  refresh_rate: 250ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Queue.MaxQueueSize != 25 {
		t.Errorf("max_queue_size = %d, want 25", cfg.Queue.MaxQueueSize)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.MergeStrategy != "squash" {
		t.Errorf("merge_strategy = %q, want squash", cfg.Queue.MergeStrategy)
	}
	if cfg.Queue.TerminalRetention != time.Hour {
		t.Errorf("terminal_retention = %v, want 1h", cfg.Queue.TerminalRetention)
	}
	if cfg.Daemon.RepoPath != "/srv/repo" {
		t.Errorf("repo_path = %q, want /srv/repo", cfg.Daemon.RepoPath)
	}
	if cfg.Daemon.SocketPath != "/tmp/mqd-test.sock" {
		t.Errorf("socket_path = %q, want /tmp/mqd-test.sock", cfg.Daemon.SocketPath)
	}
	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("api_key = %q, want test-key", cfg.Anthropic.APIKey)
	}
	if cfg.Watch.RefreshRate != 250*time.Millisecond {
		t.Errorf("watch refresh rate = %v, want 250ms", cfg.Watch.RefreshRate)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	if got := expandEnv("${TEST_VAR}"); got != "expanded-value" {
		t.Errorf("expandEnv = %q, want expanded-value", got)
	}
	if got := expandEnv("prefix-${TEST_VAR}-suffix"); got != "prefix-expanded-value-suffix" {
		t.Errorf("expandEnv = %q, want prefix-expanded-value-suffix", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	want := "/custom/config/mergequeue"
	if dir != want {
		t.Errorf("getUserConfigDir = %q, want %q", dir, want)
	}
}

func TestIsHotReloadable(t *testing.T) {
	if !IsHotReloadable("queue.max_retries") {
		t.Error("queue.max_retries should be hot-reloadable")
	}
	if !IsHotReloadable("queue.merge_strategy") {
		t.Error("queue.merge_strategy should be hot-reloadable")
	}
	if IsHotReloadable("queue.max_queue_size") {
		t.Error("queue.max_queue_size must not be hot-reloadable (see DESIGN.md)")
	}
	if IsHotReloadable("daemon.repo_path") {
		t.Error("daemon.repo_path must not be hot-reloadable")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg := Default()
	cfg.Queue.MaxRetries = 7
	cfg.Daemon.RepoPath = "/data/repo"

	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Queue.MaxRetries != 7 {
		t.Errorf("reloaded max_retries = %d, want 7", reloaded.Queue.MaxRetries)
	}
	if reloaded.Daemon.RepoPath != "/data/repo" {
		t.Errorf("reloaded repo_path = %q, want /data/repo", reloaded.Daemon.RepoPath)
	}
}
