package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherAppliesHotReloadableChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	initial := "queue:\n  max_retries: 3\n  merge_strategy: merge\n"
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	applied := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { applied <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	updated := "queue:\n  max_retries: 9\n  merge_strategy: rebase\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Queue.MaxRetries != 9 {
			t.Errorf("max_retries = %d, want 9", cfg.Queue.MaxRetries)
		}
		if cfg.Queue.MergeStrategy != "rebase" {
			t.Errorf("merge_strategy = %q, want rebase", cfg.Queue.MergeStrategy)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherCloseStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  max_retries: 3\n"), 0644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	applied := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { applied <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closing twice must not panic.
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := os.WriteFile(path, []byte("queue:\n  max_retries: 9\n"), 0644); err != nil {
		t.Fatalf("write after close: %v", err)
	}

	select {
	case <-applied:
		t.Fatal("apply called after watcher was closed")
	case <-time.After(200 * time.Millisecond):
	}
}
