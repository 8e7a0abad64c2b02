package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mergequeue/mqd/internal/mergequeue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadAllRoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := &mergequeue.QueueEntry{
		ID:            "e1",
		AgentID:       "a1",
		SessionID:     "s1",
		Branch:        "agent/a1",
		Worktree:      "/tmp/wt1",
		TargetBranch:  "main",
		Attempts:      1,
		QueuedAt:      time.Now().Truncate(time.Millisecond),
		Status:        mergequeue.StatusConflict,
		LastError:     "",
		ConflictFiles: []string{"a.go", "b.go"},
		PositionHint:  0,
	}

	if err := s.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("loaded %d entries, want 1", len(all))
	}

	got := all[0]
	if got.ID != entry.ID || got.AgentID != entry.AgentID || got.Status != entry.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.ConflictFiles) != 2 || got.ConflictFiles[0] != "a.go" {
		t.Fatalf("conflict files round trip: %v", got.ConflictFiles)
	}
	if !got.QueuedAt.Equal(entry.QueuedAt) {
		t.Fatalf("queued_at round trip: got %v want %v", got.QueuedAt, entry.QueuedAt)
	}
}

func TestSaveUpsertsExistingRow(t *testing.T) {
	s := openTestStore(t)

	entry := &mergequeue.QueueEntry{
		ID: "e1", AgentID: "a1", SessionID: "s1", Branch: "b", Worktree: "/wt",
		TargetBranch: "main", QueuedAt: time.Now(), Status: mergequeue.StatusPending,
	}
	if err := s.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	entry.Status = mergequeue.StatusMerged
	entry.Attempts = 1
	if err := s.Save(entry); err != nil {
		t.Fatalf("save update: %v", err)
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("loaded %d entries, want 1 (upsert, not duplicate)", len(all))
	}
	if all[0].Status != mergequeue.StatusMerged || all[0].Attempts != 1 {
		t.Fatalf("upsert did not apply: %+v", all[0])
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	s := openTestStore(t)

	entry := &mergequeue.QueueEntry{
		ID: "e1", AgentID: "a1", SessionID: "s1", Branch: "b", Worktree: "/wt",
		TargetBranch: "main", QueuedAt: time.Now(), Status: mergequeue.StatusPending,
	}
	if err := s.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("loaded %d entries after delete, want 0", len(all))
	}
}

func TestLoadAllOrdersByPositionHint(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"e3", "e1", "e2"} {
		positions := map[string]int{"e1": 0, "e2": 1, "e3": 2}
		entry := &mergequeue.QueueEntry{
			ID: id, AgentID: "a" + id, SessionID: "s", Branch: "b", Worktree: "/wt",
			TargetBranch: "main", QueuedAt: time.Now().Add(time.Duration(i) * time.Second),
			Status: mergequeue.StatusPending, PositionHint: positions[id],
		}
		if err := s.Save(entry); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	want := []string{"e1", "e2", "e3"}
	if len(all) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestReopenPersistsAcrossConnections(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry := &mergequeue.QueueEntry{
		ID: "e1", AgentID: "a1", SessionID: "s1", Branch: "b", Worktree: "/wt",
		TargetBranch: "main", QueuedAt: time.Now(), Status: mergequeue.StatusProcessing,
	}
	if err := s1.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	all, err := s2.LoadAll()
	if err != nil {
		t.Fatalf("load all after reopen: %v", err)
	}
	if len(all) != 1 || all[0].Status != mergequeue.StatusProcessing {
		t.Fatalf("reopen did not preserve state: %+v", all)
	}
}
