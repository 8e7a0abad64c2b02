package mergequeue

import (
	"context"
	"testing"
	"time"
)

func TestProcessorDrainsQueueInOrder(t *testing.T) {
	q := NewQueue(newMemStore(), testConfig())

	for _, agent := range []string{"a1", "a2", "a3"} {
		if _, _, err := q.Enqueue(agent, "s", "b"+agent, "/wt", "main"); err != nil {
			t.Fatalf("enqueue %s: %v", agent, err)
		}
	}

	var seen []string
	merger := mergerFunc(func(entry *QueueEntry) (*MergeOutcome, error) {
		seen = append(seen, entry.AgentID)
		return &MergeOutcome{Kind: OutcomeSuccess, CommitSHA: "sha-" + entry.AgentID}, nil
	})

	p := NewProcessor(q, merger)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	want := []string{"a1", "a2", "a3"}
	if len(seen) != len(want) {
		t.Fatalf("processed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("processed[%d]=%s want %s", i, seen[i], want[i])
		}
	}

	snap := q.Status()
	if snap.Pending != 0 || snap.Processing != 0 {
		t.Fatalf("snapshot after drain = %+v, want all terminal", snap)
	}
}

// TestProcessorShutdownDrainsInFlightThenStops covers the case where Shutdown
// fires while an entry is already Processing: the entry was claimed before
// the shutdown flag was set, so the merge in flight runs to completion (spec
// scenario: an already-claimed entry is never abandoned mid-merge).
func TestProcessorShutdownDrainsInFlightThenStops(t *testing.T) {
	q := NewQueue(newMemStore(), testConfig())
	if _, _, err := q.Enqueue("a1", "s", "b1", "/wt", "main"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	merger := mergerFunc(func(entry *QueueEntry) (*MergeOutcome, error) {
		q.Shutdown()
		return &MergeOutcome{Kind: OutcomeSuccess, CommitSHA: "sha"}, nil
	})

	p := NewProcessor(q, merger)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	snap := q.Status()
	if snap.QueueLength != 1 {
		t.Fatalf("queue length = %d, want 1 (entry retained, now terminal)", snap.QueueLength)
	}

	_, entry := q.findByAgent("a1")
	if entry == nil {
		t.Fatal("entry a1 no longer present")
	}
	if entry.Status != StatusMerged {
		t.Fatalf("entry status = %s, want merged (in-flight merge completes)", entry.Status)
	}
}

// TestProcessorShutdownDoesNotClaimPendingEntry covers the case where
// Shutdown fires before an entry is ever claimed: the loop must exit without
// claiming it, leaving it Pending for the next daemon start to recover.
func TestProcessorShutdownDoesNotClaimPendingEntry(t *testing.T) {
	q := NewQueue(newMemStore(), testConfig())
	if _, _, err := q.Enqueue("a1", "s", "b1", "/wt", "main"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q.Shutdown()

	claimed := false
	merger := mergerFunc(func(entry *QueueEntry) (*MergeOutcome, error) {
		claimed = true
		return &MergeOutcome{Kind: OutcomeSuccess, CommitSHA: "sha"}, nil
	})

	p := NewProcessor(q, merger)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if claimed {
		t.Fatal("entry was claimed after shutdown was requested")
	}

	_, entry := q.findByAgent("a1")
	if entry == nil {
		t.Fatal("entry a1 no longer present")
	}
	if entry.Status != StatusPending {
		t.Fatalf("entry status = %s, want pending (not claimed post-shutdown)", entry.Status)
	}
}

type mergerFunc func(entry *QueueEntry) (*MergeOutcome, error)

func (f mergerFunc) Merge(entry *QueueEntry) (*MergeOutcome, error) {
	return f(entry)
}
