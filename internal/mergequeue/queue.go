package mergequeue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary the Queue writes through on every
// mutation, so a crashed daemon can recover its in-flight state. It is
// satisfied by internal/store.Store.
type Store interface {
	Save(entry *QueueEntry) error
	Delete(id string) error
	LoadAll() ([]*QueueEntry, error)
}

// Merger performs one merge attempt for an entry. It is satisfied by
// internal/merger.Merger; Queue depends only on this narrow interface so
// the git-touching implementation stays swappable in tests.
type Merger interface {
	Merge(entry *QueueEntry) (*MergeOutcome, error)
}

// Config holds the Queue's tunable limits. Values are copied in, not
// pointed to, so a config hot-reload cannot tear a decision made mid-method
// out from under a running operation.
type Config struct {
	MaxQueueSize      int
	MaxRetries        int
	TerminalRetention time.Duration
}

// Queue is the durable, ordered, single-writer-consumed FIFO of merge
// requests. All mutation happens under mu; notify wakes the Processor
// without it having to poll tightly.
type Queue struct {
	mu           sync.Mutex
	entries      []*QueueEntry
	cfg          Config
	store        Store
	notify       chan struct{}
	events       chan Event
	shuttingDown bool
}

// NewQueue constructs an empty Queue backed by store, with the given config.
func NewQueue(store Store, cfg Config) *Queue {
	return &Queue{
		cfg:    cfg,
		store:  store,
		notify: make(chan struct{}, 1),
		events: newEventChan(),
	}
}

// Events returns the read side of the optional lifecycle event stream.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// SetConfig atomically replaces the queue's tunable limits, used by the
// config hot-reload watcher for max_retries (max_queue_size is deliberately
// excluded — see DESIGN.md).
func (q *Queue) SetConfig(cfg Config) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Recover reloads persisted entries from the Store at daemon startup,
// downgrading any entry left Processing (a crash mid-merge) back to
// Pending, and preserves original FIFO order via PositionHint. It wakes
// the Processor once if anything was recovered.
func (q *Queue) Recover() error {
	stored, err := q.store.LoadAll()
	if err != nil {
		return wrapf("recover", err)
	}

	var pending []*QueueEntry
	for _, e := range stored {
		if e.Status == StatusPending || e.Status == StatusProcessing {
			if e.Status == StatusProcessing {
				e.Status = StatusPending
			}
			pending = append(pending, e)
		}
	}

	sortByPosition(pending)

	q.mu.Lock()
	q.entries = append(q.entries, pending...)
	q.mu.Unlock()

	for _, e := range pending {
		if err := q.store.Save(e); err != nil {
			return wrapf("recover: persist downgraded entry", err)
		}
	}

	if len(pending) > 0 {
		q.wake()
	}
	return nil
}

func sortByPosition(entries []*QueueEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].PositionHint < entries[j-1].PositionHint; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Enqueue admits a new merge request. It rejects the request if the queue
// is at capacity, or if the agent already has a non-terminal entry queued.
// Returns the entry's position (0-based, counting only entries ahead of it)
// at the moment of admission.
func (q *Queue) Enqueue(agentID, sessionID, branch, worktree, targetBranch string) (*QueueEntry, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cfg.MaxQueueSize {
		return nil, 0, &ErrQueueFull{MaxSize: q.cfg.MaxQueueSize}
	}

	for _, e := range q.entries {
		if e.AgentID == agentID && !e.Status.Terminal() {
			return nil, 0, &ErrAgentAlreadyQueued{AgentID: agentID}
		}
	}

	entry := &QueueEntry{
		ID:           uuid.New().String(),
		AgentID:      agentID,
		SessionID:    sessionID,
		Branch:       branch,
		Worktree:     worktree,
		TargetBranch: targetBranch,
		QueuedAt:     time.Now(),
		Status:       StatusPending,
		PositionHint: len(q.entries),
	}

	position := len(q.entries)

	if err := q.store.Save(entry); err != nil {
		return nil, 0, wrapf("enqueue", err)
	}

	q.entries = append(q.entries, entry)
	q.wake()
	emit(q.events, Event{Type: EventEnqueued, AgentID: agentID, EntryID: entry.ID, Timestamp: entry.QueuedAt})

	return entry.Clone(), position, nil
}

// Dequeue removes an agent's entry from the queue outright, regardless of
// status, and deletes its persisted row.
func (q *Queue) Dequeue(agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, entry := q.findByAgent(agentID)
	if entry == nil {
		return &ErrAgentNotFound{AgentID: agentID}
	}

	if err := q.store.Delete(entry.ID); err != nil {
		return wrapf("dequeue", err)
	}

	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	emit(q.events, Event{Type: EventDequeued, AgentID: agentID, EntryID: entry.ID, Timestamp: time.Now()})
	return nil
}

// SessionEnd is informational only, matching the original daemon's
// SessionEnd handler: it records that sessionID's agent session has
// terminated but leaves the session's queue entries untouched. A session
// ending is not the same as its merge request being withdrawn — that is
// what Dequeue is for.
func (q *Queue) SessionEnd(sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.SessionID == sessionID {
			emit(q.events, Event{Type: EventSessionEnded, AgentID: e.AgentID, EntryID: e.ID, Timestamp: time.Now()})
		}
	}
	return nil
}

// Retry re-admits a Conflict or Failed entry as Pending, clearing its
// conflict detail but preserving its attempt count (attempts are not reset
// on retry — exceeding max_retries is permanent until the entry is
// dequeued). Returns the entry's new queue position.
func (q *Queue) Retry(agentID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, entry := q.findByAgent(agentID)
	if entry == nil {
		return 0, &ErrAgentNotFound{AgentID: agentID}
	}

	if entry.Attempts >= q.cfg.MaxRetries {
		return 0, &ErrMaxRetriesExceeded{AgentID: agentID, Attempts: entry.Attempts, MaxRetries: q.cfg.MaxRetries}
	}

	entry.Status = StatusPending
	entry.LastError = ""
	entry.ConflictFiles = nil

	if err := q.store.Save(entry); err != nil {
		return 0, wrapf("retry", err)
	}

	q.wake()
	emit(q.events, Event{Type: EventRetried, AgentID: agentID, EntryID: entry.ID, Timestamp: time.Now()})

	return q.positionLocked(entry.ID), nil
}

// Status returns a point-in-time snapshot of queue occupancy.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{QueueLength: len(q.entries)}
	for _, e := range q.entries {
		snap.Agents = append(snap.Agents, e.AgentID)
		switch e.Status {
		case StatusPending:
			snap.Pending++
		case StatusProcessing:
			snap.Processing++
		}
	}
	return snap
}

// Conflicts returns the conflicted file list for an agent's entry.
func (q *Queue) Conflicts(agentID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, entry := q.findByAgent(agentID)
	if entry == nil {
		return nil, &ErrAgentNotFound{AgentID: agentID}
	}
	return append([]string(nil), entry.ConflictFiles...), nil
}

// Shutdown stops the Processor from claiming further work. Enqueue
// continues to succeed; entries admitted after shutdown sit Pending until
// the next start, when Recover picks them back up.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shuttingDown = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) isShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}

// claimNext atomically promotes the head Pending entry to Processing and
// bumps its attempt count, returning a clone for the caller to act on
// outside the lock. Returns nil if there is nothing claimable, including
// when shutdown has been requested: a not-yet-claimed Pending entry must
// stay Pending rather than be picked up after Shutdown fires.
func (q *Queue) claimNext() *QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return nil
	}

	for _, e := range q.entries {
		if e.Status == StatusPending {
			e.Status = StatusProcessing
			e.Attempts++
			if err := q.store.Save(e); err != nil {
				// Persistence failure on claim: revert in-memory so the
				// entry remains retriable rather than stuck Processing
				// with no durable record.
				e.Status = StatusPending
				e.Attempts--
				return nil
			}
			emit(q.events, Event{Type: EventClaimed, AgentID: e.AgentID, EntryID: e.ID, Timestamp: time.Now()})
			return e.Clone()
		}
	}
	return nil
}

// recordOutcome applies a merge outcome to the entry by ID. It is a no-op
// if the entry is no longer present (dequeued concurrently), matching the
// original daemon's re-scan-by-id semantics.
func (q *Queue) recordOutcome(entryID string, outcome *MergeOutcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var entry *QueueEntry
	for _, e := range q.entries {
		if e.ID == entryID {
			entry = e
			break
		}
	}
	if entry == nil {
		return
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		entry.Status = StatusMerged
		entry.LastError = ""
		entry.ConflictFiles = nil
		emit(q.events, Event{Type: EventMerged, AgentID: entry.AgentID, EntryID: entry.ID, Timestamp: time.Now(), Detail: outcome.CommitSHA})
	case OutcomeConflict:
		entry.Status = StatusConflict
		entry.ConflictFiles = outcome.ConflictFiles
		emit(q.events, Event{Type: EventConflict, AgentID: entry.AgentID, EntryID: entry.ID, Timestamp: time.Now()})
	case OutcomeFailed:
		entry.Status = StatusFailed
		entry.LastError = outcome.Error
		emit(q.events, Event{Type: EventFailed, AgentID: entry.AgentID, EntryID: entry.ID, Timestamp: time.Now(), Detail: outcome.Error})
	}

	_ = q.store.Save(entry)
}

// gcTerminal drops terminal entries older than TerminalRetention from both
// memory and the Store. Called lazily on each Processor tick.
func (q *Queue) gcTerminal() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.TerminalRetention <= 0 {
		return
	}

	cutoff := time.Now().Add(-q.cfg.TerminalRetention)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Status.Terminal() && e.QueuedAt.Before(cutoff) {
			_ = q.store.Delete(e.ID)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
}

func (q *Queue) findByAgent(agentID string) (int, *QueueEntry) {
	for i, e := range q.entries {
		if e.AgentID == agentID {
			return i, e
		}
	}
	return -1, nil
}

// positionLocked returns the 0-based count of non-terminal entries ahead of
// the given entry ID. Callers must hold q.mu.
func (q *Queue) positionLocked(id string) int {
	pos := 0
	for _, e := range q.entries {
		if e.ID == id {
			return pos
		}
		if !e.Status.Terminal() {
			pos++
		}
	}
	return pos
}
