// Package store provides SQLite-based persistence for the merge queue,
// acting as a write-through mirror of the in-memory Queue so a crashed
// daemon can recover its in-flight state on restart.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mergequeue/mqd/internal/mergequeue"
)

// Store wraps an SQLite database connection holding the queue_entries
// table.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the XDG-conventional path for the daemon database
// when none is configured explicitly.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "mergequeue", "queue.db")
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode for concurrent reads, and applies schema migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1QueueEntries},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1QueueEntries = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	worktree TEXT NOT NULL,
	target_branch TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	queued_at DATETIME NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT,
	conflict_files TEXT,
	position_hint INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status);
CREATE INDEX IF NOT EXISTS idx_queue_entries_agent_id ON queue_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_queue_entries_position ON queue_entries(position_hint);
`

// Save upserts an entry's row.
func (s *Store) Save(entry *mergequeue.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflictJSON, err := marshalConflictFiles(entry.ConflictFiles)
	if err != nil {
		return fmt.Errorf("marshal conflict_files: %w", err)
	}

	var lastError sql.NullString
	if entry.LastError != "" {
		lastError = sql.NullString{String: entry.LastError, Valid: true}
	}

	_, err = s.conn.Exec(`
		INSERT INTO queue_entries
			(id, agent_id, session_id, branch, worktree, target_branch, attempts, queued_at, status, last_error, conflict_files, position_hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id=excluded.agent_id,
			session_id=excluded.session_id,
			branch=excluded.branch,
			worktree=excluded.worktree,
			target_branch=excluded.target_branch,
			attempts=excluded.attempts,
			queued_at=excluded.queued_at,
			status=excluded.status,
			last_error=excluded.last_error,
			conflict_files=excluded.conflict_files,
			position_hint=excluded.position_hint
	`, entry.ID, entry.AgentID, entry.SessionID, entry.Branch, entry.Worktree, entry.TargetBranch,
		entry.Attempts, formatTime(entry.QueuedAt), string(entry.Status), lastError, conflictJSON, entry.PositionHint)
	if err != nil {
		return fmt.Errorf("save queue entry %s: %w", entry.ID, err)
	}
	return nil
}

// Delete removes an entry's row by ID. It is not an error if the row is
// already absent.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM queue_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted entry, ordered by position_hint so
// callers can reconstruct original FIFO order.
func (s *Store) LoadAll() ([]*mergequeue.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, agent_id, session_id, branch, worktree, target_branch, attempts,
		       queued_at, status, last_error, conflict_files, position_hint
		FROM queue_entries
		ORDER BY position_hint ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load queue entries: %w", err)
	}
	defer rows.Close()

	var out []*mergequeue.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(rs rowScanner) (*mergequeue.QueueEntry, error) {
	var (
		entry        mergequeue.QueueEntry
		queuedAt     string
		status       string
		lastError    sql.NullString
		conflictJSON sql.NullString
	)

	if err := rs.Scan(&entry.ID, &entry.AgentID, &entry.SessionID, &entry.Branch, &entry.Worktree,
		&entry.TargetBranch, &entry.Attempts, &queuedAt, &status, &lastError, &conflictJSON, &entry.PositionHint); err != nil {
		return nil, err
	}

	t, err := parseTime(queuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse queued_at: %w", err)
	}
	entry.QueuedAt = t
	entry.Status = mergequeue.EntryStatus(status)
	if lastError.Valid {
		entry.LastError = lastError.String
	}

	files, err := unmarshalConflictFiles(conflictJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal conflict_files: %w", err)
	}
	entry.ConflictFiles = files

	return &entry, nil
}

func marshalConflictFiles(files []string) (sql.NullString, error) {
	if len(files) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalConflictFiles(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var files []string
	if err := json.Unmarshal([]byte(raw.String), &files); err != nil {
		return nil, err
	}
	return files, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Verify Store implements mergequeue.Store at compile time.
var _ mergequeue.Store = (*Store)(nil)
