// Package merger performs the actual git integration work for one merge
// queue entry: merge, rebase, or squash a branch into its target, using
// the teacher's exec-based git.Runner rather than a cgo git binding.
package merger

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mergequeue/mqd/internal/git"
	"github.com/mergequeue/mqd/internal/mergequeue"
)

// Strategy selects how an entry's branch is integrated into its target.
type Strategy string

const (
	StrategyMerge  Strategy = "merge"
	StrategyRebase Strategy = "rebase"
	StrategySquash Strategy = "squash"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategyRebase, StrategySquash:
		return true
	}
	return false
}

// committerName and committerEmail are the deterministic commit identity
// used for every merge/squash commit this daemon creates, matching the
// original daemon's default_signature().
const (
	committerName  = "Agent Fork-Join"
	committerEmail = "agent-fork-join@localhost"
)

// Merger wraps a git.Runner bound to the shared repository and performs
// one merge attempt per call. Merge must only ever be called by the
// Processor goroutine — it is the single writer into the repository.
type Merger struct {
	git git.Runner

	mu       sync.Mutex
	strategy Strategy

	DebugLog func(format string, args ...any)
}

// New builds a Merger over runner using the given strategy.
func New(runner git.Runner, strategy Strategy) *Merger {
	return &Merger{git: runner, strategy: strategy}
}

// SetStrategy atomically replaces the merge strategy, used by the config
// hot-reload watcher for queue.merge_strategy. It takes effect starting
// with the next entry the Processor claims.
func (m *Merger) SetStrategy(s Strategy) {
	m.mu.Lock()
	m.strategy = s
	m.mu.Unlock()
}

func (m *Merger) currentStrategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

func (m *Merger) log(format string, args ...any) {
	if m.DebugLog != nil {
		m.DebugLog(format, args...)
	}
}

// Merge integrates entry.Branch into entry.TargetBranch per the
// configured strategy, returning the outcome. It never returns an error
// for an ordinary merge conflict — conflicts are reported as an
// mergequeue.OutcomeConflict value; the error return is reserved for
// infrastructure failures (bad repo state, missing branch) the Processor
// should still record as OutcomeFailed.
func (m *Merger) Merge(entry *mergequeue.QueueEntry) (*mergequeue.MergeOutcome, error) {
	exists, err := m.git.BranchExists(entry.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("check target branch %s: %w", entry.TargetBranch, err)
	}
	if !exists {
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: fmt.Sprintf("target branch %q does not exist", entry.TargetBranch)}, nil
	}
	exists, err = m.git.BranchExists(entry.Branch)
	if err != nil {
		return nil, fmt.Errorf("check agent branch %s: %w", entry.Branch, err)
	}
	if !exists {
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: fmt.Sprintf("agent branch %q does not exist", entry.Branch)}, nil
	}

	if err := m.git.CheckoutBranch(entry.TargetBranch); err != nil {
		return nil, fmt.Errorf("checkout target branch %s: %w", entry.TargetBranch, err)
	}

	targetSHA, err := m.git.Run("rev-parse", entry.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("rev-parse target branch %s: %w", entry.TargetBranch, err)
	}
	agentSHA, err := m.git.Run("rev-parse", entry.Branch)
	if err != nil {
		return nil, fmt.Errorf("rev-parse agent branch %s: %w", entry.Branch, err)
	}

	strategy := m.currentStrategy()
	m.log("merging %s (%s) into %s (%s) strategy=%s", entry.Branch, agentSHA, entry.TargetBranch, targetSHA, strategy)

	switch strategy {
	case StrategyRebase:
		return m.doRebase(entry)
	case StrategySquash:
		return m.doSquash(entry)
	default:
		// The up-to-date/fast-forward short-circuits only apply to the
		// merge strategy, matching do_merge: squash always produces a
		// single-parent squash commit via the three-way path, and rebase
		// always replays through its own machinery below.
		upToDate, err := m.isAncestor(agentSHA, targetSHA)
		if err != nil {
			return nil, fmt.Errorf("ancestor check: %w", err)
		}
		if upToDate {
			m.log("branch %s already up to date with %s", entry.Branch, entry.TargetBranch)
			return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeSuccess, CommitSHA: targetSHA}, nil
		}

		fastForward, err := m.isAncestor(targetSHA, agentSHA)
		if err != nil {
			return nil, fmt.Errorf("ancestor check: %w", err)
		}
		if fastForward {
			if _, err := m.git.Run("merge", "--ff-only", entry.Branch); err != nil {
				return nil, fmt.Errorf("fast-forward merge %s: %w", entry.Branch, err)
			}
			head, err := m.git.Run("rev-parse", "HEAD")
			if err != nil {
				return nil, fmt.Errorf("rev-parse HEAD after fast-forward: %w", err)
			}
			return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeSuccess, CommitSHA: head}, nil
		}

		return m.doMerge(entry)
	}
}

func (m *Merger) doMerge(entry *mergequeue.QueueEntry) (*mergequeue.MergeOutcome, error) {
	message := fmt.Sprintf("Merge agent %s into %s", entry.AgentID, entry.TargetBranch)

	err := m.withCommitterIdentity(func() error {
		return m.git.MergeNoFFMessage(entry.Branch, message)
	})
	if err == nil {
		head, rerr := m.git.Run("rev-parse", "HEAD")
		if rerr != nil {
			return nil, fmt.Errorf("rev-parse HEAD after merge: %w", rerr)
		}
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeSuccess, CommitSHA: head}, nil
	}

	return m.handleMergeFailure(err)
}

func (m *Merger) doSquash(entry *mergequeue.QueueEntry) (*mergequeue.MergeOutcome, error) {
	_, err := m.git.Run("merge", "--squash", entry.Branch)
	if err != nil {
		return m.handleSquashFailure(err)
	}

	message := fmt.Sprintf("Squash merge agent %s into %s\n\nOriginal commits from: %s", entry.AgentID, entry.TargetBranch, entry.Branch)

	err = m.withCommitterIdentity(func() error {
		return m.git.Commit(message)
	})
	if err != nil {
		_, _ = m.git.Run("reset", "--hard", "HEAD")
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: fmt.Sprintf("squash commit failed: %v", err)}, nil
	}

	head, err := m.git.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("rev-parse HEAD after squash: %w", err)
	}
	return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeSuccess, CommitSHA: head}, nil
}

func (m *Merger) doRebase(entry *mergequeue.QueueEntry) (*mergequeue.MergeOutcome, error) {
	if err := m.git.CheckoutBranch(entry.Branch); err != nil {
		return nil, fmt.Errorf("checkout agent branch %s: %w", entry.Branch, err)
	}

	err := m.withCommitterIdentity(func() error {
		return m.git.Rebase(entry.TargetBranch)
	})
	if err != nil {
		hasConflicts, cerr := m.git.HasConflicts()
		if cerr != nil {
			_ = m.git.RebaseAbort()
			return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: fmt.Sprintf("rebase step failed: %v", err)}, nil
		}
		if hasConflicts {
			files, _ := m.git.ConflictedFiles()
			_ = m.git.RebaseAbort()
			return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeConflict, ConflictFiles: files}, nil
		}
		_ = m.git.RebaseAbort()
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: fmt.Sprintf("rebase failed: %v", err)}, nil
	}

	if err := m.git.CheckoutBranch(entry.TargetBranch); err != nil {
		return nil, fmt.Errorf("checkout target branch %s after rebase: %w", entry.TargetBranch, err)
	}
	if _, err := m.git.Run("merge", "--ff-only", entry.Branch); err != nil {
		return nil, fmt.Errorf("fast-forward %s onto rebased %s: %w", entry.TargetBranch, entry.Branch, err)
	}

	head, err := m.git.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("rev-parse HEAD after rebase: %w", err)
	}
	return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeSuccess, CommitSHA: head}, nil
}

// handleMergeFailure classifies a failed `git merge --no-ff` as either a
// genuine conflict (collect conflicted files, abort) or an infrastructure
// failure.
func (m *Merger) handleMergeFailure(mergeErr error) (*mergequeue.MergeOutcome, error) {
	hasConflicts, err := m.git.HasConflicts()
	if err != nil {
		_ = m.git.MergeAbort()
		return nil, fmt.Errorf("check conflicts after failed merge: %w", err)
	}
	if !hasConflicts {
		_ = m.git.MergeAbort()
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: mergeErr.Error()}, nil
	}

	files, err := m.git.ConflictedFiles()
	if err != nil {
		_ = m.git.MergeAbort()
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}

	if err := m.git.MergeAbort(); err != nil {
		m.log("merge abort after conflict failed: %v", err)
	}

	return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeConflict, ConflictFiles: files}, nil
}

// handleSquashFailure mirrors handleMergeFailure for `git merge --squash`,
// which leaves no MERGE_HEAD, so cleanup is a hard reset rather than
// `git merge --abort`.
func (m *Merger) handleSquashFailure(mergeErr error) (*mergequeue.MergeOutcome, error) {
	hasConflicts, err := m.git.HasConflicts()
	if err != nil {
		_, _ = m.git.Run("reset", "--hard", "HEAD")
		return nil, fmt.Errorf("check conflicts after failed squash: %w", err)
	}
	if !hasConflicts {
		_, _ = m.git.Run("reset", "--hard", "HEAD")
		return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeFailed, Error: mergeErr.Error()}, nil
	}

	files, err := m.git.ConflictedFiles()
	if err != nil {
		_, _ = m.git.Run("reset", "--hard", "HEAD")
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}

	if _, err := m.git.Run("reset", "--hard", "HEAD"); err != nil {
		m.log("reset after squash conflict failed: %v", err)
	}

	return &mergequeue.MergeOutcome{Kind: mergequeue.OutcomeConflict, ConflictFiles: files}, nil
}

// isAncestor reports whether ancestor is reachable from descendant,
// treating the exit-code-1 "not an ancestor" result as a plain false
// rather than an error, the same idiom ExecRunner.BranchExists uses for
// git show-ref.
func (m *Merger) isAncestor(ancestor, descendant string) (bool, error) {
	_, err := m.git.Run("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}
