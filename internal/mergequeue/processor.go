package mergequeue

import (
	"context"
	"time"
)

// pollInterval bounds how long the Processor waits between notify wakeups,
// matching the original daemon's tokio::select! between a notify and a
// fixed sleep: a bounded wait means a missed wakeup (signalled just before
// the Processor starts listening) is never fatal, only delayed by at most
// this long.
const pollInterval = time.Second

// Processor is the single writer: it claims at most one entry at a time
// from the Queue, merges it, and records the outcome, serializing every
// write into the target repository.
type Processor struct {
	queue  *Queue
	merger Merger

	// DebugLog, if set, receives a line per processed entry. It matches
	// the teacher merge handler's optional debug-log hook.
	DebugLog func(format string, args ...any)
}

// NewProcessor builds a Processor that drains queue by invoking merger for
// each claimed entry.
func NewProcessor(queue *Queue, merger Merger) *Processor {
	return &Processor{queue: queue, merger: merger}
}

// Run drives the processor loop until ctx is cancelled or the queue is shut
// down and drained. It is the daemon's only goroutine that ever calls
// Merger.Merge, which is what makes the repository single-writer.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.queue.isShuttingDown() {
			return
		}

		p.queue.gcTerminal()

		if p.processNext() {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.queue.notify:
		case <-time.After(pollInterval):
		}
	}
}

// processNext claims and merges one entry. Returns true if an entry was
// claimed (whether or not the merge succeeded), so Run can keep draining
// without waiting for the next notify.
func (p *Processor) processNext() bool {
	entry := p.queue.claimNext()
	if entry == nil {
		return false
	}

	if p.DebugLog != nil {
		p.DebugLog("processing entry agent=%s branch=%s target=%s attempt=%d", entry.AgentID, entry.Branch, entry.TargetBranch, entry.Attempts)
	}

	outcome, err := p.merger.Merge(entry)
	if err != nil {
		outcome = &MergeOutcome{Kind: OutcomeFailed, Error: err.Error()}
	}

	p.queue.recordOutcome(entry.ID, outcome)
	return true
}
