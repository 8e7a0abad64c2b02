package mergequeue

import "fmt"

// ErrQueueFull is returned by Enqueue when the queue is at max_queue_size.
type ErrQueueFull struct {
	MaxSize int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("queue full: max_queue_size=%d", e.MaxSize)
}

// ErrAgentAlreadyQueued is returned by Enqueue when the agent already has a
// non-terminal entry in the queue.
type ErrAgentAlreadyQueued struct {
	AgentID string
}

func (e *ErrAgentAlreadyQueued) Error() string {
	return fmt.Sprintf("agent already queued: %s", e.AgentID)
}

// ErrAgentNotFound is returned by operations keyed on an agent ID that has
// no matching entry.
type ErrAgentNotFound struct {
	AgentID string
}

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("agent not found: %s", e.AgentID)
}

// ErrMaxRetriesExceeded is returned by Retry when an entry has already
// reached the configured retry limit.
type ErrMaxRetriesExceeded struct {
	AgentID     string
	Attempts    int
	MaxRetries  int
}

func (e *ErrMaxRetriesExceeded) Error() string {
	return fmt.Sprintf("max retries exceeded for agent %s: attempts=%d max_retries=%d", e.AgentID, e.Attempts, e.MaxRetries)
}

// wrapf is a thin convenience around fmt.Errorf for internal error-context
// wrapping, matching internal/git's "op: %w" convention.
func wrapf(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
