package core

import (
	"fmt"
	"strings"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// QueuePolicy selects the order in which ready tasks are resumed.
type QueuePolicy string

const (
	// QueuePolicyLIFO resumes the most recently queued task first. Recently
	// active tasks stay hot in cache at the cost of fairness. This is the default.
	QueuePolicyLIFO QueuePolicy = "lifo"

	// QueuePolicyFIFO resumes tasks in the order they became ready.
	QueuePolicyFIFO QueuePolicy = "fifo"
)

// ParseQueuePolicy parses "lifo" or "fifo" (case-insensitive). Empty selects LIFO.
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch QueuePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", QueuePolicyLIFO:
		return QueuePolicyLIFO, nil
	case QueuePolicyFIFO:
		return QueuePolicyFIFO, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q", s)
	}
}

// readyQueue holds tasks waiting for a worker. Implementations are not
// synchronized; the scheduler guards them with its own mutex.
type readyQueue interface {
	push(t *Task)
	pop() (*Task, bool)
	len() int
	// drain removes and returns every queued task.
	drain() []*Task
}

func newReadyQueue(policy QueuePolicy) readyQueue {
	if policy == QueuePolicyFIFO {
		return newFIFOQueue()
	}
	return newLIFOQueue()
}

// =============================================================================
// lifoQueue: ready stack
// =============================================================================

type lifoQueue struct {
	tasks []*Task
}

func newLIFOQueue() *lifoQueue {
	return &lifoQueue{tasks: make([]*Task, 0, defaultQueueCap)}
}

func (q *lifoQueue) push(t *Task) {
	q.tasks = append(q.tasks, t)
}

func (q *lifoQueue) pop() (*Task, bool) {
	n := len(q.tasks)
	if n == 0 {
		return nil, false
	}
	t := q.tasks[n-1]
	q.tasks[n-1] = nil // release the reference held by the backing array
	q.tasks = q.tasks[:n-1]
	return t, true
}

func (q *lifoQueue) len() int { return len(q.tasks) }

func (q *lifoQueue) drain() []*Task {
	out := q.tasks
	q.tasks = make([]*Task, 0, defaultQueueCap)
	return out
}

// =============================================================================
// fifoQueue: slice-backed queue with compaction
// =============================================================================

type fifoQueue struct {
	tasks []*Task
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{tasks: make([]*Task, 0, defaultQueueCap)}
}

func (q *fifoQueue) push(t *Task) {
	q.tasks = append(q.tasks, t)
}

func (q *fifoQueue) pop() (*Task, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompact()
	return t, true
}

func (q *fifoQueue) len() int { return len(q.tasks) }

func (q *fifoQueue) drain() []*Task {
	out := q.tasks
	q.tasks = make([]*Task, 0, defaultQueueCap)
	return out
}

// maybeCompact reallocates once the live window has shrunk well below the
// capacity of the backing array, so popped slots can be collected.
func (q *fifoQueue) maybeCompact() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*Task, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)
	compacted := make([]*Task, n, newCap)
	copy(compacted, q.tasks)
	q.tasks = compacted
}
