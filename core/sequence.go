package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type sequenceKeyType struct{}

var sequenceKey sequenceKeyType

// Sequence runs posted tasks one at a time, in post order, on a Scheduler.
//
// Tasks posted to the same Sequence never run concurrently, so state owned by
// the sequence needs no further locking. A task may still suspend; the next
// one starts only after it completes. The sequence occupies a single
// scheduler task while it has work and none while idle.
type Sequence struct {
	name      string
	scheduler *Scheduler

	mu      sync.Mutex
	pending *fifoQueue
	running bool
	closed  bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewSequence creates a sequence feeding s.
func NewSequence(s *Scheduler, name string) *Sequence {
	if name == "" {
		name = "sequence"
	}
	return &Sequence{
		name:      name,
		scheduler: s,
		pending:   newFIFOQueue(),
	}
}

// Name returns the sequence name.
func (q *Sequence) Name() string { return q.name }

// Post appends task to the sequence. The task is owned by the sequence from
// then on and must not be spawned elsewhere.
func (q *Sequence) Post(task *Task) error {
	if task == nil {
		return ErrNilTask
	}
	if !task.spawned.CompareAndSwap(false, true) {
		return ErrTaskAlreadySpawned
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		task.abort(ErrSequenceClosed)
		return ErrSequenceClosed
	}
	q.pending.push(task)
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if !start {
		return nil
	}
	driver := NewTask(q.name, &sequenceDriver{seq: q})
	return q.scheduler.Spawn(driver)
}

// PostFunc wraps routine in a task and posts it.
func (q *Sequence) PostFunc(name string, routine Routine, opts ...TaskOption) (*Task, error) {
	task := NewTask(name, routine, opts...)
	return task, q.Post(task)
}

// Close stops accepting tasks and aborts those not yet started with
// ErrSequenceClosed. A task already running is left to finish.
func (q *Sequence) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := q.pending.drain()
	q.mu.Unlock()

	for _, t := range dropped {
		t.abort(ErrSequenceClosed)
	}
}

// IsClosed reports whether Close has been called.
func (q *Sequence) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Pending returns the number of tasks waiting to start.
func (q *Sequence) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.len()
}

// Completed returns how many posted tasks have finished, failures included.
func (q *Sequence) Completed() int64 { return q.completed.Load() }

// Failed returns how many posted tasks finished with a TaskFailure.
func (q *Sequence) Failed() int64 { return q.failed.Load() }

// next pops the following task, or marks the sequence idle.
func (q *Sequence) next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.pending.pop()
	if !ok {
		q.running = false
	}
	return t, ok
}

func (q *Sequence) finished(ctx context.Context, task *Task, err error) {
	q.completed.Add(1)

	var failure *TaskFailure
	if errors.As(err, &failure) {
		q.failed.Add(1)
		if q.scheduler != nil {
			q.scheduler.failureHandler.HandleFailure(ctx, q.name, -1, failure)
			q.scheduler.metrics.RecordTaskFailure(q.name, failure)
		}
	}
}

// abandon aborts everything the sequence still holds after its driver was
// dropped.
func (q *Sequence) abandon(current *Task) {
	q.mu.Lock()
	dropped := q.pending.drain()
	q.running = false
	q.mu.Unlock()

	if current != nil {
		current.abort(ErrTaskAborted)
	}
	for _, t := range dropped {
		t.abort(ErrTaskAborted)
	}
}

// SequenceFromContext returns the sequence running the current task, or nil.
func SequenceFromContext(ctx context.Context) *Sequence {
	if v := ctx.Value(sequenceKey); v != nil {
		return v.(*Sequence)
	}
	return nil
}

// sequenceDriver is the scheduler-facing routine of a Sequence. It resumes
// the current posted task in place and forwards its suspension points.
type sequenceDriver struct {
	seq      *Sequence
	current  *Task
	finished bool
}

func (d *sequenceDriver) Step(ctx context.Context) (Suspend, error) {
	if d.current == nil {
		next, ok := d.seq.next()
		if !ok {
			d.finished = true
			return Done(), nil
		}
		d.current = next
	}

	taskCtx := context.WithValue(ctx, currentTaskKey, d.current)
	taskCtx = context.WithValue(taskCtx, sequenceKey, d.seq)

	s, err := d.current.Resume(taskCtx)
	if d.current.IsDone() {
		d.seq.finished(taskCtx, d.current, err)
		d.current = nil
		// Hand the worker back between tasks.
		return Yield(), nil
	}
	return s, nil
}

// Release runs when the driver completes. An idle finish owns nothing; a
// dropped driver aborts whatever it was holding.
func (d *sequenceDriver) Release() {
	if d.finished {
		return
	}
	d.seq.abandon(d.current)
	d.current = nil
}
