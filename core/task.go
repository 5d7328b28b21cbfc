package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a task.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

// IsZero reports whether id is the zero TaskID.
func (id TaskID) IsZero() bool {
	return id == TaskID(uuid.Nil)
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first eight hex digits, for log lines.
func (id TaskID) Short() string {
	return id.String()[:8]
}

// =============================================================================
// Suspension points
// =============================================================================

// SuspendKind says why a task gave control back to the scheduler.
type SuspendKind int

const (
	// SuspendYield: runnable again immediately
	SuspendYield SuspendKind = iota
	// SuspendSleep: runnable again once Delay has elapsed
	SuspendSleep
	// SuspendWait: runnable again once the waited-on Waitable changes
	SuspendWait
	// SuspendDone: the routine finished
	SuspendDone
)

func (k SuspendKind) String() string {
	switch k {
	case SuspendYield:
		return "yield"
	case SuspendSleep:
		return "sleep"
	case SuspendWait:
		return "wait"
	case SuspendDone:
		return "done"
	default:
		return "unknown"
	}
}

// Suspend is returned by Routine.Step to describe the suspension point reached.
type Suspend struct {
	Kind  SuspendKind
	Delay time.Duration

	wait Waitable
	gen  uint64
}

// Yield suspends and asks to be resumed as soon as a worker is free.
func Yield() Suspend {
	return Suspend{Kind: SuspendYield}
}

// Sleep suspends for at least d. A non-positive d is a plain Yield.
func Sleep(d time.Duration) Suspend {
	if d <= 0 {
		return Yield()
	}
	return Suspend{Kind: SuspendSleep, Delay: d}
}

// WaitOn suspends until w moves past generation gen. Read gen with
// w.Generation() before the attempt that failed.
func WaitOn(w Waitable, gen uint64) Suspend {
	if w == nil {
		return Yield()
	}
	return Suspend{Kind: SuspendWait, wait: w, gen: gen}
}

// Done reports that the routine has finished.
func Done() Suspend {
	return Suspend{Kind: SuspendDone}
}

// =============================================================================
// Routine: the resumable part of a task
// =============================================================================

// Routine is suspendable work. Each Step runs up to the next suspension point.
// A Step returning a non-nil error finishes the task with a TaskFailure.
type Routine interface {
	Step(ctx context.Context) (Suspend, error)
}

// StepFunc adapts a function to Routine.
type StepFunc func(ctx context.Context) (Suspend, error)

func (f StepFunc) Step(ctx context.Context) (Suspend, error) {
	return f(ctx)
}

// Releaser is implemented by routines holding resources that must be freed
// when their task completes. Release is called exactly once.
type Releaser interface {
	Release()
}

// =============================================================================
// Task
// =============================================================================

// TaskState is the lifecycle state of a task.
type TaskState int32

const (
	TaskStateRunnable TaskState = iota
	TaskStateRunning
	TaskStateSuspended
	TaskStateCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskStateRunnable:
		return "runnable"
	case TaskStateRunning:
		return "running"
	case TaskStateSuspended:
		return "suspended"
	case TaskStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task is a named unit of suspendable work.
//
// A task is owned by exactly one holder at a time: its creator, a scheduler
// queue, or the worker resuming it. Once completed it is never resumed again
// and its routine and block are released exactly once.
type Task struct {
	id        TaskID
	name      string
	createdAt time.Time

	mu      sync.Mutex // serializes Resume against finish/abort
	routine Routine
	block   Block
	alloc   *BlockAllocator
	err     error

	state   atomic.Int32
	resumes atomic.Int64
	spawned atomic.Bool

	// Set by the owning scheduler; when bound, the scheduler settles the task.
	bound    bool
	ctx      context.Context
	endTrace func(error)

	done       chan struct{}
	settleOnce sync.Once
	finishedAt time.Time
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithBlock backs the task with one block from alloc, exposed through Scratch
// and returned to alloc when the task completes.
func WithBlock(alloc *BlockAllocator) TaskOption {
	return func(t *Task) {
		if alloc == nil {
			return
		}
		t.alloc = alloc
		t.block = alloc.Allocate()
	}
}

// WithTaskID overrides the generated identifier.
func WithTaskID(id TaskID) TaskOption {
	return func(t *Task) { t.id = id }
}

// NewTask wraps routine into a runnable task. An empty name is derived from
// the routine's function name when possible.
func NewTask(name string, routine Routine, opts ...TaskOption) *Task {
	t := &Task{
		id:        GenerateTaskID(),
		name:      resolveTaskName(routine, name),
		createdAt: time.Now(),
		routine:   routine,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state.Store(int32(TaskStateRunnable))
	return t
}

func (t *Task) ID() TaskID           { return t.id }
func (t *Task) Name() string         { return t.name }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) State() TaskState     { return TaskState(t.state.Load()) }
func (t *Task) IsDone() bool         { return t.State() == TaskStateCompleted }

// Resumes returns how many times the task has been resumed.
func (t *Task) Resumes() int64 { return t.resumes.Load() }

// Scratch returns the allocator block backing the task, or nil.
// It must not be used after the task completes.
func (t *Task) Scratch() []byte {
	return t.block.Bytes
}

// Err returns the failure that completed the task, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the task has completed and been accounted for.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume advances the task to its next suspension point. Resuming a completed
// task is a no-op returning Done. A returned error or a panic in the routine
// completes the task and is returned as a *TaskFailure.
func (t *Task) Resume(ctx context.Context) (Suspend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == TaskStateCompleted {
		return Done(), nil
	}

	t.state.Store(int32(TaskStateRunning))
	t.resumes.Add(1)

	s, err := t.step(ctx)
	if err != nil {
		failure := &TaskFailure{TaskID: t.id, Name: t.name, Cause: err}
		t.finishLocked(failure)
		return Done(), failure
	}

	switch s.Kind {
	case SuspendDone:
		t.finishLocked(nil)
	case SuspendYield:
		t.state.Store(int32(TaskStateRunnable))
	default:
		t.state.Store(int32(TaskStateSuspended))
	}
	return s, nil
}

func (t *Task) step(ctx context.Context) (s Suspend, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if t.routine == nil {
		return Done(), nil
	}
	return t.routine.Step(ctx)
}

// abort completes a task that has not finished, recording cause.
// It reports whether this call performed the transition.
func (t *Task) abort(cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == TaskStateCompleted {
		return false
	}
	t.finishLocked(cause)
	return true
}

func (t *Task) finishLocked(err error) {
	t.err = err
	t.finishedAt = time.Now()
	t.state.Store(int32(TaskStateCompleted))

	if r, ok := t.routine.(Releaser); ok {
		r.Release()
	}
	t.routine = nil

	if t.alloc != nil {
		// The block came from alloc in WithBlock, so this cannot fail.
		_ = t.alloc.Deallocate(t.block)
		t.alloc = nil
		t.block = Block{}
	}

	if !t.bound {
		t.settle()
	}
}

// settle closes Done exactly once.
func (t *Task) settle() {
	t.settleOnce.Do(func() { close(t.done) })
}

// lifetime is the time from creation to completion.
func (t *Task) lifetime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finishedAt.IsZero() {
		return time.Since(t.createdAt)
	}
	return t.finishedAt.Sub(t.createdAt)
}

// =============================================================================
// Context Helper
// =============================================================================
type currentTaskKeyType struct{}
type schedulerKeyType struct{}

var (
	currentTaskKey currentTaskKeyType
	schedulerKey   schedulerKeyType
)

// CurrentTask returns the task being resumed with ctx, or nil.
func CurrentTask(ctx context.Context) *Task {
	if v := ctx.Value(currentTaskKey); v != nil {
		return v.(*Task)
	}
	return nil
}

// SchedulerFromContext returns the scheduler resuming the current task, or nil.
func SchedulerFromContext(ctx context.Context) *Scheduler {
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(*Scheduler)
	}
	return nil
}
