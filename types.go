package taskruntime

import (
	"time"

	"github.com/Swind/go-task-runtime/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskruntime package for most use cases.

// Task is a named unit of suspendable work
type Task = core.Task

// TaskID uniquely identifies a task
type TaskID = core.TaskID

// Routine is the resumable body of a task
type Routine = core.Routine

// StepFunc adapts a function to Routine
type StepFunc = core.StepFunc

// Suspend describes the suspension point a routine reached
type Suspend = core.Suspend

// Yielder is a coroutine body's handle to its suspension points
type Yielder = core.Yielder

// Scheduler runs tasks on a worker pool
type Scheduler = core.Scheduler

// SchedulerConfig configures a Scheduler
type SchedulerConfig = core.SchedulerConfig

// Channel is a bounded FIFO shared between tasks
type Channel[T any] = core.Channel[T]

// Cell holds a value with a single owner
type Cell[T any] = core.Cell[T]

// HolderMutex is a mutex that remembers who holds it
type HolderMutex = core.HolderMutex

// BlockAllocator hands out fixed-size blocks
type BlockAllocator = core.BlockAllocator

// Block is one allocator block
type Block = core.Block

// Logger is the structured logging interface
type Logger = core.Logger

// Errors
var (
	ErrNotOwned          = core.ErrNotOwned
	ErrChannelClosed     = core.ErrChannelClosed
	ErrSchedulerShutdown = core.ErrSchedulerShutdown
	ErrTaskAborted       = core.ErrTaskAborted
)

// TaskFailure wraps a task's returned error or recovered panic
type TaskFailure = core.TaskFailure

// NewTask wraps routine into a task that can be spawned later.
func NewTask(name string, routine Routine, opts ...core.TaskOption) *Task {
	return core.NewTask(name, routine, opts...)
}

// NewChannel creates a channel holding at most capacity values.
func NewChannel[T any](capacity int) *Channel[T] {
	return core.NewChannel[T](capacity)
}

// NewCell creates a cell owned by owner.
func NewCell[T any](value T, owner string) *Cell[T] {
	return core.NewCell(value, owner)
}

// Coroutine turns a straight-line body into a Routine.
func Coroutine(body func(y *Yielder) error) Routine {
	return core.Coroutine(body)
}

// Suspension points for hand-written routines
var (
	Yield = core.Yield
	Done  = core.Done
)

// Sleep suspends a routine for at least d.
func Sleep(d time.Duration) Suspend {
	return core.Sleep(d)
}

// CurrentTask retrieves the task being resumed from context
var CurrentTask = core.CurrentTask
