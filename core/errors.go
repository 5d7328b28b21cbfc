package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOwned is returned when a Cell is accessed or transferred after its value moved away.
	ErrNotOwned = errors.New("value is not owned by this cell")

	// ErrChannelClosed is returned by Send on a closed channel and by Receive once
	// the channel is both closed and drained.
	ErrChannelClosed = errors.New("channel closed")

	// ErrSchedulerShutdown is returned by Spawn after Shutdown has been requested.
	ErrSchedulerShutdown = errors.New("scheduler is shut down")

	// ErrTaskAlreadySpawned is returned when the same Task is handed to a scheduler twice.
	ErrTaskAlreadySpawned = errors.New("task already spawned")

	// ErrNilTask is returned by Spawn when the task is nil.
	ErrNilTask = errors.New("task is nil")

	// ErrTaskAborted completes tasks that were dropped by Shutdown before finishing.
	ErrTaskAborted = errors.New("task aborted")

	// ErrSequenceClosed is returned by Sequence.Post after Close and completes the tasks it drops.
	ErrSequenceClosed = errors.New("sequence is closed")

	// ErrForeignBlock is returned when a block did not come from the allocator it is returned to.
	ErrForeignBlock = errors.New("block does not belong to this allocator")

	// ErrDoubleFree is returned when a block is deallocated while already free.
	ErrDoubleFree = errors.New("block is already free")
)

// PanicError carries a value recovered from a panicking task step.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// TaskFailure is an unrecoverable error surfaced while resuming a task.
// Cause is either the error returned by the routine or a *PanicError.
type TaskFailure struct {
	TaskID TaskID
	Name   string
	Cause  error
}

func (f *TaskFailure) Error() string {
	return fmt.Sprintf("task %q (%s) failed: %v", f.Name, f.TaskID.Short(), f.Cause)
}

func (f *TaskFailure) Unwrap() error {
	return f.Cause
}

// Panicked reports whether the failure came from a recovered panic.
func (f *TaskFailure) Panicked() bool {
	var p *PanicError
	return errors.As(f.Cause, &p)
}
