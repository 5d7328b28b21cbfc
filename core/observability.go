package core

import "time"

// TaskExecutionRecord captures a completed task.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Scheduler  string
	CreatedAt  time.Time
	FinishedAt time.Time
	Lifetime   time.Duration
	Resumes    int64
	Failed     bool
	Panicked   bool
	Aborted    bool
	Error      string
}

// SchedulerStats is a point-in-time view of a scheduler. Every field is read
// from atomics, so taking a snapshot never blocks on the scheduler lock.
type SchedulerStats struct {
	Name    string
	Workers int

	// Active counts tasks spawned and not yet completed.
	Active int64
	// Created counts tasks accepted by Spawn.
	Created int64
	// Completed counts tasks observed complete, failed and dropped ones included.
	Completed int64
	// Failed counts tasks that completed with a TaskFailure.
	Failed int64
	// Dropped counts tasks aborted by Shutdown.
	Dropped int64
	// Rejected counts Spawn calls refused after Shutdown.
	Rejected int64

	Queued   int // waiting in the ready queue
	Running  int // being resumed by a worker
	Sleeping int // parked in the delay manager
	Waiting  int // parked on a Waitable

	Shutdown bool
}

// AllocatorStats is a point-in-time view of a BlockAllocator.
type AllocatorStats struct {
	BlockSize     int
	BlocksPerPool int
	Pools         int
	Total         int
	Free          int
	InUse         int
}
