package core

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// FailureHandler: Interface for handling task failures
// =============================================================================

// FailureHandler is called when a task fails while being resumed, either by
// returning an error or by panicking. The task is already completed when the
// handler runs; the failure never reaches other tasks or the worker.
//
// Implementations should be thread-safe as they may be called concurrently.
type FailureHandler interface {
	// HandleFailure is called once per failed task.
	//
	// Parameters:
	// - ctx: The context the task was resumed with
	// - schedulerName: The name of the scheduler that ran the task
	// - workerID: The worker that observed the failure
	// - failure: The failure, wrapping the returned error or a *PanicError
	HandleFailure(ctx context.Context, schedulerName string, workerID int, failure *TaskFailure)
}

// LoggingFailureHandler reports failures through a Logger.
type LoggingFailureHandler struct {
	Logger Logger
}

// HandleFailure logs the failure, with the stack trace when the task panicked.
func (h *LoggingFailureHandler) HandleFailure(ctx context.Context, schedulerName string, workerID int, failure *TaskFailure) {
	logger := orNoOp(h.Logger)
	fields := []Field{
		F("scheduler", schedulerName),
		F("worker", workerID),
		F("task", failure.Name),
		F("task_id", failure.TaskID.String()),
		F("error", failure.Cause),
	}
	var p *PanicError
	if errors.As(failure.Cause, &p) {
		fields = append(fields, F("stack", string(p.Stack)))
	}
	logger.Error("task failed", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (see observability/prometheus).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordResumeDuration records how long one resume of a task took.
	RecordResumeDuration(schedulerName string, duration time.Duration)

	// RecordTaskLifetime records the time from task creation to completion.
	RecordTaskLifetime(schedulerName string, lifetime time.Duration)

	// RecordTaskFailure records that a task completed with a failure.
	RecordTaskFailure(schedulerName string, failure *TaskFailure)

	// RecordQueueDepth records the ready-queue depth after a push.
	RecordQueueDepth(schedulerName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., after shutdown).
	RecordTaskRejected(schedulerName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordResumeDuration(schedulerName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskLifetime(schedulerName string, lifetime time.Duration)   {}
func (m *NilMetrics) RecordTaskFailure(schedulerName string, failure *TaskFailure)      {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, depth int)                  {}
func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string)            {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when Spawn refuses a task because the
// scheduler is shutting down.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(schedulerName string, taskName string, reason string)
}

// LoggingRejectedTaskHandler reports rejected tasks through a Logger.
type LoggingRejectedTaskHandler struct {
	Logger Logger
}

func (h *LoggingRejectedTaskHandler) HandleRejectedTask(schedulerName string, taskName string, reason string) {
	orNoOp(h.Logger).Warn("task rejected",
		F("scheduler", schedulerName),
		F("task", taskName),
		F("reason", reason))
}

// =============================================================================
// TaskTracer: Interface for per-task tracing
// =============================================================================

// TaskTracer opens a trace span when a task is spawned. The returned context
// is used for every resume of the task; end is called once with the task's
// final error when it completes (see observability/tracing).
type TaskTracer interface {
	StartTask(ctx context.Context, schedulerName string, task *Task) (spanCtx context.Context, end func(err error))
}

// NilTracer does not trace.
type NilTracer struct{}

func (NilTracer) StartTask(ctx context.Context, _ string, _ *Task) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels logs, metrics and traces. Defaults to "scheduler".
	Name string

	// Workers is the number of worker goroutines. Defaults to runtime.NumCPU().
	Workers int

	// Policy selects the ready-queue order. Defaults to QueuePolicyLIFO.
	Policy QueuePolicy

	// HistoryCapacity bounds RecentTasks. Defaults to 100.
	HistoryCapacity int

	// Logger receives lifecycle logs. Defaults to NoOpLogger.
	Logger Logger

	// FailureHandler is called when a task fails. Defaults to LoggingFailureHandler on Logger.
	FailureHandler FailureHandler

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to LoggingRejectedTaskHandler on Logger.
	RejectedTaskHandler RejectedTaskHandler

	// Tracer opens a span per task. Defaults to NilTracer.
	Tracer TaskTracer
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:   defaultSchedulerName,
		Policy: QueuePolicyLIFO,
		Logger: NewNoOpLogger(),
	}
}
