// Package taskruntime provides a small cooperative task runtime for Go.
//
// Work is expressed as tasks: named units that run until they reach an
// explicit suspension point (yield, sleep, or wait on a channel) and are then
// resumed later, possibly by a different worker. A fixed pool of workers
// interleaves many such tasks; a worker is never blocked by a suspended task.
//
// # Quick Start
//
// Use the default runtime for scripts and small programs:
//
//	defer taskruntime.ShutdownDefault()
//
//	taskruntime.Go("hello", func(y *taskruntime.Yielder) error {
//		fmt.Println("step 1")
//		if err := y.Yield(); err != nil {
//			return err
//		}
//		fmt.Println("step 2")
//		return nil
//	})
//	taskruntime.AwaitAll()
//
// Services should build their own Runtime from a Config and pass it around:
//
//	cfg, err := taskruntime.LoadConfig(ctx, "file:///etc/app/runtime.yaml")
//	rt, err := taskruntime.New(cfg, taskruntime.WithMetrics(exporter))
//	defer rt.Shutdown()
//
// # Key Concepts
//
// Task and Routine: a Routine has a single Step method that runs to the next
// suspension point. core.Coroutine lets a straight-line function act as a
// Routine; its Yielder offers Yield, Sleep, Wait, and the AwaitSend and
// AwaitReceive channel helpers.
//
// Scheduler: worker goroutines share one ready queue (LIFO by default).
// Sleeping tasks are parked on a timer and tasks waiting on a channel are
// parked on that channel, so neither holds a worker.
//
// Channel: a bounded FIFO usable both from plain goroutines (blocking Send
// and Receive) and from tasks (TrySend and TryReceive plus WaitOn).
//
// Cell, HolderMutex and BlockAllocator: single-owner values with borrow and
// transfer, a mutex that records its holder, and a fixed-size slab allocator
// backing task scratch space.
//
// # Failure Isolation
//
// A task that returns an error or panics completes with a *TaskFailure. The
// failure is counted, logged and traced, and no other task is affected.
//
// # Observability
//
// observability/prometheus exports scheduler metrics and periodic stats
// snapshots, observability/tracing opens an OpenTelemetry span per task, and
// observability/logging adapts logr to the runtime's Logger interface.
package taskruntime
