package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSchedulerName = "scheduler"

// Scheduler interleaves tasks over a fixed pool of worker goroutines.
//
// Workers pull tasks from one shared ready queue, resume each once, and put
// it back according to the suspension point it reached: straight back on the
// queue for a yield, into the delay manager for a sleep, or onto a Waitable's
// watch list for a wait. A task is only ever held by one of those places or
// by the single worker resuming it.
//
// Shutdown and AwaitAll must not be called from inside a task.
type Scheduler struct {
	name    string
	workers int
	policy  QueuePolicy

	mu       sync.Mutex
	cond     *sync.Cond
	queue    readyQueue
	waiting  map[*Task]struct{}
	shutdown bool
	quiet    chan struct{} // closed whenever no task is active

	delay        *DelayManager
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	baseCtx      context.Context
	cancel       context.CancelFunc

	// Written under mu, read lock-free by Stats
	active atomic.Int64

	created   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
	queued    atomic.Int32
	running   atomic.Int32
	parked    atomic.Int32
	closed    atomic.Bool

	logger              Logger
	failureHandler      FailureHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
	tracer              TaskTracer
	history             *executionHistory
}

// NewScheduler creates a scheduler and starts its workers.
func NewScheduler(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	s := &Scheduler{
		name:                config.Name,
		workers:             config.Workers,
		policy:              config.Policy,
		waiting:             make(map[*Task]struct{}),
		quiet:               make(chan struct{}),
		logger:              config.Logger,
		failureHandler:      config.FailureHandler,
		metrics:             config.Metrics,
		rejectedTaskHandler: config.RejectedTaskHandler,
		tracer:              config.Tracer,
		history:             newExecutionHistory(config.HistoryCapacity),
	}
	close(s.quiet)

	// Use defaults if not provided
	if s.name == "" {
		s.name = defaultSchedulerName
	}
	if s.workers < 1 {
		s.workers = runtime.NumCPU()
	}
	if s.policy == "" {
		s.policy = QueuePolicyLIFO
	}
	s.logger = orNoOp(s.logger)
	if s.failureHandler == nil {
		s.failureHandler = &LoggingFailureHandler{Logger: s.logger}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = &LoggingRejectedTaskHandler{Logger: s.logger}
	}
	if s.tracer == nil {
		s.tracer = NilTracer{}
	}

	s.cond = sync.NewCond(&s.mu)
	s.queue = newReadyQueue(s.policy)
	s.delay = NewDelayManager(s.requeue)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}

	s.logger.Info("scheduler started",
		F("scheduler", s.name),
		F("workers", s.workers),
		F("policy", string(s.policy)))
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// WorkerCount returns the number of worker goroutines.
func (s *Scheduler) WorkerCount() int { return s.workers }

// Spawn takes ownership of task and queues it. It never blocks.
//
// After Shutdown the task is rejected: Spawn returns ErrSchedulerShutdown,
// the task is completed with that error and its resources are released.
func (s *Scheduler) Spawn(task *Task) error {
	if task == nil {
		return ErrNilTask
	}
	if !task.spawned.CompareAndSwap(false, true) {
		return ErrTaskAlreadySpawned
	}

	ctx := context.WithValue(s.baseCtx, schedulerKey, s)
	ctx = context.WithValue(ctx, currentTaskKey, task)
	ctx, end := s.tracer.StartTask(ctx, s.name, task)

	task.mu.Lock()
	task.bound = true
	task.ctx = ctx
	task.endTrace = end
	task.mu.Unlock()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.reject(task)
		return ErrSchedulerShutdown
	}
	if s.active.Add(1) == 1 {
		s.quiet = make(chan struct{})
	}
	s.created.Add(1)
	s.queue.push(task)
	s.queued.Add(1)
	depth := s.queue.len()
	s.cond.Signal()
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(s.name, depth)
	s.logger.Debug("task spawned",
		F("scheduler", s.name),
		F("task", task.name),
		F("task_id", task.id.Short()))
	return nil
}

// SpawnFunc wraps routine in a new task and spawns it. The returned task is
// the handle for waiting on the result.
func (s *Scheduler) SpawnFunc(name string, routine Routine, opts ...TaskOption) (*Task, error) {
	task := NewTask(name, routine, opts...)
	if err := s.Spawn(task); err != nil {
		return task, err
	}
	return task, nil
}

// Go spawns a Coroutine running body.
func (s *Scheduler) Go(name string, body func(y *Yielder) error, opts ...TaskOption) (*Task, error) {
	return s.SpawnFunc(name, Coroutine(body), opts...)
}

// AwaitAll blocks until every spawned task has completed. It returns
// immediately when nothing is outstanding.
func (s *Scheduler) AwaitAll() {
	_ = s.AwaitAllContext(context.Background())
}

// AwaitAllContext is AwaitAll bounded by ctx.
func (s *Scheduler) AwaitAllContext(ctx context.Context) error {
	s.mu.Lock()
	quiet := s.quiet
	s.mu.Unlock()

	select {
	case <-quiet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, wakes and joins every worker, and drops
// tasks that had not completed: queued, sleeping and waiting ones are
// completed with ErrTaskAborted. Calling Shutdown again is a no-op.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.closed.Store(true)
		pending := s.queue.drain()
		s.queued.Store(0)
		for t := range s.waiting {
			pending = append(pending, t)
		}
		clear(s.waiting)
		s.parked.Store(0)
		s.cond.Broadcast()
		s.mu.Unlock()

		pending = append(pending, s.delay.Stop()...)
		s.wg.Wait()

		for _, t := range pending {
			s.drop(t)
		}
		s.cancel()

		s.logger.Info("scheduler stopped",
			F("scheduler", s.name),
			F("completed", s.completed.Load()),
			F("dropped", s.dropped.Load()))
	})
}

// IsShutdown reports whether Shutdown has been called.
func (s *Scheduler) IsShutdown() bool {
	return s.closed.Load()
}

// Stats returns a non-blocking snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Name:      s.name,
		Workers:   s.workers,
		Active:    s.active.Load(),
		Created:   s.created.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Rejected:  s.rejected.Load(),
		Queued:    int(s.queued.Load()),
		Running:   int(s.running.Load()),
		Sleeping:  s.delay.TaskCount(),
		Waiting:   int(s.parked.Load()),
		Shutdown:  s.closed.Load(),
	}
}

// RecentTasks returns completed task records in newest-first order.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// =============================================================================
// Worker side
// =============================================================================

func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()

	for {
		task, ok := s.next()
		if !ok {
			return
		}
		s.resume(id, task)
	}
}

// next blocks until a task is ready or shutdown is requested.
func (s *Scheduler) next() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.shutdown && s.queue.len() == 0 {
		s.cond.Wait()
	}
	if s.shutdown {
		return nil, false
	}

	task, _ := s.queue.pop()
	s.queued.Add(-1)
	s.running.Add(1)
	return task, true
}

func (s *Scheduler) resume(workerID int, task *Task) {
	start := time.Now()
	suspend, err := task.Resume(task.ctx)
	s.metrics.RecordResumeDuration(s.name, time.Since(start))
	s.running.Add(-1)

	if task.IsDone() {
		s.complete(workerID, task, err)
		return
	}

	switch suspend.Kind {
	case SuspendSleep:
		if !s.delay.Park(task, suspend.Delay) {
			s.drop(task)
		}
	case SuspendWait:
		s.park(task, suspend)
	default:
		s.requeue(task)
	}
}

// requeue puts a runnable task back on the ready queue.
func (s *Scheduler) requeue(task *Task) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.drop(task)
		return
	}
	s.queue.push(task)
	s.queued.Add(1)
	depth := s.queue.len()
	s.cond.Signal()
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(s.name, depth)
}

// park registers task with the Waitable it suspended on.
func (s *Scheduler) park(task *Task, suspend Suspend) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.drop(task)
		return
	}
	s.waiting[task] = struct{}{}
	s.parked.Add(1)
	s.mu.Unlock()

	if !suspend.wait.Watch(suspend.gen, func() { s.wake(task) }) {
		s.wake(task)
	}
}

// wake moves a parked task back to the ready queue. Only the first call
// for a given park has any effect.
func (s *Scheduler) wake(task *Task) {
	s.mu.Lock()
	if _, ok := s.waiting[task]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.waiting, task)
	s.parked.Add(-1)
	s.mu.Unlock()

	s.requeue(task)
}

func (s *Scheduler) complete(workerID int, task *Task, err error) {
	var failure *TaskFailure
	if errors.As(err, &failure) {
		s.failed.Add(1)
		s.failureHandler.HandleFailure(task.ctx, s.name, workerID, failure)
		s.metrics.RecordTaskFailure(s.name, failure)
	}
	s.retire(task, err, false)
}

// drop aborts a task that will never be resumed again.
func (s *Scheduler) drop(task *Task) {
	aborted := task.abort(ErrTaskAborted)
	if aborted {
		s.dropped.Add(1)
	}
	s.retire(task, task.Err(), aborted)
}

func (s *Scheduler) reject(task *Task) {
	s.rejected.Add(1)
	s.rejectedTaskHandler.HandleRejectedTask(s.name, task.name, "shutdown")
	s.metrics.RecordTaskRejected(s.name, "shutdown")

	task.abort(ErrSchedulerShutdown)
	if task.endTrace != nil {
		task.endTrace(ErrSchedulerShutdown)
	}
	task.settle()
}

// retire does the bookkeeping for a completed task and releases AwaitAll
// callers once nothing is active.
func (s *Scheduler) retire(task *Task, err error, aborted bool) {
	lifetime := task.lifetime()

	record := TaskExecutionRecord{
		TaskID:     task.id,
		Name:       task.name,
		Scheduler:  s.name,
		CreatedAt:  task.createdAt,
		FinishedAt: task.createdAt.Add(lifetime),
		Lifetime:   lifetime,
		Resumes:    task.Resumes(),
		Aborted:    aborted,
	}
	if err != nil {
		record.Error = err.Error()
		var failure *TaskFailure
		if errors.As(err, &failure) {
			record.Failed = true
			record.Panicked = failure.Panicked()
		}
	}
	s.history.Add(record)
	s.metrics.RecordTaskLifetime(s.name, lifetime)
	if task.endTrace != nil {
		task.endTrace(err)
	}

	s.completed.Add(1)
	s.mu.Lock()
	if s.active.Add(-1) == 0 {
		close(s.quiet)
	}
	s.mu.Unlock()

	task.settle()

	s.logger.Debug("task completed",
		F("scheduler", s.name),
		F("task", task.name),
		F("task_id", task.id.Short()),
		F("resumes", record.Resumes),
		F("aborted", aborted))
}
