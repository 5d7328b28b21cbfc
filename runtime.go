package taskruntime

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-task-runtime/core"
)

// Runtime bundles a Scheduler with the BlockAllocator its tasks draw scratch
// space from. It is the unit of explicit dependency passing; the package
// level functions operate on a lazily created default Runtime.
type Runtime struct {
	cfg       Config
	logger    core.Logger
	scheduler *core.Scheduler
	allocator *core.BlockAllocator
}

// Stats is a snapshot of a Runtime.
type Stats struct {
	Scheduler core.SchedulerStats
	Allocator core.AllocatorStats
}

type options struct {
	logger          core.Logger
	metrics         core.Metrics
	tracer          core.TaskTracer
	failureHandler  core.FailureHandler
	rejectedHandler core.RejectedTaskHandler
}

// Option overrides a component the Config cannot describe.
type Option func(*options)

// WithLogger replaces the logger selected by Config.Logging.
func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics routes scheduler metrics to m (see observability/prometheus).
func WithMetrics(m core.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer opens a span per task (see observability/tracing).
func WithTracer(t core.TaskTracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithFailureHandler replaces the default logging failure handler.
func WithFailureHandler(h core.FailureHandler) Option {
	return func(o *options) { o.failureHandler = h }
}

// WithRejectedTaskHandler replaces the default logging rejected-task handler.
func WithRejectedTaskHandler(h core.RejectedTaskHandler) Option {
	return func(o *options) { o.rejectedHandler = h }
}

// New validates cfg and starts a Runtime. A nil cfg means DefaultConfig.
func New(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	resolved := *cfg
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	resolved.Init()

	policy, err := core.ParseQueuePolicy(resolved.Scheduler.Policy)
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = resolved.logger()
	}

	schedCfg := core.DefaultSchedulerConfig()
	schedCfg.Name = resolved.Scheduler.Name
	schedCfg.Workers = resolved.Scheduler.Workers
	schedCfg.Policy = policy
	schedCfg.HistoryCapacity = resolved.Scheduler.HistoryCapacity
	schedCfg.Logger = logger
	schedCfg.Metrics = o.metrics
	schedCfg.Tracer = o.tracer
	schedCfg.FailureHandler = o.failureHandler
	schedCfg.RejectedTaskHandler = o.rejectedHandler

	return &Runtime{
		cfg:       resolved,
		logger:    logger,
		allocator: core.NewBlockAllocator(resolved.Allocator.BlockSize, resolved.Allocator.BlocksPerPool, core.WithAllocatorLogger(logger)),
		scheduler: core.NewScheduler(schedCfg),
	}, nil
}

// Config returns the resolved configuration.
func (r *Runtime) Config() Config { return r.cfg }

// Logger returns the logger shared by the scheduler and allocator.
func (r *Runtime) Logger() core.Logger { return r.logger }

// Scheduler returns the underlying scheduler.
func (r *Runtime) Scheduler() *core.Scheduler { return r.scheduler }

// Allocator returns the block allocator.
func (r *Runtime) Allocator() *core.BlockAllocator { return r.allocator }

// Spawn hands task to the scheduler.
func (r *Runtime) Spawn(task *core.Task) error {
	return r.scheduler.Spawn(task)
}

// SpawnFunc wraps routine in a task and spawns it.
func (r *Runtime) SpawnFunc(name string, routine core.Routine, opts ...core.TaskOption) (*core.Task, error) {
	return r.scheduler.SpawnFunc(name, routine, opts...)
}

// Go spawns a coroutine task.
func (r *Runtime) Go(name string, body func(y *core.Yielder) error, opts ...core.TaskOption) (*core.Task, error) {
	return r.scheduler.Go(name, body, opts...)
}

// GoWithScratch spawns a coroutine task backed by one allocator block,
// available to the body through core.CurrentTask(y.Context()).Scratch().
func (r *Runtime) GoWithScratch(name string, body func(y *core.Yielder) error) (*core.Task, error) {
	return r.scheduler.Go(name, body, core.WithBlock(r.allocator))
}

// AwaitAll blocks until every spawned task has completed.
func (r *Runtime) AwaitAll() {
	r.scheduler.AwaitAll()
}

// AwaitAllContext is AwaitAll bounded by ctx.
func (r *Runtime) AwaitAllContext(ctx context.Context) error {
	return r.scheduler.AwaitAllContext(ctx)
}

// Shutdown stops the scheduler; see core.Scheduler.Shutdown.
func (r *Runtime) Shutdown() {
	r.scheduler.Shutdown()
}

// Stats returns a snapshot of the scheduler and allocator.
func (r *Runtime) Stats() Stats {
	return Stats{
		Scheduler: r.scheduler.Stats(),
		Allocator: r.allocator.Stats(),
	}
}

// ChannelFor creates a channel with the runtime's configured default capacity.
func ChannelFor[T any](r *Runtime) *Channel[T] {
	return core.NewChannel[T](r.cfg.Channel.Capacity)
}

// =============================================================================
// Default Runtime Helper (Singleton)
// =============================================================================

var (
	defaultRuntime *Runtime
	defaultMu      sync.Mutex
)

// InitDefault creates the default Runtime from cfg. It is a no-op when the
// default Runtime already exists.
func InitDefault(cfg *Config, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime != nil {
		return nil
	}
	rt, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defaultRuntime = rt
	return nil
}

// Default returns the default Runtime, creating it from DefaultConfig on
// first use. Go has no exit hooks, so programs using it should
// defer ShutdownDefault() in main.
func Default() *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime == nil {
		rt, err := New(DefaultConfig())
		if err != nil {
			// DefaultConfig always validates
			panic(err)
		}
		defaultRuntime = rt
	}
	return defaultRuntime
}

// ShutdownDefault shuts the default Runtime down. A later Default call
// creates a fresh one.
func ShutdownDefault() {
	defaultMu.Lock()
	rt := defaultRuntime
	defaultRuntime = nil
	defaultMu.Unlock()

	if rt != nil {
		rt.Shutdown()
	}
}

// Spawn hands task to the default Runtime.
func Spawn(task *core.Task) error {
	return Default().Spawn(task)
}

// SpawnFunc wraps routine in a task on the default Runtime.
func SpawnFunc(name string, routine core.Routine, opts ...core.TaskOption) (*core.Task, error) {
	return Default().SpawnFunc(name, routine, opts...)
}

// Go spawns a coroutine task on the default Runtime.
func Go(name string, body func(y *core.Yielder) error, opts ...core.TaskOption) (*core.Task, error) {
	return Default().Go(name, body, opts...)
}

// AwaitAll waits for every task on the default Runtime.
func AwaitAll() {
	Default().AwaitAll()
}
