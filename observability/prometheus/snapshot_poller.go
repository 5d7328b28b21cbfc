package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-runtime/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// AllocatorSnapshotProvider provides current allocator stats snapshots.
type AllocatorSnapshotProvider interface {
	Stats() core.AllocatorStats
}

// SnapshotPoller periodically exports scheduler and allocator Stats()
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	allocatorsMu sync.RWMutex
	allocators   map[string]AllocatorSnapshotProvider

	schedulerTasks    *prom.GaugeVec // by state
	schedulerTotals   *prom.GaugeVec // by outcome
	schedulerWorkers  *prom.GaugeVec
	schedulerShutdown *prom.GaugeVec

	allocatorBlocks *prom.GaugeVec // by state
	allocatorPools  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	schedulerTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "scheduler_tasks",
		Help:      "Tasks per scheduler by state (active, queued, running, sleeping, waiting).",
	}, []string{"scheduler", "state"})
	schedulerTotals := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "scheduler_tasks_total",
		Help:      "Scheduler task counters snapshot by outcome (created, completed, failed, dropped, rejected).",
	}, []string{"scheduler", "outcome"})
	schedulerWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "scheduler_workers",
		Help:      "Worker count per scheduler.",
	}, []string{"scheduler"})
	schedulerShutdown := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "scheduler_shutdown",
		Help:      "Scheduler shutdown state (1=shut down, 0=running).",
	}, []string{"scheduler"})

	allocatorBlocks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "allocator_blocks",
		Help:      "Allocator blocks by state (total, free, in_use).",
	}, []string{"allocator", "state"})
	allocatorPools := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "allocator_pools",
		Help:      "Number of pools owned by the allocator.",
	}, []string{"allocator"})

	var err error
	if schedulerTasks, err = registerCollector(reg, schedulerTasks); err != nil {
		return nil, err
	}
	if schedulerTotals, err = registerCollector(reg, schedulerTotals); err != nil {
		return nil, err
	}
	if schedulerWorkers, err = registerCollector(reg, schedulerWorkers); err != nil {
		return nil, err
	}
	if schedulerShutdown, err = registerCollector(reg, schedulerShutdown); err != nil {
		return nil, err
	}
	if allocatorBlocks, err = registerCollector(reg, allocatorBlocks); err != nil {
		return nil, err
	}
	if allocatorPools, err = registerCollector(reg, allocatorPools); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:          interval,
		schedulers:        make(map[string]SchedulerSnapshotProvider),
		allocators:        make(map[string]AllocatorSnapshotProvider),
		schedulerTasks:    schedulerTasks,
		schedulerTotals:   schedulerTotals,
		schedulerWorkers:  schedulerWorkers,
		schedulerShutdown: schedulerShutdown,
		allocatorBlocks:   allocatorBlocks,
		allocatorPools:    allocatorPools,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddAllocator adds or replaces an allocator snapshot provider by name.
func (p *SnapshotPoller) AddAllocator(name string, provider AllocatorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "allocator")
	p.allocatorsMu.Lock()
	p.allocators[name] = provider
	p.allocatorsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every provider immediately.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()

		p.schedulerTasks.WithLabelValues(name, "active").Set(float64(stats.Active))
		p.schedulerTasks.WithLabelValues(name, "queued").Set(float64(stats.Queued))
		p.schedulerTasks.WithLabelValues(name, "running").Set(float64(stats.Running))
		p.schedulerTasks.WithLabelValues(name, "sleeping").Set(float64(stats.Sleeping))
		p.schedulerTasks.WithLabelValues(name, "waiting").Set(float64(stats.Waiting))

		p.schedulerTotals.WithLabelValues(name, "created").Set(float64(stats.Created))
		p.schedulerTotals.WithLabelValues(name, "completed").Set(float64(stats.Completed))
		p.schedulerTotals.WithLabelValues(name, "failed").Set(float64(stats.Failed))
		p.schedulerTotals.WithLabelValues(name, "dropped").Set(float64(stats.Dropped))
		p.schedulerTotals.WithLabelValues(name, "rejected").Set(float64(stats.Rejected))

		p.schedulerWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Shutdown {
			p.schedulerShutdown.WithLabelValues(name).Set(1)
		} else {
			p.schedulerShutdown.WithLabelValues(name).Set(0)
		}
	}
	p.schedulersMu.RUnlock()

	p.allocatorsMu.RLock()
	for name, provider := range p.allocators {
		stats := provider.Stats()
		p.allocatorBlocks.WithLabelValues(name, "total").Set(float64(stats.Total))
		p.allocatorBlocks.WithLabelValues(name, "free").Set(float64(stats.Free))
		p.allocatorBlocks.WithLabelValues(name, "in_use").Set(float64(stats.InUse))
		p.allocatorPools.WithLabelValues(name).Set(float64(stats.Pools))
	}
	p.allocatorsMu.RUnlock()
}
