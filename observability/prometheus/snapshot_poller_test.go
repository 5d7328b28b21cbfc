package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-task-runtime/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerStub struct {
	stats core.SchedulerStats
}

func (s schedulerStub) Stats() core.SchedulerStats { return s.stats }

type allocatorStub struct {
	stats core.AllocatorStats
}

func (s allocatorStub) Stats() core.AllocatorStats { return s.stats }

func TestSnapshotPoller_CollectsSchedulerAndAllocatorStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	require.NoError(t, err)

	poller.AddScheduler("sched-a", schedulerStub{stats: core.SchedulerStats{
		Workers:   8,
		Active:    5,
		Queued:    3,
		Running:   1,
		Sleeping:  1,
		Created:   12,
		Completed: 7,
		Rejected:  2,
		Shutdown:  true,
	}})
	poller.AddAllocator("alloc-a", allocatorStub{stats: core.AllocatorStats{
		Pools: 2,
		Total: 8,
		Free:  6,
		InUse: 2,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		queued := testutil.ToFloat64(poller.schedulerTasks.WithLabelValues("sched-a", "queued"))
		inUse := testutil.ToFloat64(poller.allocatorBlocks.WithLabelValues("alloc-a", "in_use"))
		return queued == 3 && inUse == 2
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(poller.schedulerShutdown.WithLabelValues("sched-a")))
	assert.Equal(t, 8.0, testutil.ToFloat64(poller.schedulerWorkers.WithLabelValues("sched-a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(poller.schedulerTotals.WithLabelValues("sched-a", "rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(poller.allocatorPools.WithLabelValues("alloc-a")))
}

func TestSnapshotPoller_CollectOnceWithRealProviders(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	require.NoError(t, err)

	alloc := core.NewBlockAllocator(64, 4)
	block := alloc.Allocate()
	defer func() { _ = alloc.Deallocate(block) }()

	cfg := core.DefaultSchedulerConfig()
	cfg.Workers = 3
	sched := core.NewScheduler(cfg)
	defer sched.Shutdown()

	poller.AddScheduler("", sched)
	poller.AddAllocator("", alloc)
	poller.CollectOnce()

	assert.Equal(t, 3.0, testutil.ToFloat64(poller.schedulerWorkers.WithLabelValues("scheduler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.allocatorBlocks.WithLabelValues("allocator", "in_use")))
	assert.Equal(t, 3.0, testutil.ToFloat64(poller.allocatorBlocks.WithLabelValues("allocator", "free")))
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
