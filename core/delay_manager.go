package core

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// sleepingTask is a task parked until WakeAt
type sleepingTask struct {
	WakeAt time.Time
	Task   *Task
	index  int // for heap interface
}

// sleepHeap implements heap.Interface ordered by WakeAt
type sleepHeap []*sleepingTask

func (h sleepHeap) Len() int           { return len(h) }
func (h sleepHeap) Less(i, j int) bool { return h[i].WakeAt.Before(h[j].WakeAt) }
func (h sleepHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *sleepHeap) Push(x any) {
	n := len(*h)
	item := x.(*sleepingTask)
	item.index = n
	*h = append(*h, item)
}

func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *sleepHeap) Peek() *sleepingTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager parks sleeping tasks on a single timer goroutine and hands
// each one to wake once its delay has elapsed. Workers never sleep.
type DelayManager struct {
	pq      sleepHeap
	mu      sync.Mutex
	count   atomic.Int64
	wakeup  chan struct{}
	done    chan struct{}
	exited  chan struct{} // closed when loop returns
	stopped bool
	wake    func(*Task)
}

// NewDelayManager starts the timer goroutine. wake is called outside the
// manager's lock for every task whose delay has elapsed.
func NewDelayManager(wake func(*Task)) *DelayManager {
	dm := &DelayManager{
		pq:     make(sleepHeap, 0),
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		wake:   wake,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Park schedules task to be woken after delay. It returns false once the
// manager has been stopped; the caller keeps ownership of task then.
func (dm *DelayManager) Park(task *Task, delay time.Duration) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return false
	}

	item := &sleepingTask{
		WakeAt: time.Now().Add(delay),
		Task:   task,
	}
	heap.Push(&dm.pq, item)
	dm.count.Add(1)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

func (dm *DelayManager) loop() {
	defer close(dm.exited)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		// Calculate next wake time
		next, ok := dm.calculateNextWake()
		if !ok {
			// Nothing parked, wait indefinitely
			next = 1000 * time.Hour
		}

		timer.Reset(next)

		select {
		case <-dm.done:
			timer.Stop()
			return
		case <-timer.C:
			dm.wakeExpired()
		case <-dm.wakeup:
			// New head, recalculate
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextWake returns how long until the earliest parked task is due.
// ok is false when nothing is parked.
func (dm *DelayManager) calculateNextWake() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}

	d := time.Until(item.WakeAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// wakeExpired pops every due task under the lock and wakes them after
// releasing it.
func (dm *DelayManager) wakeExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*Task

	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.WakeAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item.Task)
	}
	dm.count.Add(-int64(len(expired)))

	dm.mu.Unlock()

	for _, t := range expired {
		dm.wake(t)
	}
}

// Stop ends the timer goroutine and returns the tasks that were still
// parked. Ownership of those tasks passes to the caller. Wakes already taken
// off the heap finish before Stop returns, so wake is never called after it.
// Stop must not be called from wake.
func (dm *DelayManager) Stop() []*Task {
	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		<-dm.exited
		return nil
	}
	dm.stopped = true
	close(dm.done)

	remaining := make([]*Task, 0, len(dm.pq))
	for _, item := range dm.pq {
		remaining = append(remaining, item.Task)
	}
	dm.pq = make(sleepHeap, 0)
	dm.count.Store(0)
	dm.mu.Unlock()

	<-dm.exited
	return remaining
}

// TaskCount returns the number of parked tasks.
func (dm *DelayManager) TaskCount() int {
	return int(dm.count.Load())
}
