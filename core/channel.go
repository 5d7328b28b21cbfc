package core

import (
	"context"
	"iter"
	"sync"
)

// Waitable is something a suspended task can wait on.
//
// Generation increases on every observable state change. Watch registers fn
// to be called once after the generation moves past gen; it returns false
// without registering when that already happened, so a caller that read the
// generation before a failed attempt can never miss a wakeup.
type Waitable interface {
	Generation() uint64
	Watch(gen uint64, fn func()) bool
}

// Channel is a bounded FIFO shared between tasks.
//
// Blocking Send and Receive park the calling goroutine and are meant for
// code running outside the scheduler. Tasks running on scheduler workers
// should use TrySend/TryReceive and suspend with WaitOn, or the AwaitSend and
// AwaitReceive helpers of a Coroutine, so they never pin a worker.
type Channel[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	count    int
	closed   bool
	gen      uint64
	watchers []func()
}

var _ Waitable = (*Channel[int])(nil)

// NewChannel creates a channel holding at most capacity values.
// Panics if capacity is less than 1.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		panic("Channel: capacity must be at least 1")
	}
	c := &Channel[T]{buf: make([]T, capacity)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send blocks while the channel is full. It returns ErrChannelClosed if the
// channel is closed before room becomes available.
func (c *Channel[T]) Send(v T) error {
	return c.SendContext(context.Background(), v)
}

// SendContext is Send that gives up when ctx is done.
func (c *Channel[T]) SendContext(ctx context.Context, v T) error {
	c.mu.Lock()
	stop := c.wakeOnDone(ctx)
	defer stop()

	for !c.closed && c.count == len(c.buf) {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return err
		}
		c.cond.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.pushLocked(v)
	c.unlockAndNotify()
	return nil
}

// TrySend enqueues v if there is room. It returns false with a nil error
// when the channel is full.
func (c *Channel[T]) TrySend(v T) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrChannelClosed
	}
	if c.count == len(c.buf) {
		c.mu.Unlock()
		return false, nil
	}
	c.pushLocked(v)
	c.unlockAndNotify()
	return true, nil
}

// Receive blocks until a value is available. Buffered values are still
// delivered after Close; ErrChannelClosed is returned only once the channel
// is closed and empty.
func (c *Channel[T]) Receive() (T, error) {
	return c.ReceiveContext(context.Background())
}

// ReceiveContext is Receive that gives up when ctx is done.
func (c *Channel[T]) ReceiveContext(ctx context.Context) (T, error) {
	var zero T

	c.mu.Lock()
	stop := c.wakeOnDone(ctx)
	defer stop()

	for !c.closed && c.count == 0 {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return zero, err
		}
		c.cond.Wait()
	}
	if c.count == 0 {
		c.mu.Unlock()
		return zero, ErrChannelClosed
	}
	v := c.popLocked()
	c.unlockAndNotify()
	return v, nil
}

// TryReceive dequeues a value if one is buffered. It returns false with a nil
// error when the channel is empty but open.
func (c *Channel[T]) TryReceive() (T, bool, error) {
	var zero T

	c.mu.Lock()
	if c.count == 0 {
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return zero, false, ErrChannelClosed
		}
		return zero, false, nil
	}
	v := c.popLocked()
	c.unlockAndNotify()
	return v, true, nil
}

// Close marks the channel closed and wakes every blocked sender, receiver
// and watcher. Closing twice is a no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.unlockAndNotify()
}

// All yields received values until the channel is closed and drained.
func (c *Channel[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := c.Receive()
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// IsClosed reports whether Close has been called.
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the capacity bound.
func (c *Channel[T]) Cap() int {
	return len(c.buf)
}

// Generation implements Waitable.
func (c *Channel[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Watch implements Waitable.
func (c *Channel[T]) Watch(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.watchers = append(c.watchers, fn)
	return true
}

func (c *Channel[T]) pushLocked(v T) {
	tail := (c.head + c.count) % len(c.buf)
	c.buf[tail] = v
	c.count++
}

func (c *Channel[T]) popLocked() T {
	var zero T
	v := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	return v
}

// unlockAndNotify bumps the generation, wakes blocked goroutines and runs
// the pending watchers after the lock is released.
func (c *Channel[T]) unlockAndNotify() {
	c.gen++
	watchers := c.watchers
	c.watchers = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

// wakeOnDone must be called with c.mu held. The returned stop func must run
// after c.mu has been released.
func (c *Channel[T]) wakeOnDone(ctx context.Context) func() bool {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
}
