package core

import (
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// Coroutine turns a straight-line body into a Routine. The body runs on its
// own goroutine but only makes progress while the task is being resumed:
// every Yielder call hands control back to the scheduler and blocks until the
// next resume. Between resumes the body is parked, so it may be resumed by a
// different worker each time.
func Coroutine(body func(y *Yielder) error) Routine {
	return &coroutine{
		body: body,
		y: &Yielder{
			resume:  make(chan context.Context),
			suspend: make(chan Suspend),
			abort:   make(chan struct{}),
		},
		result: make(chan error, 1),
	}
}

type coroutine struct {
	body     func(y *Yielder) error
	y        *Yielder
	result   chan error
	started  bool
	finished bool
	stopOnce sync.Once
}

func (c *coroutine) Step(ctx context.Context) (Suspend, error) {
	if c.finished {
		return Done(), nil
	}
	if !c.started {
		c.started = true
		c.y.ctx = ctx
		go c.run()
	} else {
		c.y.resume <- ctx
	}

	select {
	case s := <-c.y.suspend:
		return s, nil
	case err := <-c.result:
		c.finished = true
		return Done(), err
	}
}

func (c *coroutine) run() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		c.result <- err
	}()
	err = c.body(c.y)
}

// Release unblocks a body that is parked at a suspension point; its Yielder
// calls return ErrTaskAborted from then on.
func (c *coroutine) Release() {
	c.stopOnce.Do(func() { close(c.y.abort) })
}

// Yielder is the coroutine body's handle to its suspension points.
type Yielder struct {
	ctx     context.Context
	resume  chan context.Context
	suspend chan Suspend
	abort   chan struct{}
}

// Context returns the context of the current resume.
func (y *Yielder) Context() context.Context {
	return y.ctx
}

// Yield gives the worker back and continues on the next resume.
func (y *Yielder) Yield() error {
	return y.Suspend(Yield())
}

// Sleep suspends the coroutine for at least d without holding a worker.
func (y *Yielder) Sleep(d time.Duration) error {
	return y.Suspend(Sleep(d))
}

// Wait suspends until w moves past gen.
func (y *Yielder) Wait(w Waitable, gen uint64) error {
	return y.Suspend(WaitOn(w, gen))
}

// Suspend hands s to the scheduler and blocks until resumed.
// It returns ErrTaskAborted if the task was dropped meanwhile.
func (y *Yielder) Suspend(s Suspend) error {
	select {
	case y.suspend <- s:
	case <-y.abort:
		return ErrTaskAborted
	}
	select {
	case ctx := <-y.resume:
		y.ctx = ctx
		return nil
	case <-y.abort:
		return ErrTaskAborted
	}
}

// AwaitSend sends v on ch, suspending the coroutine while ch is full.
func AwaitSend[T any](y *Yielder, ch *Channel[T], v T) error {
	for {
		gen := ch.Generation()
		sent, err := ch.TrySend(v)
		if err != nil || sent {
			return err
		}
		if err := y.Wait(ch, gen); err != nil {
			return err
		}
	}
}

// AwaitReceive receives from ch, suspending the coroutine while ch is empty.
// It returns ErrChannelClosed once ch is closed and drained.
func AwaitReceive[T any](y *Yielder, ch *Channel[T]) (T, error) {
	for {
		gen := ch.Generation()
		v, ok, err := ch.TryReceive()
		if err != nil || ok {
			return v, err
		}
		if err := y.Wait(ch, gen); err != nil {
			var zero T
			return zero, err
		}
	}
}
