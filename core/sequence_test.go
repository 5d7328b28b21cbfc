package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSequence_RunsInPostOrder tests sequential execution
// Main test items:
// 1. Tasks posted to one sequence run in post order
// 2. No two tasks of the sequence overlap even with many workers
func TestSequence_RunsInPostOrder(t *testing.T) {
	s := newTestScheduler(t, 4)
	seq := NewSequence(s, "ordered")

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := range 20 {
		_, err := seq.PostFunc("item", Steps(
			func(ctx context.Context) error {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				return nil
			},
			func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				running.Add(-1)
				return nil
			},
		))
		require.NoError(t, err)
	}
	awaitAll(t, s)

	assert.False(t, overlap.Load(), "sequence tasks overlapped")
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(20), seq.Completed())
}

func TestSequence_SuspendingTaskBlocksSuccessor(t *testing.T) {
	s := newTestScheduler(t, 2)
	seq := NewSequence(s, "sleepy")

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	_, err := seq.PostFunc("slow", Coroutine(func(y *Yielder) error {
		if err := y.Sleep(30 * time.Millisecond); err != nil {
			return err
		}
		record("slow")
		return nil
	}))
	require.NoError(t, err)
	_, err = seq.PostFunc("fast", Func(func(ctx context.Context) error {
		record("fast")
		return nil
	}))
	require.NoError(t, err)

	awaitAll(t, s)
	assert.Equal(t, []string{"slow", "fast"}, order)
}

func TestSequence_FailureDoesNotStopSequence(t *testing.T) {
	handler := &recordingFailureHandler{}
	s := newTestScheduler(t, 1, func(c *SchedulerConfig) { c.FailureHandler = handler })
	seq := NewSequence(s, "")

	bad, err := seq.PostFunc("bad", Func(func(ctx context.Context) error { return errors.New("bad") }))
	require.NoError(t, err)
	good, err := seq.PostFunc("good", Func(func(ctx context.Context) error {
		assert.Same(t, seq, SequenceFromContext(ctx))
		assert.Equal(t, "good", CurrentTask(ctx).Name())
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, good.Wait(context.Background()))
	assert.Error(t, bad.Err())
	awaitAll(t, s)

	assert.Equal(t, int64(1), seq.Failed())
	assert.Len(t, handler.failures(), 1)
	assert.Equal(t, "sequence", seq.Name())
}

// TestSequence_CloseAbortsPending tests sequence close
// Main test items:
// 1. Tasks not yet started are aborted with ErrSequenceClosed
// 2. Posting after Close fails
func TestSequence_CloseAbortsPending(t *testing.T) {
	s := newTestScheduler(t, 1)
	seq := NewSequence(s, "closing")

	release := make(chan struct{})
	started := make(chan struct{})
	first, err := seq.PostFunc("first", Func(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, err)
	second, err := seq.PostFunc("second", Func(func(ctx context.Context) error { return nil }))
	require.NoError(t, err)

	<-started
	assert.Equal(t, 1, seq.Pending())
	seq.Close()
	close(release)

	assert.NoError(t, first.Wait(context.Background()))
	assert.ErrorIs(t, second.Wait(context.Background()), ErrSequenceClosed)
	assert.True(t, seq.IsClosed())

	_, err = seq.PostFunc("late", Func(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrSequenceClosed)
	awaitAll(t, s)
}

func TestSequence_SchedulerShutdownAbortsHeldTasks(t *testing.T) {
	s := newTestScheduler(t, 1)
	seq := NewSequence(s, "held")

	sleeping, err := seq.PostFunc("sleeping", Coroutine(func(y *Yielder) error {
		return y.Sleep(time.Hour)
	}))
	require.NoError(t, err)
	queued, err := seq.PostFunc("queued", Func(func(ctx context.Context) error { return nil }))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Stats().Sleeping == 1 }, time.Second, time.Millisecond)
	s.Shutdown()

	assert.ErrorIs(t, sleeping.Wait(context.Background()), ErrTaskAborted)
	assert.ErrorIs(t, queued.Wait(context.Background()), ErrTaskAborted)

	_, err = seq.PostFunc("after", Func(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrSchedulerShutdown)
}

func TestSequence_PostValidation(t *testing.T) {
	s := newTestScheduler(t, 1)
	seq := NewSequence(s, "v")
	assert.ErrorIs(t, seq.Post(nil), ErrNilTask)

	task := NewTask("t", nil)
	require.NoError(t, s.Spawn(task))
	assert.ErrorIs(t, seq.Post(task), ErrTaskAlreadySpawned)
	awaitAll(t, s)
}
