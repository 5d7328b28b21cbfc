package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_FIFOOrder(t *testing.T) {
	ch := NewChannel[int](4)
	for i := range 4 {
		require.NoError(t, ch.Send(i))
	}
	assert.Equal(t, 4, ch.Len())
	assert.Equal(t, 4, ch.Cap())

	for i := range 4 {
		v, err := ch.Receive()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, ch.Len())
}

func TestNewChannel_ZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { NewChannel[int](0) })
}

// TestChannel_SendBlocksWhenFull tests the capacity bound
// Main test items:
// 1. With capacity 1, a second Send blocks
// 2. A Receive releases it
// 3. Values arrive in order
func TestChannel_SendBlocksWhenFull(t *testing.T) {
	ch := NewChannel[string](1)
	require.NoError(t, ch.Send("a"))

	sent := make(chan struct{})
	go func() {
		_ = ch.Send("b")
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("second Send should block while the channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send did not resume after Receive made room")
	}

	v, err = ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

// TestChannel_CloseDrainsThenFails tests close semantics
// Main test items:
// 1. Buffered values are still delivered after Close
// 2. Receive fails with ErrChannelClosed once drained
// 3. Send after Close fails with ErrChannelClosed
// 4. Close is idempotent
func TestChannel_CloseDrainsThenFails(t *testing.T) {
	ch := NewChannel[int](3)
	require.NoError(t, ch.Send(1))
	require.NoError(t, ch.Send(2))
	ch.Close()
	ch.Close()
	assert.True(t, ch.IsClosed())

	assert.ErrorIs(t, ch.Send(3), ErrChannelClosed)
	_, err := ch.TrySend(3)
	assert.ErrorIs(t, err, ErrChannelClosed)

	v, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, ok, err := ch.TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, err = ch.Receive()
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, ok, err = ch.TryReceive()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannel_CloseWakesBlockedReceiver(t *testing.T) {
	ch := NewChannel[int](1)
	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Receive()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Receive was not woken by Close")
	}
}

func TestChannel_CloseWakesBlockedSender(t *testing.T) {
	ch := NewChannel[int](1)
	require.NoError(t, ch.Send(1))

	errCh := make(chan error, 1)
	go func() { errCh <- ch.Send(2) }()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Send was not woken by Close")
	}
}

func TestChannel_TryOperations(t *testing.T) {
	ch := NewChannel[int](1)

	_, ok, err := ch.TryReceive()
	require.NoError(t, err)
	assert.False(t, ok)

	sent, err := ch.TrySend(7)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = ch.TrySend(8)
	require.NoError(t, err)
	assert.False(t, sent, "full channel refuses TrySend")
}

func TestChannel_ContextCancellation(t *testing.T) {
	ch := NewChannel[int](1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := ch.ReceiveContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, ch.Send(1))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, ch.SendContext(ctx2, 2), context.DeadlineExceeded)
}

func TestChannel_All(t *testing.T) {
	ch := NewChannel[int](2)
	go func() {
		for i := range 5 {
			_ = ch.Send(i)
		}
		ch.Close()
	}()

	var got []int
	for v := range ch.All() {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

// TestChannel_ManyProducersConsumers tests no value is lost or duplicated
func TestChannel_ManyProducersConsumers(t *testing.T) {
	const producers, perProducer = 4, 250
	ch := NewChannel[int](8)

	var pwg sync.WaitGroup
	for p := range producers {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for i := range perProducer {
				_ = ch.Send(p*perProducer + i)
			}
		}()
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		cwg  sync.WaitGroup
	)
	for range 3 {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for v := range ch.All() {
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	pwg.Wait()
	ch.Close()
	cwg.Wait()

	assert.Len(t, seen, producers*perProducer)
}

// TestChannel_WatchFiresOnChange tests the Waitable contract
// Main test items:
// 1. Watch with the current generation registers and fires on the next change
// 2. Watch with a stale generation refuses to register
func TestChannel_WatchFiresOnChange(t *testing.T) {
	ch := NewChannel[int](1)
	gen := ch.Generation()

	fired := make(chan struct{}, 1)
	require.True(t, ch.Watch(gen, func() { fired <- struct{}{} }))

	require.NoError(t, ch.Send(1))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watcher was not called")
	}

	assert.False(t, ch.Watch(gen, func() {}), "stale generation must not register")
	assert.Greater(t, ch.Generation(), gen)
}
