package core

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockAllocator_AllocateReturnsBlockSize(t *testing.T) {
	a := NewBlockAllocator(32, 4)
	b := a.Allocate()

	assert.Len(t, b.Bytes, 32)
	assert.Equal(t, 32, cap(b.Bytes), "blocks cannot grow into their neighbours")
	assert.Equal(t, 32, a.BlockSize())
	require.NoError(t, a.Deallocate(b))
}

// TestBlockAllocator_GrowsByOnePool tests pool growth
// Main test items:
// 1. Exhausting the first pool adds a second one
// 2. All handed-out blocks are distinct
// 3. Stats track pools, free and in-use blocks
func TestBlockAllocator_GrowsByOnePool(t *testing.T) {
	a := NewBlockAllocator(16, 4)
	assert.Equal(t, AllocatorStats{BlockSize: 16, BlocksPerPool: 4, Pools: 1, Total: 4, Free: 4, InUse: 0}, a.Stats())

	blocks := make([]Block, 0, 5)
	addrs := make(map[uintptr]bool)
	for range 5 {
		b := a.Allocate()
		addr := uintptr(unsafe.Pointer(&b.Bytes[0]))
		assert.False(t, addrs[addr], "duplicate block handed out")
		addrs[addr] = true
		blocks = append(blocks, b)
	}

	stats := a.Stats()
	assert.Equal(t, 2, stats.Pools)
	assert.Equal(t, 8, stats.Total)
	assert.Equal(t, 5, stats.InUse)
	assert.Equal(t, 3, stats.Free)

	for _, b := range blocks {
		require.NoError(t, a.Deallocate(b))
	}
	assert.Equal(t, 0, a.Stats().InUse)
}

func TestBlockAllocator_ReusesFreedBlock(t *testing.T) {
	a := NewBlockAllocator(8, 2)
	b := a.Allocate()
	first := &b.Bytes[0]
	require.NoError(t, a.Deallocate(b))

	again := a.Allocate()
	assert.Same(t, first, &again.Bytes[0], "LIFO free list hands back the last freed block")
}

func TestBlockAllocator_RejectsForeignAndDoubleFree(t *testing.T) {
	a := NewBlockAllocator(8, 2)
	other := NewBlockAllocator(8, 2)

	b := a.Allocate()
	assert.ErrorIs(t, other.Deallocate(b), ErrForeignBlock)
	assert.ErrorIs(t, a.Deallocate(Block{Bytes: make([]byte, 8)}), ErrForeignBlock)
	assert.ErrorIs(t, a.Deallocate(Block{}), ErrForeignBlock)

	require.NoError(t, a.Deallocate(b))
	assert.ErrorIs(t, a.Deallocate(b), ErrDoubleFree)
}

func TestNewBlockAllocator_Validation(t *testing.T) {
	assert.Panics(t, func() { NewBlockAllocator(0, 1) })
	a := NewBlockAllocator(8, 0)
	assert.Equal(t, defaultBlocksPerPool, a.Stats().BlocksPerPool)
}

func TestBlockAllocator_ConcurrentUse(t *testing.T) {
	a := NewBlockAllocator(64, 8)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				b := a.Allocate()
				b.Bytes[0] = 1
				if err := a.Deallocate(b); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats := a.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, stats.Total, stats.Free)
}

func TestBlockAllocator_GrowthIsLogged(t *testing.T) {
	logger := &recordingLogger{}
	a := NewBlockAllocator(8, 1, WithAllocatorLogger(logger))
	_ = a.Allocate()
	_ = a.Allocate()

	assert.Len(t, logger.messages(), 2, "one record per pool")
}
