package core

import (
	"fmt"
	"sync"
)

const defaultBlocksPerPool = 1024

// Block is a fixed-size chunk handed out by a BlockAllocator.
// Its contents are whatever the previous holder left behind.
type Block struct {
	Bytes []byte
	pool  int
	index int
}

// IsZero reports whether b is the zero Block.
func (b Block) IsZero() bool {
	return b.Bytes == nil
}

// BlockAllocator is a fixed-size slab allocator. Blocks are carved out of
// pools of blocksPerPool blocks; when the free list runs dry a new pool is
// added. Allocate and Deallocate are O(1).
type BlockAllocator struct {
	mu            sync.Mutex
	blockSize     int
	blocksPerPool int
	pools         [][]byte
	free          []Block
	allocated     []bool // indexed by pool*blocksPerPool + index
	logger        Logger
}

// AllocatorOption configures a BlockAllocator.
type AllocatorOption func(*BlockAllocator)

// WithAllocatorLogger logs pool growth to logger.
func WithAllocatorLogger(logger Logger) AllocatorOption {
	return func(a *BlockAllocator) { a.logger = orNoOp(logger) }
}

// NewBlockAllocator creates an allocator with one pool already in place.
// Panics if blockSize is not positive. A non-positive blocksPerPool selects 1024.
func NewBlockAllocator(blockSize, blocksPerPool int, opts ...AllocatorOption) *BlockAllocator {
	if blockSize < 1 {
		panic("BlockAllocator: blockSize must be at least 1")
	}
	if blocksPerPool < 1 {
		blocksPerPool = defaultBlocksPerPool
	}
	a := &BlockAllocator{
		blockSize:     blockSize,
		blocksPerPool: blocksPerPool,
		logger:        NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mu.Lock()
	a.growLocked()
	a.mu.Unlock()
	return a
}

// Allocate pops a free block, growing by one pool first if none remain.
func (a *BlockAllocator) Allocate() Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		a.growLocked()
	}

	n := len(a.free) - 1
	b := a.free[n]
	a.free[n] = Block{}
	a.free = a.free[:n]
	a.allocated[a.slot(b)] = true
	return b
}

// Deallocate returns b to the free list. Blocks that were not handed out by
// this allocator are rejected with ErrForeignBlock; blocks that are already
// free are rejected with ErrDoubleFree.
func (a *BlockAllocator) Deallocate(b Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.ownsLocked(b) {
		return ErrForeignBlock
	}
	slot := a.slot(b)
	if !a.allocated[slot] {
		return fmt.Errorf("pool %d block %d: %w", b.pool, b.index, ErrDoubleFree)
	}
	a.allocated[slot] = false
	a.free = append(a.free, b)
	return nil
}

// BlockSize returns the size in bytes of every block.
func (a *BlockAllocator) BlockSize() int {
	return a.blockSize
}

// Stats returns a snapshot of pool usage.
func (a *BlockAllocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := len(a.pools) * a.blocksPerPool
	return AllocatorStats{
		BlockSize:     a.blockSize,
		BlocksPerPool: a.blocksPerPool,
		Pools:         len(a.pools),
		Total:         total,
		Free:          len(a.free),
		InUse:         total - len(a.free),
	}
}

func (a *BlockAllocator) growLocked() {
	pool := make([]byte, a.blockSize*a.blocksPerPool)
	p := len(a.pools)
	a.pools = append(a.pools, pool)
	a.allocated = append(a.allocated, make([]bool, a.blocksPerPool)...)

	// Push in reverse so the lowest address is handed out first.
	for i := a.blocksPerPool - 1; i >= 0; i-- {
		off := i * a.blockSize
		a.free = append(a.free, Block{
			Bytes: pool[off : off+a.blockSize : off+a.blockSize],
			pool:  p,
			index: i,
		})
	}

	a.logger.Debug("allocator pool added",
		F("pool", p),
		F("blocks", a.blocksPerPool),
		F("block_size", a.blockSize))
}

func (a *BlockAllocator) ownsLocked(b Block) bool {
	if b.pool < 0 || b.pool >= len(a.pools) || b.index < 0 || b.index >= a.blocksPerPool {
		return false
	}
	if len(b.Bytes) != a.blockSize {
		return false
	}
	return &b.Bytes[0] == &a.pools[b.pool][b.index*a.blockSize]
}

func (a *BlockAllocator) slot(b Block) int {
	return b.pool*a.blocksPerPool + b.index
}
