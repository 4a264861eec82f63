package seqcache

import (
	"sync/atomic"
)

// Exhausted is returned by Block.NextID once every id of the block has been
// handed out. Callers must obtain a new block.
const Exhausted int64 = -1

// Block is a reserved, contiguous range of ids [start, end) owned by this
// process. Ids are dispensed with a single atomic increment, so a Block is
// safe for concurrent use without external locking.
//
// A Block is never repaired: once exhausted it stays exhausted and is
// replaced wholesale by the cache.
type Block struct {
	start  int64
	end    int64
	cursor atomic.Int64
}

// NewBlock creates a block dispensing ids in [start, end).
//
// It returns an *InvalidRangeError if start is negative or end <= start.
func NewBlock(start, end int64) (*Block, error) {
	if start < 0 || end <= start {
		return nil, &InvalidRangeError{Start: start, End: end}
	}

	b := &Block{
		start: start,
		end:   end,
	}
	b.cursor.Store(start - 1)

	return b, nil
}

// NextID returns the next unused id of the block, or Exhausted.
// It never blocks.
func (b *Block) NextID() int64 {
	// Keep the cursor from drifting towards overflow once the block is done.
	if b.cursor.Load() >= b.end-1 {
		return Exhausted
	}

	id := b.cursor.Add(1)
	if id < b.end {
		return id
	}

	return Exhausted
}

// IsExhausted reports whether the last id of the block has been dispensed.
func (b *Block) IsExhausted() bool {
	return b.cursor.Load() >= b.end-1
}

// Start returns the first id of the block.
func (b *Block) Start() int64 { return b.start }

// End returns the exclusive upper bound of the block.
func (b *Block) End() int64 { return b.end }

// Size returns the number of ids the block covers.
func (b *Block) Size() int64 { return b.end - b.start }

// Remaining returns the number of ids not yet dispensed.
func (b *Block) Remaining() int64 {
	last := b.cursor.Load()
	if last >= b.end-1 {
		return 0
	}
	return b.end - 1 - last
}

// BlockInfo is a point-in-time view of a cached block.
type BlockInfo struct {
	Start     int64
	End       int64
	Remaining int64
}

func (b *Block) info() BlockInfo {
	return BlockInfo{
		Start:     b.start,
		End:       b.end,
		Remaining: b.Remaining(),
	}
}
