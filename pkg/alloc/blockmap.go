package alloc

import (
	"fmt"
	"strings"

	. "umbrella/pkg/types"
)

const (
	OutOfBlocksErr ConstError = "out of free blocks"
)

// BlockMap is the bitmap allocator over the device's block address space:
// bit i set means block i is owned by some live structure. Blocks below
// `reserved` hold the device header, superblock and the maps themselves;
// they are marked allocated at format time and can never be freed.
type BlockMap struct {
	bitmap   Bitmap
	reserved BlockNumber
}

func NewBlockMap(
	chunks [][]byte,
	blockCount BlockNumber,
	reserved BlockNumber,
) *BlockMap {
	return &BlockMap{
		bitmap:   NewBitmap(chunks, uint64(blockCount)),
		reserved: reserved,
	}
}

// ReservePrefix marks the metadata blocks [0, reserved) allocated. Called
// once, at format time; on a mount the bits come off the disk.
func (bm *BlockMap) ReservePrefix() {
	for i := BlockNumber(0); i < bm.reserved; i++ {
		bm.bitmap.Set(uint64(i))
	}
}

// Alloc claims the lowest-numbered free block.
func (bm *BlockMap) Alloc() (BlockNumber, error) {
	i, ok := bm.bitmap.FirstZero()
	if !ok {
		return BlockNil, OutOfBlocksErr
	}
	bm.bitmap.Set(i)
	return BlockNumber(i), nil
}

// Free releases a block. Freeing an already-free block is a no-op, and the
// reserved metadata prefix is untouchable.
func (bm *BlockMap) Free(bn BlockNumber) {
	if bn < bm.reserved || uint64(bn) >= bm.bitmap.Len() {
		return
	}
	bm.bitmap.Clear(uint64(bn))
}

func (bm *BlockMap) IsAllocated(bn BlockNumber) bool {
	return uint64(bn) < bm.bitmap.Len() && bm.bitmap.IsSet(uint64(bn))
}

// String renders the allocation state as rows of 64 bits, '1' = allocated.
func (bm *BlockMap) String() string {
	var sb strings.Builder
	for base := uint64(0); base < bm.bitmap.Len(); base += 64 {
		fmt.Fprintf(&sb, "%8d: ", base)
		for i := base; i < base+64 && i < bm.bitmap.Len(); i++ {
			if i > base && i%8 == 0 {
				sb.WriteByte(' ')
			}
			if bm.bitmap.IsSet(i) {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
