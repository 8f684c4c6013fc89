package alloc

import (
	"fmt"
	"strings"

	. "umbrella/pkg/types"
)

// slotAllocated is the high bit of an inode slot byte; the low seven bits
// hold the slot's INodeFlags and are meaningful only while the high bit is
// set.
const slotAllocated byte = 0x80

// INodeMap is the bitmap-with-metadata allocator over inode slots: one byte
// per slot, laid out across the map's backing block images (aliased from the
// cache, like BlockMap's).
type INodeMap struct {
	chunks [][]byte
	slots  uint64
}

func NewINodeMap(chunks [][]byte, slots uint64) *INodeMap {
	return &INodeMap{chunks: chunks, slots: slots}
}

func (im *INodeMap) Len() uint64 { return im.slots }

// Reserve marks a slot allocated with no flags, so Alloc never returns it.
// Used at format time for the InoNil sentinel.
func (im *INodeMap) Reserve(ino Ino) {
	*im.slot(ino) = slotAllocated
}

// Alloc claims the lowest-numbered free slot and stores flags with it. The
// second return is false when every slot is live; exhaustion is not a
// failure of the map, just the absence of capacity.
func (im *INodeMap) Alloc(flags INodeFlags) (Ino, bool) {
	var base uint64
	for _, chunk := range im.chunks {
		for i := range chunk {
			n := base + uint64(i)
			if n >= im.slots {
				return InoNil, false
			}
			if chunk[i]&slotAllocated == 0 {
				chunk[i] = slotAllocated | (byte(flags) &^ slotAllocated)
				return Ino(n), true
			}
		}
		base += uint64(len(chunk))
	}
	return InoNil, false
}

// Free releases a slot, clearing both the allocation bit and the flags.
// Idempotent; the InoNil sentinel and out-of-range slots are untouchable.
func (im *INodeMap) Free(ino Ino) {
	if ino == InoNil || uint64(ino) >= im.slots {
		return
	}
	*im.slot(ino) = 0
}

// Flags reports a live slot's flag set; the second return is false for a
// free slot, whose flags are meaningless.
func (im *INodeMap) Flags(ino Ino) (INodeFlags, bool) {
	if uint64(ino) >= im.slots {
		return 0, false
	}
	byt := *im.slot(ino)
	if byt&slotAllocated == 0 {
		return 0, false
	}
	return INodeFlags(byt &^ slotAllocated), true
}

func (im *INodeMap) slot(ino Ino) *byte {
	perChunk := uint64(len(im.chunks[0]))
	return &im.chunks[uint64(ino)/perChunk][uint64(ino)%perChunk]
}

// String renders the allocation grid (rows of 64 slots, '1' = live) followed
// by one line per live slot with its flags.
func (im *INodeMap) String() string {
	var sb strings.Builder
	for base := uint64(0); base < im.slots; base += 64 {
		fmt.Fprintf(&sb, "%8d: ", base)
		for i := base; i < base+64 && i < im.slots; i++ {
			if i > base && i%8 == 0 {
				sb.WriteByte(' ')
			}
			if *im.slot(Ino(i))&slotAllocated != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		sb.WriteByte('\n')
	}
	for i := uint64(0); i < im.slots; i++ {
		if flags, ok := im.Flags(Ino(i)); ok {
			fmt.Fprintf(&sb, "inode %d: %s\n", i, flags)
		}
	}
	return sb.String()
}
