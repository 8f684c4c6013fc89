package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"umbrella/pkg/device"
	"umbrella/pkg/math"
	. "umbrella/pkg/types"
)

const (
	// Magic identifies block 1 as an umbrella superblock (ascii "umbrella").
	Magic uint64 = 0x756d6272656c6c61

	// SuperblockBlock is where the superblock lives; block 0 belongs to the
	// device header.
	SuperblockBlock BlockNumber = 1

	MinBlockSize  Byte        = 128
	MinBlockCount BlockNumber = 128

	BadMagicErr         ConstError = "bad superblock magic"
	GeometryErr         ConstError = "device geometry below filesystem minimums"
	GeometryMismatchErr ConstError = "superblock geometry disagrees with device"

	superblockFieldMagic      Byte = 0
	superblockFieldBlockSize  Byte = 8
	superblockFieldBlockCount Byte = 16
	superblockFieldInodeCount Byte = 24
	superblockFieldClean      Byte = 32
	superblockFieldFSID       Byte = 40
)

type Superblock struct {
	BlockSize  Byte
	BlockCount BlockNumber
	InodeCount Ino
	Clean      bool
	FSID       uuid.UUID
}

// NewSuperblock describes a fresh, not-yet-clean filesystem over the given
// geometry. Every filesystem object needs at least one block, so the inode
// table is sized to the block count.
func NewSuperblock(geometry device.Geometry) Superblock {
	return Superblock{
		BlockSize:  geometry.BlockSize,
		BlockCount: geometry.BlockCount,
		InodeCount: Ino(geometry.BlockCount),
		Clean:      false,
		FSID:       uuid.New(),
	}
}

func (sb *Superblock) BlockMapStart() BlockNumber { return SuperblockBlock + 1 }

func (sb *Superblock) BlockMapBlocks() BlockNumber {
	bitsPerBlock := uint64(sb.BlockSize) * 8
	return BlockNumber(math.DivRoundUp(uint64(sb.BlockCount), bitsPerBlock))
}

func (sb *Superblock) INodeMapStart() BlockNumber {
	return sb.BlockMapStart() + sb.BlockMapBlocks()
}

func (sb *Superblock) INodeMapBlocks() BlockNumber {
	// One slot byte per inode.
	return BlockNumber(math.DivRoundUp(uint64(sb.InodeCount), uint64(sb.BlockSize)))
}

// FirstDataBlock is the lower bound of the allocatable data region; every
// block below it is metadata, reserved in the block map at format time.
func (sb *Superblock) FirstDataBlock() BlockNumber {
	return sb.INodeMapStart() + sb.INodeMapBlocks()
}

// EncodeSuperblock renders sb into a block image. p must be a full block.
func EncodeSuperblock(sb *Superblock, p []byte) {
	binary.BigEndian.PutUint64(p[superblockFieldMagic:], Magic)
	binary.BigEndian.PutUint64(p[superblockFieldBlockSize:], uint64(sb.BlockSize))
	binary.BigEndian.PutUint64(p[superblockFieldBlockCount:], uint64(sb.BlockCount))
	binary.BigEndian.PutUint64(p[superblockFieldInodeCount:], uint64(sb.InodeCount))
	var clean uint64
	if sb.Clean {
		clean = 1
	}
	binary.BigEndian.PutUint64(p[superblockFieldClean:], clean)
	copy(p[superblockFieldFSID:superblockFieldFSID+16], sb.FSID[:])
}

// DecodeSuperblock populates sb from a block image, rejecting anything that
// doesn't carry the superblock magic.
func DecodeSuperblock(sb *Superblock, p []byte) error {
	if magic := binary.BigEndian.Uint64(p[superblockFieldMagic:]); magic != Magic {
		return fmt.Errorf(
			"decoding superblock: decoded magic `%#x`: %w",
			magic,
			BadMagicErr,
		)
	}
	*sb = Superblock{
		BlockSize:  Byte(binary.BigEndian.Uint64(p[superblockFieldBlockSize:])),
		BlockCount: BlockNumber(binary.BigEndian.Uint64(p[superblockFieldBlockCount:])),
		InodeCount: Ino(binary.BigEndian.Uint64(p[superblockFieldInodeCount:])),
		Clean:      binary.BigEndian.Uint64(p[superblockFieldClean:]) == 1,
	}
	copy(sb.FSID[:], p[superblockFieldFSID:superblockFieldFSID+16])
	return nil
}
