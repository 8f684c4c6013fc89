package types

// BlockNumber identifies a block's position on a device. Block 0 holds the
// device header and is never allocatable, so 0 doubles as the null pointer
// in on-disk pointer arrays.
type BlockNumber uint64

// Byte is a quantity of bytes.
type Byte int64

const (
	DefaultBlockSize Byte = 512
	BlockPointerSize Byte = 8 // 64-bit big-endian block pointers

	BlockNil BlockNumber = 0
)
