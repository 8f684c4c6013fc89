package fs

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"umbrella/pkg/alloc"
	"umbrella/pkg/cache"
	"umbrella/pkg/device"
	. "umbrella/pkg/types"
)

const (
	ClosedErr ConstError = "filesystem is closed"
)

// FileSystem coordinates one cache, one block map and one inode map over a
// block device. The maps mutate the cache's block images in place, so the
// cache flush at Close persists them.
type FileSystem struct {
	device     *device.BlockDevice
	cache      *cache.Cache
	superblock Superblock
	blockMap   *alloc.BlockMap
	inodeMap   *alloc.INodeMap
	closed     bool
}

// Mount is the result of reading an existing filesystem. CleanMount is false
// when the prior session dropped the filesystem without Close; that is a
// warning for the caller, not a failure — the filesystem is usable, just
// unverified.
type Mount struct {
	CleanMount bool
	FileSystem *FileSystem
}

// New formats a fresh filesystem onto dev: superblock and empty maps are
// written immediately, no explicit mount step needed. The returned value is
// ready for use and must still be Closed to be marked clean. Geometry below
// the 128-block/128-byte minimums is rejected before anything is written.
func New(dev *device.BlockDevice) (*FileSystem, error) {
	geometry := dev.Geometry()
	if geometry.BlockSize < MinBlockSize || geometry.BlockCount < MinBlockCount {
		return nil, fmt.Errorf(
			"formatting device (block size `%d`, block count `%d`): %w",
			geometry.BlockSize,
			geometry.BlockCount,
			GeometryErr,
		)
	}

	fs := &FileSystem{
		device:     dev,
		cache:      cache.New(dev),
		superblock: NewSuperblock(geometry),
	}

	// A format must not inherit whatever filesystem was on the device
	// before, so every metadata block starts from a zeroed image rather
	// than the device's current contents.
	for bn := SuperblockBlock; bn < fs.superblock.FirstDataBlock(); bn++ {
		fs.cache.Zero(bn)
	}

	if err := fs.loadMaps(); err != nil {
		return nil, fmt.Errorf("formatting device: %w", err)
	}
	fs.blockMap.ReservePrefix()
	fs.inodeMap.Reserve(InoNil)

	if err := fs.writeSuperblock(); err != nil {
		return nil, fmt.Errorf("formatting device: %w", err)
	}
	if err := fs.cache.WriteAll(); err != nil {
		return nil, fmt.Errorf("formatting device: flushing maps: %w", err)
	}
	return fs, nil
}

// Read reconstructs a filesystem persisted on dev. The on-disk clean marker
// is reported through Mount and then rewritten false, so a session that ends
// without Close is detected by the next Read.
func Read(dev *device.BlockDevice) (Mount, error) {
	fs := &FileSystem{device: dev, cache: cache.New(dev)}

	buf, err := fs.cache.Read(SuperblockBlock)
	if err != nil {
		return Mount{}, fmt.Errorf("reading filesystem: %w", err)
	}
	if err := DecodeSuperblock(&fs.superblock, buf.Items); err != nil {
		return Mount{}, fmt.Errorf("reading filesystem: %w", err)
	}
	if fs.superblock.BlockSize != dev.BlockSize() ||
		fs.superblock.BlockCount != dev.BlockCount() {
		return Mount{}, fmt.Errorf(
			"reading filesystem: superblock says `%d`x`%d`; device says `%d`x`%d`: %w",
			fs.superblock.BlockCount,
			fs.superblock.BlockSize,
			dev.BlockCount(),
			dev.BlockSize(),
			GeometryMismatchErr,
		)
	}

	if err := fs.loadMaps(); err != nil {
		return Mount{}, fmt.Errorf("reading filesystem: %w", err)
	}

	cleanMount := fs.superblock.Clean
	fs.superblock.Clean = false
	if err := fs.writeSuperblock(); err != nil {
		return Mount{}, fmt.Errorf("reading filesystem: marking in use: %w", err)
	}

	return Mount{CleanMount: cleanMount, FileSystem: fs}, nil
}

// Close flushes the cache, writes the clean marker and releases the device.
// The value is poisoned either way: every later operation reports ClosedErr.
// If the flush fails the clean marker is withheld — the filesystem stays
// effectively dirty on disk — and the failure is surfaced.
func (fs *FileSystem) Close() error {
	if fs.closed {
		return ClosedErr
	}
	fs.closed = true

	var err error
	if werr := fs.cache.WriteAll(); werr != nil {
		err = multierr.Append(err, fmt.Errorf("closing: flushing cache: %w", werr))
	} else {
		fs.superblock.Clean = true
		if werr := fs.writeSuperblock(); werr != nil {
			err = multierr.Append(
				err,
				fmt.Errorf("closing: writing clean marker: %w", werr),
			)
		}
	}
	if werr := fs.device.Close(); werr != nil {
		err = multierr.Append(err, fmt.Errorf("closing: %w", werr))
	}
	return err
}

// AllocBlock claims the lowest-numbered free block outside the metadata
// region.
func (fs *FileSystem) AllocBlock() (BlockNumber, error) {
	if fs.closed {
		return BlockNil, ClosedErr
	}
	return fs.blockMap.Alloc()
}

// FreeBlock releases a block; freeing an already-free block changes nothing.
func (fs *FileSystem) FreeBlock(bn BlockNumber) error {
	if fs.closed {
		return ClosedErr
	}
	fs.blockMap.Free(bn)
	return nil
}

// AllocINode claims the lowest-numbered free inode slot, storing flags with
// it. The bool is false when every slot is live — exhaustion, which is
// recoverable by freeing, not an I/O failure.
func (fs *FileSystem) AllocINode(flags INodeFlags) (Ino, bool, error) {
	if fs.closed {
		return InoNil, false, ClosedErr
	}
	if err := flags.Validate(); err != nil {
		return InoNil, false, err
	}
	ino, ok := fs.inodeMap.Alloc(flags)
	return ino, ok, nil
}

// FreeINode releases an inode slot along with its flags; idempotent.
func (fs *FileSystem) FreeINode(ino Ino) error {
	if fs.closed {
		return ClosedErr
	}
	fs.inodeMap.Free(ino)
	return nil
}

// INodeFlags reports a live slot's flags; false for a free slot.
func (fs *FileSystem) INodeFlags(ino Ino) (INodeFlags, bool, error) {
	if fs.closed {
		return 0, false, ClosedErr
	}
	flags, ok := fs.inodeMap.Flags(ino)
	return flags, ok, nil
}

// BlockMapDump renders the block allocation bitmap for inspection.
func (fs *FileSystem) BlockMapDump() (string, error) {
	if fs.closed {
		return "", ClosedErr
	}
	return fs.blockMap.String(), nil
}

// INodeMapDump renders the inode allocation state for inspection.
func (fs *FileSystem) INodeMapDump() (string, error) {
	if fs.closed {
		return "", ClosedErr
	}
	return fs.inodeMap.String(), nil
}

func (fs *FileSystem) ID() (uuid.UUID, error) {
	if fs.closed {
		return uuid.UUID{}, ClosedErr
	}
	return fs.superblock.FSID, nil
}

// Superblock returns a copy of the current superblock for inspection.
func (fs *FileSystem) Superblock() (Superblock, error) {
	if fs.closed {
		return Superblock{}, ClosedErr
	}
	return fs.superblock, nil
}

// loadMaps pulls the maps' backing blocks through the cache and builds the
// allocators over the shared block images.
func (fs *FileSystem) loadMaps() error {
	sb := &fs.superblock

	blockChunks, err := fs.mapChunks(sb.BlockMapStart(), sb.BlockMapBlocks())
	if err != nil {
		return fmt.Errorf("loading block map: %w", err)
	}
	fs.blockMap = alloc.NewBlockMap(
		blockChunks,
		sb.BlockCount,
		sb.FirstDataBlock(),
	)

	inodeChunks, err := fs.mapChunks(sb.INodeMapStart(), sb.INodeMapBlocks())
	if err != nil {
		return fmt.Errorf("loading inode map: %w", err)
	}
	fs.inodeMap = alloc.NewINodeMap(inodeChunks, uint64(sb.InodeCount))
	return nil
}

func (fs *FileSystem) mapChunks(
	start BlockNumber,
	blocks BlockNumber,
) ([][]byte, error) {
	chunks := make([][]byte, 0, blocks)
	for bn := start; bn < start+blocks; bn++ {
		buf, err := fs.cache.Read(bn)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, buf.Items)
	}
	return chunks, nil
}

// writeSuperblock encodes the superblock into its cached block image and
// writes it through to the device immediately — the one block whose loss
// breaks crash detection.
func (fs *FileSystem) writeSuperblock() error {
	buf, err := fs.cache.Read(SuperblockBlock)
	if err != nil {
		return err
	}
	EncodeSuperblock(&fs.superblock, buf.Items)
	return fs.cache.Write(SuperblockBlock)
}
