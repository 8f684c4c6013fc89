package device

import (
	"encoding/binary"
	"fmt"
	"os"

	. "umbrella/pkg/types"
)

const (
	// Magic identifies a file as an umbrella virtual disk (ascii "umbrldsk").
	Magic   uint64 = 0x756d62726c64736b
	Version uint64 = 1

	// HeaderSize is the number of bytes of block 0 occupied by the device
	// header: magic, version, block size, block count.
	HeaderSize Byte = 32

	BadMagicErr     ConstError = "bad device magic"
	BadVersionErr   ConstError = "unsupported device version"
	BadGeometryErr  ConstError = "invalid device geometry"
	OutOfRangeErr   ConstError = "block out of range"
	WrongBufSizeErr ConstError = "buffer length is not one block"
	SizeMismatchErr ConstError = "file size disagrees with device geometry"
)

type Geometry struct {
	BlockSize  Byte
	BlockCount BlockNumber
}

// BlockDevice is fixed-block random-access storage backed by a single
// regular file. Every read and write addresses exactly one block; there is
// no caching at this layer.
type BlockDevice struct {
	file     *os.File
	geometry Geometry
}

// Create allocates backing storage for a fresh device: the file is created
// (or truncated) to blockCount*blockSize bytes and the device header is
// written into block 0. A blockSize of 0 selects DefaultBlockSize. The
// 128-block/128-byte format minimums are a filesystem policy, not enforced
// here.
func Create(
	path string,
	blockCount BlockNumber,
	blockSize Byte,
) (*BlockDevice, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < HeaderSize || blockCount < 1 {
		return nil, fmt.Errorf(
			"creating device `%s` (block size `%d`, block count `%d`): %w",
			path,
			blockSize,
			blockCount,
			BadGeometryErr,
		)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating device `%s`: %w", path, err)
	}
	if err := file.Truncate(int64(blockSize) * int64(blockCount)); err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing device `%s`: %w", path, err)
	}

	dev := &BlockDevice{
		file:     file,
		geometry: Geometry{BlockSize: blockSize, BlockCount: blockCount},
	}

	header := make([]byte, blockSize)
	encodeHeader(&dev.geometry, header)
	if err := dev.WriteBlock(0, header); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing device header to `%s`: %w", path, err)
	}
	return dev, nil
}

// Open attaches to existing backing storage without resizing it. The
// geometry is recovered from the device header and cross-checked against the
// file size.
func Open(path string) (*BlockDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device `%s`: %w", path, err)
	}

	raw := make([]byte, HeaderSize)
	if _, err := file.ReadAt(raw, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading device header from `%s`: %w", path, err)
	}

	var geometry Geometry
	if err := decodeHeader(&geometry, raw); err != nil {
		file.Close()
		return nil, fmt.Errorf("opening device `%s`: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("inspecting device `%s`: %w", path, err)
	}
	if wanted := int64(geometry.BlockSize) * int64(geometry.BlockCount); info.Size() != wanted {
		file.Close()
		return nil, fmt.Errorf(
			"opening device `%s`: wanted `%d` bytes; found `%d`: %w",
			path,
			wanted,
			info.Size(),
			SizeMismatchErr,
		)
	}

	return &BlockDevice{file: file, geometry: geometry}, nil
}

func (dev *BlockDevice) Geometry() Geometry { return dev.geometry }

func (dev *BlockDevice) BlockSize() Byte { return dev.geometry.BlockSize }

func (dev *BlockDevice) BlockCount() BlockNumber { return dev.geometry.BlockCount }

// ReadBlock fills buf with the contents of block bn. buf must be exactly one
// block long.
func (dev *BlockDevice) ReadBlock(bn BlockNumber, buf []byte) error {
	if err := dev.checkAccess(bn, buf); err != nil {
		return fmt.Errorf("reading block `%d`: %w", bn, err)
	}
	if _, err := dev.file.ReadAt(buf, dev.offset(bn)); err != nil {
		return fmt.Errorf("reading block `%d`: %w", bn, err)
	}
	return nil
}

// WriteBlock writes buf as the new contents of block bn. buf must be exactly
// one block long.
func (dev *BlockDevice) WriteBlock(bn BlockNumber, buf []byte) error {
	if err := dev.checkAccess(bn, buf); err != nil {
		return fmt.Errorf("writing block `%d`: %w", bn, err)
	}
	if _, err := dev.file.WriteAt(buf, dev.offset(bn)); err != nil {
		return fmt.Errorf("writing block `%d`: %w", bn, err)
	}
	return nil
}

// Close releases the backing file handle. Nothing is flushed here; callers
// that want durability go through the cache's write-back path first.
func (dev *BlockDevice) Close() error {
	if err := dev.file.Close(); err != nil {
		return fmt.Errorf("closing device: %w", err)
	}
	return nil
}

func (dev *BlockDevice) checkAccess(bn BlockNumber, buf []byte) error {
	if bn >= dev.geometry.BlockCount {
		return fmt.Errorf(
			"wanted a block below `%d`: %w",
			dev.geometry.BlockCount,
			OutOfRangeErr,
		)
	}
	if Byte(len(buf)) != dev.geometry.BlockSize {
		return fmt.Errorf(
			"wanted a `%d`-byte buffer; found `%d` bytes: %w",
			dev.geometry.BlockSize,
			len(buf),
			WrongBufSizeErr,
		)
	}
	return nil
}

func (dev *BlockDevice) offset(bn BlockNumber) int64 {
	return int64(bn) * int64(dev.geometry.BlockSize)
}

func encodeHeader(geometry *Geometry, p []byte) {
	binary.BigEndian.PutUint64(p[0:], Magic)
	binary.BigEndian.PutUint64(p[8:], Version)
	binary.BigEndian.PutUint64(p[16:], uint64(geometry.BlockSize))
	binary.BigEndian.PutUint64(p[24:], uint64(geometry.BlockCount))
}

func decodeHeader(geometry *Geometry, p []byte) error {
	if magic := binary.BigEndian.Uint64(p[0:]); magic != Magic {
		return fmt.Errorf("decoded magic `%#x`: %w", magic, BadMagicErr)
	}
	if version := binary.BigEndian.Uint64(p[8:]); version != Version {
		return fmt.Errorf("decoded version `%d`: %w", version, BadVersionErr)
	}
	geometry.BlockSize = Byte(binary.BigEndian.Uint64(p[16:]))
	geometry.BlockCount = BlockNumber(binary.BigEndian.Uint64(p[24:]))
	if geometry.BlockSize < HeaderSize || geometry.BlockCount < 1 {
		return fmt.Errorf(
			"decoded block size `%d`, block count `%d`: %w",
			geometry.BlockSize,
			geometry.BlockCount,
			BadGeometryErr,
		)
	}
	return nil
}
