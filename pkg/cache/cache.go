package cache

import (
	"fmt"

	"go.uber.org/multierr"

	. "umbrella/pkg/types"
)

const (
	InvalidEntryErr ConstError = "cache entry type mismatch"
	NotCachedErr    ConstError = "block not cached"
)

// Device is the storage the cache sits in front of; satisfied by
// *device.BlockDevice.
type Device interface {
	BlockSize() Byte
	ReadBlock(BlockNumber, []byte) error
	WriteBlock(BlockNumber, []byte) error
}

// Shared is a mutably shared buffer handle. Every holder of a *Shared
// aliases the same Items slice: mutations through one handle are visible
// through all, and the buffer lives as long as its longest holder. This is
// how the cache hands out a live view of a block's contents without copying
// on every access.
type Shared[T any] struct {
	Items []T
}

func NewShared[T any](items []T) *Shared[T] { return &Shared[T]{Items: items} }

// entry is a tagged union: exactly one of bytes/pointers is non-nil. A block
// cached under one variant must not be reinterpreted under the other without
// an explicit re-tag (WritePointers).
type entry struct {
	bytes    *Shared[byte]
	pointers *Shared[BlockNumber]
}

// encode renders the entry's current in-memory state as one block image.
func (e *entry) encode(blockSize Byte) []byte {
	if e.bytes != nil {
		return e.bytes.Items
	}
	buf := make([]byte, blockSize)
	encodePointers(e.pointers.Items, buf)
	return buf
}

// Cache is a write-back, per-block-number associative store. Entries are
// created lazily on first access and never evicted; WriteAll persists the
// lot at filesystem close.
type Cache struct {
	entries map[BlockNumber]entry
	device  Device
}

func New(device Device) *Cache {
	return &Cache{
		entries: make(map[BlockNumber]entry),
		device:  device,
	}
}

// Zero unconditionally installs a zeroed byte entry for block bn, replacing
// whatever was cached. Used when a block's prior on-disk contents must not
// survive, as when formatting over an existing filesystem.
func (c *Cache) Zero(bn BlockNumber) *Shared[byte] {
	shared := NewShared(make([]byte, c.device.BlockSize()))
	c.entries[bn] = entry{bytes: shared}
	return shared
}

// Read returns a shared handle to block bn's raw bytes, populating the cache
// from the device on first access. Fails with InvalidEntryErr if the block
// is currently cached as a pointer array.
func (c *Cache) Read(bn BlockNumber) (*Shared[byte], error) {
	if e, ok := c.entries[bn]; ok {
		if e.bytes == nil {
			return nil, fmt.Errorf(
				"reading block `%d` as raw bytes: cached as pointers: %w",
				bn,
				InvalidEntryErr,
			)
		}
		return e.bytes, nil
	}

	buf := make([]byte, c.device.BlockSize())
	if err := c.device.ReadBlock(bn, buf); err != nil {
		return nil, fmt.Errorf("filling cache for block `%d`: %w", bn, err)
	}
	shared := NewShared(buf)
	c.entries[bn] = entry{bytes: shared}
	return shared, nil
}

// ReadPointers returns a shared handle to block bn interpreted as a dense
// big-endian array of block numbers. Fails with InvalidEntryErr if the block
// is currently cached as raw bytes.
func (c *Cache) ReadPointers(bn BlockNumber) (*Shared[BlockNumber], error) {
	if e, ok := c.entries[bn]; ok {
		if e.pointers == nil {
			return nil, fmt.Errorf(
				"reading block `%d` as pointers: cached as raw bytes: %w",
				bn,
				InvalidEntryErr,
			)
		}
		return e.pointers, nil
	}

	blockSize := c.device.BlockSize()
	if blockSize%BlockPointerSize != 0 {
		// On-disk corruption: a block that cannot hold a whole number of
		// pointers is unrecoverable, never silently truncated.
		panic(fmt.Sprintf(
			"block size `%d` is not a multiple of the pointer width `%d`",
			blockSize,
			BlockPointerSize,
		))
	}

	buf := make([]byte, blockSize)
	if err := c.device.ReadBlock(bn, buf); err != nil {
		return nil, fmt.Errorf("filling cache for block `%d`: %w", bn, err)
	}
	pointers := make([]BlockNumber, blockSize/BlockPointerSize)
	decodePointers(buf, pointers)
	shared := NewShared(pointers)
	c.entries[bn] = entry{pointers: shared}
	return shared, nil
}

// WritePointers unconditionally installs pointers as block bn's cache entry,
// replacing whatever was there. This is the only sanctioned way to change an
// entry's variant. Prior handles to the replaced entry are stale.
func (c *Cache) WritePointers(
	bn BlockNumber,
	pointers []BlockNumber,
) *Shared[BlockNumber] {
	if want := c.device.BlockSize() / BlockPointerSize; Byte(len(pointers)) != want {
		panic(fmt.Sprintf(
			"pointer array for block `%d` must hold `%d` elements; found `%d`",
			bn,
			want,
			len(pointers),
		))
	}
	shared := NewShared(pointers)
	c.entries[bn] = entry{pointers: shared}
	return shared
}

// Write persists a single cached entry through to the device immediately.
func (c *Cache) Write(bn BlockNumber) error {
	e, ok := c.entries[bn]
	if !ok {
		return fmt.Errorf("writing through block `%d`: %w", bn, NotCachedErr)
	}
	if err := c.device.WriteBlock(bn, e.encode(c.device.BlockSize())); err != nil {
		return fmt.Errorf("writing through block `%d`: %w", bn, err)
	}
	return nil
}

// WriteAll writes every cached entry's current image back to the device.
// Flushing is best-effort: every entry is attempted even after a failure,
// blocks written before a failure stay persisted, and all failures are
// collected into the returned error.
func (c *Cache) WriteAll() error {
	blockSize := c.device.BlockSize()
	var err error
	for bn, e := range c.entries {
		if werr := c.device.WriteBlock(bn, e.encode(blockSize)); werr != nil {
			err = multierr.Append(
				err,
				fmt.Errorf("flushing block `%d`: %w", bn, werr),
			)
		}
	}
	return err
}
