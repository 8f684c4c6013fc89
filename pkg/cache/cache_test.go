package cache

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	. "umbrella/pkg/types"
)

const diskGoneErr ConstError = "disk gone bad"

// fakeDevice keeps blocks in a map and can be told to fail writes to
// specific block numbers.
type fakeDevice struct {
	blockSize Byte
	blocks    map[BlockNumber][]byte
	failWrite map[BlockNumber]bool
}

func newFakeDevice(blockSize Byte) *fakeDevice {
	return &fakeDevice{
		blockSize: blockSize,
		blocks:    make(map[BlockNumber][]byte),
		failWrite: make(map[BlockNumber]bool),
	}
}

func (dev *fakeDevice) BlockSize() Byte { return dev.blockSize }

func (dev *fakeDevice) ReadBlock(bn BlockNumber, buf []byte) error {
	if stored, ok := dev.blocks[bn]; ok {
		copy(buf, stored)
		return nil
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (dev *fakeDevice) WriteBlock(bn BlockNumber, buf []byte) error {
	if dev.failWrite[bn] {
		return fmt.Errorf("writing block `%d`: %w", bn, diskGoneErr)
	}
	stored := make([]byte, len(buf))
	copy(stored, buf)
	dev.blocks[bn] = stored
	return nil
}

func TestReadSharesStorage(t *testing.T) {
	c := New(newFakeDevice(128))

	first, err := c.Read(3)
	if err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	second, err := c.Read(3)
	if err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}

	first.Items[0] = 0xaa
	if second.Items[0] != 0xaa {
		t.Fatalf(
			"mutation through one handle not visible through the other: "+
				"wanted `0xaa`; found `%#x`",
			second.Items[0],
		)
	}
}

func TestZeroReplacesDeviceContents(t *testing.T) {
	dev := newFakeDevice(128)
	stale := make([]byte, 128)
	stale[0] = 0xff
	dev.blocks[3] = stale

	c := New(dev)
	buf := c.Zero(3)
	if buf.Items[0] != 0 {
		t.Fatalf("Zero(): wanted a zeroed image; found `%#x`", buf.Items[0])
	}

	// later reads must see the installed entry, not the device bytes
	again, err := c.Read(3)
	if err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	if again.Items[0] != 0 {
		t.Fatalf("Read(): wanted the zeroed image; found `%#x`", again.Items[0])
	}
}

func TestZeroReplacesPointerEntry(t *testing.T) {
	c := New(newFakeDevice(128))
	c.WritePointers(3, make([]BlockNumber, 16))
	c.Zero(3)
	if _, err := c.Read(3); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
}

func TestReadRejectsPointerEntry(t *testing.T) {
	c := New(newFakeDevice(128))
	c.WritePointers(3, make([]BlockNumber, 16))
	if _, err := c.Read(3); !errors.Is(err, InvalidEntryErr) {
		t.Fatalf("Read(): wanted err `%v`; found `%v`", InvalidEntryErr, err)
	}
}

func TestReadPointersRejectsByteEntry(t *testing.T) {
	c := New(newFakeDevice(128))
	if _, err := c.Read(3); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	if _, err := c.ReadPointers(3); !errors.Is(err, InvalidEntryErr) {
		t.Fatalf(
			"ReadPointers(): wanted err `%v`; found `%v`",
			InvalidEntryErr,
			err,
		)
	}
}

func TestWritePointersRetags(t *testing.T) {
	c := New(newFakeDevice(128))
	if _, err := c.Read(3); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}

	wanted := make([]BlockNumber, 16)
	wanted[0] = 42
	wanted[15] = 7
	c.WritePointers(3, wanted)

	// the entry is Pointers now; raw reads must fail and pointer reads
	// must see the installed array
	if _, err := c.Read(3); !errors.Is(err, InvalidEntryErr) {
		t.Fatalf("Read(): wanted err `%v`; found `%v`", InvalidEntryErr, err)
	}
	found, err := c.ReadPointers(3)
	if err != nil {
		t.Fatalf("ReadPointers(): unexpected err: %v", err)
	}
	if diff := cmp.Diff(wanted, found.Items); diff != "" {
		t.Fatalf("ReadPointers(): unexpected diff:\n%s", diff)
	}
}

func TestPointerRoundTrip(t *testing.T) {
	dev := newFakeDevice(128)
	c := New(dev)

	wanted := make([]BlockNumber, 16)
	for i := range wanted {
		wanted[i] = BlockNumber(i * i)
	}
	c.WritePointers(9, wanted)
	if err := c.WriteAll(); err != nil {
		t.Fatalf("WriteAll(): unexpected err: %v", err)
	}

	// a fresh cache must decode the persisted bytes back to the same array
	reloaded := New(dev)
	found, err := reloaded.ReadPointers(9)
	if err != nil {
		t.Fatalf("ReadPointers(): unexpected err: %v", err)
	}
	if diff := cmp.Diff(wanted, found.Items); diff != "" {
		t.Fatalf("round trip: unexpected diff:\n%s", diff)
	}
}

func TestWriteThrough(t *testing.T) {
	dev := newFakeDevice(128)
	c := New(dev)

	buf, err := c.Read(4)
	if err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	buf.Items[0] = 0x5a
	if err := c.Write(4); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	if dev.blocks[4][0] != 0x5a {
		t.Fatalf(
			"Write(): device byte: wanted `0x5a`; found `%#x`",
			dev.blocks[4][0],
		)
	}

	if err := c.Write(5); !errors.Is(err, NotCachedErr) {
		t.Fatalf("Write(): wanted err `%v`; found `%v`", NotCachedErr, err)
	}
}

func TestWriteAllBestEffort(t *testing.T) {
	dev := newFakeDevice(128)
	c := New(dev)

	for _, bn := range []BlockNumber{1, 2, 3} {
		buf, err := c.Read(bn)
		if err != nil {
			t.Fatalf("Read(): unexpected err: %v", err)
		}
		buf.Items[0] = byte(bn)
	}
	dev.failWrite[2] = true

	err := c.WriteAll()
	if !errors.Is(err, diskGoneErr) {
		t.Fatalf("WriteAll(): wanted err `%v`; found `%v`", diskGoneErr, err)
	}
	if failures := multierr.Errors(err); len(failures) != 1 {
		t.Fatalf("WriteAll(): wanted 1 collected failure; found %d", len(failures))
	}

	// the failing block must not stop the others from being persisted
	for _, bn := range []BlockNumber{1, 3} {
		stored, ok := dev.blocks[bn]
		if !ok {
			t.Fatalf("WriteAll(): block `%d` was never written", bn)
		}
		if stored[0] != byte(bn) {
			t.Fatalf(
				"WriteAll(): block `%d` byte: wanted `%#x`; found `%#x`",
				bn,
				byte(bn),
				stored[0],
			)
		}
	}
	if _, ok := dev.blocks[2]; ok {
		t.Fatal("WriteAll(): the failing block was written anyway")
	}
}
