package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "umbrella/pkg/types"
)

func tempImage(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "disk.img")
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := tempImage(t)
	dev, err := Create(path, 128, 512)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close(): unexpected err: %v", err)
	}

	opened, err := Open(path)
	if err != nil {
		t.Fatalf("Open(): unexpected err: %v", err)
	}
	defer opened.Close()
	wanted := Geometry{BlockSize: 512, BlockCount: 128}
	if opened.Geometry() != wanted {
		t.Fatalf(
			"Open(): wanted geometry `%+v`; found `%+v`",
			wanted,
			opened.Geometry(),
		)
	}
}

func TestCreateDefaultBlockSize(t *testing.T) {
	dev, err := Create(tempImage(t), 128, 0)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	defer dev.Close()
	if dev.BlockSize() != DefaultBlockSize {
		t.Fatalf(
			"Create(): wanted default block size `%d`; found `%d`",
			DefaultBlockSize,
			dev.BlockSize(),
		)
	}
}

func TestCreateRejectsZeroGeometry(t *testing.T) {
	if _, err := Create(tempImage(t), 0, 512); !errors.Is(err, BadGeometryErr) {
		t.Fatalf("Create(): wanted err `%v`; found `%v`", BadGeometryErr, err)
	}
}

func TestOpenMissingPath(t *testing.T) {
	if _, err := Open(tempImage(t)); err == nil {
		t.Fatal("Open(): wanted an err for a missing path; found nil")
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := tempImage(t)
	if err := os.WriteFile(path, make([]byte, 128*512), 0644); err != nil {
		t.Fatalf("writing image: unexpected err: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, BadMagicErr) {
		t.Fatalf("Open(): wanted err `%v`; found `%v`", BadMagicErr, err)
	}
}

func TestOpenRejectsSizeMismatch(t *testing.T) {
	path := tempImage(t)
	dev, err := Create(path, 128, 512)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close(): unexpected err: %v", err)
	}
	if err := os.Truncate(path, 64*512); err != nil {
		t.Fatalf("truncating image: unexpected err: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, SizeMismatchErr) {
		t.Fatalf("Open(): wanted err `%v`; found `%v`", SizeMismatchErr, err)
	}
}

func TestReadWriteBlock(t *testing.T) {
	dev, err := Create(tempImage(t), 128, 512)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	defer dev.Close()

	wanted := make([]byte, 512)
	for i := range wanted {
		wanted[i] = byte(i)
	}
	if err := dev.WriteBlock(5, wanted); err != nil {
		t.Fatalf("WriteBlock(): unexpected err: %v", err)
	}

	found := make([]byte, 512)
	if err := dev.ReadBlock(5, found); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	for i := range wanted {
		if found[i] != wanted[i] {
			t.Fatalf(
				"ReadBlock(): byte `%d`: wanted `%#x`; found `%#x`",
				i,
				wanted[i],
				found[i],
			)
		}
	}
}

func TestOutOfRangeAccess(t *testing.T) {
	dev, err := Create(tempImage(t), 128, 512)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, 512)
	if err := dev.ReadBlock(128, buf); !errors.Is(err, OutOfRangeErr) {
		t.Fatalf("ReadBlock(): wanted err `%v`; found `%v`", OutOfRangeErr, err)
	}
	if err := dev.WriteBlock(1024, buf); !errors.Is(err, OutOfRangeErr) {
		t.Fatalf("WriteBlock(): wanted err `%v`; found `%v`", OutOfRangeErr, err)
	}
}

func TestWrongBufferLength(t *testing.T) {
	dev, err := Create(tempImage(t), 128, 512)
	if err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	defer dev.Close()

	if err := dev.ReadBlock(1, make([]byte, 256)); !errors.Is(err, WrongBufSizeErr) {
		t.Fatalf("ReadBlock(): wanted err `%v`; found `%v`", WrongBufSizeErr, err)
	}
	if err := dev.WriteBlock(1, make([]byte, 1024)); !errors.Is(err, WrongBufSizeErr) {
		t.Fatalf("WriteBlock(): wanted err `%v`; found `%v`", WrongBufSizeErr, err)
	}
}
