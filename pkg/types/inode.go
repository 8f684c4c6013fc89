package types

import (
	"fmt"
	"strings"
)

type Ino uint64

const (
	InoNil Ino = 0
)

// INodeFlags is the type/attribute bit set stored alongside a live inode
// slot. Only the low seven bits are usable; the high bit of the on-disk slot
// byte is the allocation bit.
type INodeFlags uint8

const (
	FlagFile      INodeFlags = 1 << 0
	FlagDirectory INodeFlags = 1 << 1
	FlagSymlink   INodeFlags = 1 << 2
	FlagReadOnly  INodeFlags = 1 << 3

	flagsAll = FlagFile | FlagDirectory | FlagSymlink | FlagReadOnly

	InvalidINodeFlagsErr ConstError = "invalid inode flags"
)

func (flags INodeFlags) String() string {
	if flags == 0 {
		return "-"
	}
	var sb strings.Builder
	if flags&FlagFile != 0 {
		sb.WriteByte('f')
	}
	if flags&FlagDirectory != 0 {
		sb.WriteByte('d')
	}
	if flags&FlagSymlink != 0 {
		sb.WriteByte('s')
	}
	if flags&FlagReadOnly != 0 {
		sb.WriteByte('r')
	}
	return sb.String()
}

func (flags INodeFlags) Validate() error {
	if flags&^flagsAll != 0 {
		return fmt.Errorf(
			"validating inode flags `%#x`: %w",
			uint8(flags),
			InvalidINodeFlagsErr,
		)
	}
	return nil
}

// ParseINodeFlags parses the shell's flag syntax: a string of single-letter
// flags ("f", "d", "s", "r") or "-" for none.
func ParseINodeFlags(s string) (INodeFlags, error) {
	if s == "-" {
		return 0, nil
	}
	var flags INodeFlags
	for _, c := range s {
		switch c {
		case 'f':
			flags |= FlagFile
		case 'd':
			flags |= FlagDirectory
		case 's':
			flags |= FlagSymlink
		case 'r':
			flags |= FlagReadOnly
		default:
			return 0, fmt.Errorf(
				"parsing inode flags `%s`: unknown flag `%c`: %w",
				s,
				c,
				InvalidINodeFlagsErr,
			)
		}
	}
	return flags, nil
}
