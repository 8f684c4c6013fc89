package cache

import (
	"encoding/binary"

	. "umbrella/pkg/types"
)

// The pointer codec is an explicit fixed-width pass rather than a memory
// reinterpretation; element count is preserved exactly in both directions
// (len(p) = len(pointers) * BlockPointerSize).

func encodePointers(pointers []BlockNumber, p []byte) {
	for i, bn := range pointers {
		binary.BigEndian.PutUint64(p[Byte(i)*BlockPointerSize:], uint64(bn))
	}
}

func decodePointers(p []byte, pointers []BlockNumber) {
	for i := range pointers {
		pointers[i] = BlockNumber(
			binary.BigEndian.Uint64(p[Byte(i)*BlockPointerSize:]),
		)
	}
}
