package alloc

const bitsPerByte = 8

// Bitmap is a fixed-size bit array laid out across one or more equally-sized
// byte chunks. The chunks alias the cache's block images, so setting or
// clearing a bit mutates the cached block in place and the cache's flush
// persists the map with no separate step. Bits are MSB-first within a byte.
type Bitmap struct {
	chunks [][]byte
	bits   uint64
}

func NewBitmap(chunks [][]byte, bits uint64) Bitmap {
	return Bitmap{chunks: chunks, bits: bits}
}

func (bm Bitmap) Len() uint64 { return bm.bits }

// FirstZero returns the lowest clear bit, scanning deterministically from
// bit 0.
func (bm Bitmap) FirstZero() (uint64, bool) {
	var base uint64
	for _, chunk := range bm.chunks {
		for i, byt := range chunk {
			if bit := byteFirstZero(byt); bit != 0xff {
				n := base + uint64(i)*bitsPerByte + uint64(bit)
				if n >= bm.bits {
					return 0, false
				}
				return n, true
			}
		}
		base += uint64(len(chunk)) * bitsPerByte
	}
	return 0, false
}

func (bm Bitmap) Set(i uint64) {
	byt, bit := bm.locate(i)
	*byt = byteSetHigh(*byt, bit)
}

func (bm Bitmap) Clear(i uint64) {
	byt, bit := bm.locate(i)
	*byt = byteSetLow(*byt, bit)
}

func (bm Bitmap) IsSet(i uint64) bool {
	byt, bit := bm.locate(i)
	return !byteIsZero(*byt, bit)
}

func (bm Bitmap) locate(i uint64) (*byte, uint8) {
	perChunk := uint64(len(bm.chunks[0])) * bitsPerByte
	chunk := bm.chunks[i/perChunk]
	return &chunk[(i%perChunk)/bitsPerByte], uint8(i % bitsPerByte)
}

func byteIsZero(byt byte, bit uint8) bool {
	return byt&(0b1000_0000>>bit) == 0
}

func byteSetHigh(byt byte, bit uint8) byte {
	return byt | (0b1000_0000 >> bit)
}

func byteSetLow(byt byte, bit uint8) byte {
	return byt & ^(0b1000_0000 >> bit)
}

func byteFirstZero(byt byte) uint8 {
	for bit := uint8(0); bit < bitsPerByte; bit++ {
		if byteIsZero(byt, bit) {
			return bit
		}
	}
	return 0xff
}
