package codec

import (
	"encoding/binary"
	"fmt"
)

// Compact size markers select the 3/5/9-byte forms; anything below 0xfd is the
// one-byte form.
const (
	markerU16 = 0xfd
	markerU32 = 0xfe
	markerU64 = 0xff
)

// DecodeCompactSize reads a self-describing variable-width integer and returns
// the value and the number of bytes consumed.
func DecodeCompactSize(b []byte) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("compact size: empty input: %w", ErrMalformedRecord)
	}
	switch marker := b[0]; marker {
	case markerU16:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("compact size marker 0x%02x needs 3 bytes, have %d: %w", marker, len(b), ErrMalformedRecord)
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case markerU32:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("compact size marker 0x%02x needs 5 bytes, have %d: %w", marker, len(b), ErrMalformedRecord)
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case markerU64:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("compact size marker 0x%02x needs 9 bytes, have %d: %w", marker, len(b), ErrMalformedRecord)
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(marker), 1, nil
	}
}
