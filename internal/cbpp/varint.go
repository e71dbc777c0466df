package cbpp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Varuint boundary markers for the escape encoding: values below
// escape16 fit in the leading byte itself; escape16 introduces a
// 16-bit body, escape64 a 64-bit body.
const (
	escape16 byte = 0xFE
	escape64 byte = 0xFF
)

// AppendVaruint encodes v using the fast-path/escape scheme: values
// under 0xFE are a single byte, values up to 0xFFFF are escape16
// followed by a little-endian uint16, and everything else is escape64
// followed by a little-endian uint64.
func AppendVaruint(buf []byte, v uint64) []byte {
	switch {
	case v < uint64(escape16):
		return append(buf, byte(v))
	case v <= 0xFFFF:
		buf = append(buf, escape16)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		return append(buf, b[:]...)
	default:
		buf = append(buf, escape64)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return append(buf, b[:]...)
	}
}

// ReadVaruint decodes one varuint from r.
func ReadVaruint(r io.Reader) (uint64, error) {
	var lead [1]byte
	if _, err := io.ReadFull(r, lead[:]); err != nil {
		return 0, err
	}
	switch lead[0] {
	case escape16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case escape64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(lead[0]), nil
	}
}

// DecodeVaruint decodes one varuint from the front of buf, returning the
// value and the number of bytes consumed. It returns ok=false if buf does
// not yet hold a complete encoding, so callers can buffer more and retry.
func DecodeVaruint(buf []byte) (v uint64, n int, ok bool) {
	if len(buf) < 1 {
		return 0, 0, false
	}
	switch buf[0] {
	case escape16:
		if len(buf) < 3 {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, true
	case escape64:
		if len(buf) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, true
	default:
		return uint64(buf[0]), 1, true
	}
}

// AppendVarint zigzag-encodes v and appends it as a varuint, the wire
// form used by control-frame parameters.
func AppendVarint(buf []byte, v int64) []byte {
	return AppendVaruint(buf, zigzagEncode(v))
}

// DecodeVarint decodes a zigzag varint from the front of buf.
func DecodeVarint(buf []byte) (v int64, n int, ok bool) {
	u, n, ok := DecodeVaruint(buf)
	if !ok {
		return 0, 0, false
	}
	return zigzagDecode(u), n, true
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -(int64(u & 1))
}

// ErrVaruintOutOfRange is returned when a decoded varuint cannot be
// represented in the narrower type a caller requested.
var ErrVaruintOutOfRange = fmt.Errorf("cbpp: varuint out of range")
