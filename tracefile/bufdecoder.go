// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import "encoding/binary"

// bufDecoder is the byte/number codec (component A): endian-aware
// fixed-width integer reads and cstring/length-prefixed string
// extraction over an in-memory buffer. The fixed-width accessors
// (u8/u16/u32/u64, skip, bytes) do not check bounds and panic if buf
// is too short, so callers check lengths first; cstring and lenString
// stop at the end of buf instead of running past it.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufDecoder) len() int { return len(b.buf) }

func (b *bufDecoder) skip(n int) {
	b.buf = b.buf[n:]
}

func (b *bufDecoder) bytes(x []byte) {
	copy(x, b.buf)
	b.buf = b.buf[len(x):]
}

func (b *bufDecoder) u8() uint8 {
	x := b.buf[0]
	b.buf = b.buf[1:]
	return x
}

func (b *bufDecoder) u16() uint16 {
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

func (b *bufDecoder) cstring() string {
	for i, c := range b.buf {
		if c == 0 {
			x := string(b.buf[:i])
			b.buf = b.buf[i+1:]
			return x
		}
	}
	x := string(b.buf)
	b.buf = nil
	return x
}

// lenString reads a u32 byte count followed by that many bytes of
// ASCII, trimming trailing NULs. A count larger than the remaining
// buffer is clamped to what remains.
func (b *bufDecoder) lenString() string {
	n := b.u32()
	if int(n) > len(b.buf) {
		n = uint32(len(b.buf))
	}
	s := string(b.buf[:n])
	b.buf = b.buf[n:]
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

// readUint reads a size-byte (1/2/4/8) unsigned integer at offset off
// of payload, in order byte order, returning ErrFieldOutOfRange if
// [off, off+size) is not within payload.
func readUint(payload []byte, off, size int, order binary.ByteOrder) (uint64, error) {
	return ReadUint(payload, off, size, order)
}

// ReadUint is readUint exported for callers outside this package
// (tracesession's initial task-table scan and entry materialization)
// that need to read a record field's raw value before they have an
// *Event to call Event.Field through.
func ReadUint(payload []byte, off, size int, order binary.ByteOrder) (uint64, error) {
	if off < 0 || size < 0 || off+size > len(payload) {
		return 0, ErrFieldOutOfRange
	}
	switch size {
	case 1:
		return uint64(payload[off]), nil
	case 2:
		return uint64(order.Uint16(payload[off:])), nil
	case 4:
		return uint64(order.Uint32(payload[off:])), nil
	case 8:
		return order.Uint64(payload[off:]), nil
	default:
		return 0, ErrFieldOutOfRange
	}
}

// readInt is readUint with sign-extension from the size'th byte's
// sign bit.
func readInt(payload []byte, off, size int, order binary.ByteOrder) (int64, error) {
	u, err := readUint(payload, off, size, order)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

// readField reads a field's raw bytes from a record payload, honoring
// spec §4.1's no-out-of-bounds guarantee.
func readField(payload []byte, off, size int) ([]byte, error) {
	if off < 0 || size < 0 || off+size > len(payload) {
		return nil, ErrFieldOutOfRange
	}
	return payload[off : off+size], nil
}
