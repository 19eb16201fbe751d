// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func recHeader(typeLen uint32, delta uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], (delta<<5)|(typeLen&0x1f))
	return buf[:]
}

func TestPageDecoderDataRecord(t *testing.T) {
	var page []byte
	page = append(page, recHeader(2, 5)...) // type_len=2 -> 8-byte payload, delta=5
	page = append(page, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0}...)

	dec, err := NewPageDecoder(page, len(page), 100, binary.LittleEndian)
	require.NoError(t, err)

	rec, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(105), rec.Timestamp)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0}, rec.Payload)

	_, err = dec.Next()
	require.ErrorIs(t, err, ErrEndOfPage)
}

func TestPageDecoderZeroHeaderEndsPage(t *testing.T) {
	page := make([]byte, 16)
	dec, err := NewPageDecoder(page, len(page), 0, binary.LittleEndian)
	require.NoError(t, err)
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrEndOfPage)
}

func TestPageDecoderPaddingToEnd(t *testing.T) {
	var page []byte
	page = append(page, recHeader(recTypePadding, 0)...) // delta 0 -> rest of page is padding
	page = append(page, make([]byte, 12)...)

	dec, err := NewPageDecoder(page, len(page), 0, binary.LittleEndian)
	require.NoError(t, err)
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrEndOfPage)
}

func TestPageDecoderExplicitPadding(t *testing.T) {
	var page []byte
	page = append(page, recHeader(recTypePadding, 3)...) // delta != 0 -> explicit length follows
	padLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(padLen, 4)
	page = append(page, padLen...)
	page = append(page, make([]byte, 4)...) // the 4 bytes of padding

	page = append(page, recHeader(1, 2)...) // a 4-byte data record after the padding
	page = append(page, []byte{1, 2, 3, 4}...)

	dec, err := NewPageDecoder(page, len(page), 1000, binary.LittleEndian)
	require.NoError(t, err)
	rec, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(1002), rec.Timestamp)
	require.Equal(t, []byte{1, 2, 3, 4}, rec.Payload)
}

func TestPageDecoderTimeExtend(t *testing.T) {
	var page []byte
	page = append(page, recHeader(recTypeTimeExtend, 7)...)
	ext := make([]byte, 4)
	binary.LittleEndian.PutUint32(ext, 1)
	page = append(page, ext...)

	page = append(page, recHeader(1, 3)...)
	page = append(page, []byte{9, 9, 9, 9}...)

	dec, err := NewPageDecoder(page, len(page), 0, binary.LittleEndian)
	require.NoError(t, err)
	rec, err := dec.Next()
	require.NoError(t, err)
	wantDelta := uint64(7) | (uint64(1) << 27)
	require.Equal(t, wantDelta+3, rec.Timestamp)
}

func TestPageDecoderTimeStamp(t *testing.T) {
	var page []byte
	page = append(page, recHeader(recTypeTimeStamp, 0)...)
	abs := make([]byte, 8)
	binary.LittleEndian.PutUint64(abs, 9999)
	page = append(page, abs...)

	page = append(page, recHeader(1, 1)...)
	page = append(page, []byte{1, 1, 1, 1}...)

	dec, err := NewPageDecoder(page, len(page), 0, binary.LittleEndian)
	require.NoError(t, err)
	rec, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(10000), rec.Timestamp)
}

func TestPageDecoderBigEvent(t *testing.T) {
	var page []byte
	page = append(page, recHeader(0, 5)...) // type_len=0, delta=5 -> big event

	payload := make([]byte, 200) // over the 112-byte inline maximum
	for i := range payload {
		payload[i] = byte(i)
	}
	rawLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(rawLen, uint32(len(payload)+4)) // length includes itself
	page = append(page, rawLen...)
	page = append(page, payload...)

	dec, err := NewPageDecoder(page, len(page), 100, binary.LittleEndian)
	require.NoError(t, err)

	rec, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(105), rec.Timestamp)
	require.Equal(t, payload, rec.Payload)

	_, err = dec.Next()
	require.ErrorIs(t, err, ErrEndOfPage)
}

func TestPageDecoderBigEventTruncatedIsCorrupt(t *testing.T) {
	var page []byte
	page = append(page, recHeader(0, 1)...)
	rawLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(rawLen, 1000) // claims far more data than the page holds
	page = append(page, rawLen...)
	page = append(page, make([]byte, 4)...)

	dec, err := NewPageDecoder(page, len(page), 0, binary.LittleEndian)
	require.NoError(t, err)
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrCorruptPage)
}

func TestPageDecoderUsedLengthExceedsBuffer(t *testing.T) {
	page := make([]byte, 16)
	_, err := NewPageDecoder(page, 100, 0, binary.LittleEndian)
	require.ErrorIs(t, err, ErrCorruptPage)
}
