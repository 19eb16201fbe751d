// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Record header type_len values. A record header is a 32-bit word:
// the low 5 bits are the type (or, for an inline data record, the
// record's length in 4-byte words), the remaining 27 bits are a
// relative time delta. This is the on-disk ring-buffer page format
// spec §3/§4.3 describes abstractly; recTypeDataMax..recTypeTimeStamp
// are the reserved type_len values that distinguish a data record
// from the three non-data record kinds in spec §4.3.
const (
	recTypeDataMax   = 28 // type_len in [1, recTypeDataMax] is an inline data record of type_len*4 bytes
	recTypePadding   = 29 // padding to page end, or an explicit-length pad if time_delta != 0
	recTypeTimeExtend = 30 // wide 59-bit delta update, not surfaced
	recTypeTimeStamp  = 31 // absolute timestamp override, not surfaced
)

// RawRecord is a single decoded record from a page: an absolute
// timestamp and the record's opaque payload bytes. RawRecord does not
// include CPU or file offset; callers that need those (the merge
// engine) attach them alongside.
type RawRecord struct {
	Timestamp uint64
	Payload   []byte
}

// PageDecoder iterates the variable-length records within one
// ring-buffer page (component C). A page is self-contained: given the
// page bytes and nothing else, PageDecoder can produce every record
// in it. State carried between calls to Next is the byte cursor and
// the running absolute timestamp.
type PageDecoder struct {
	buf   []byte
	pos   int
	ts    uint64
	order binary.ByteOrder

	// lastOffset is the in-page byte offset of the most recently
	// returned record's header, for callers that need to reconstruct
	// an absolute source-stream offset (spec §3 Record "Offset in
	// source stream").
	lastOffset int
}

// NewPageDecoder creates a decoder over a page's first used bytes.
// baseTimestamp is the page's base timestamp (spec §3); used is the
// page's declared used-bytes length. If used exceeds len(buf), the
// page is corrupt (spec §4.3) and NewPageDecoder returns
// ErrCorruptPage; the caller should abandon this CPU's stream but may
// continue with others.
func NewPageDecoder(buf []byte, used int, baseTimestamp uint64, order binary.ByteOrder) (*PageDecoder, error) {
	if used < 0 || used > len(buf) {
		return nil, errors.Wrapf(ErrCorruptPage, "used length %d exceeds page buffer of %d bytes", used, len(buf))
	}
	return &PageDecoder{buf: buf[:used], ts: baseTimestamp, order: order}, nil
}

// Next returns the next data record in the page, or ErrEndOfPage once
// the page is exhausted. Extended-timestamp updates, absolute
// timestamp overrides, and padding records are consumed internally and
// never surfaced; they only affect the running timestamp and cursor.
func (d *PageDecoder) Next() (RawRecord, error) {
	for {
		if len(d.buf)-d.pos < 4 {
			return RawRecord{}, ErrEndOfPage
		}
		recStart := d.pos
		hdr := d.order.Uint32(d.buf[d.pos:])
		if hdr == 0 {
			// A zeroed-out header is the tie-break from spec §4.3:
			// zero-length payload and zero delta mark end of page.
			return RawRecord{}, ErrEndOfPage
		}
		typeLen := hdr & 0x1f
		delta := uint64(hdr >> 5)
		d.pos += 4

		switch {
		case typeLen == 0 && delta != 0:
			// "Big event": a payload too large for the 5-bit/28-word
			// inline encoding (e.g. bprint/trace_marker/__data_loc-
			// bearing events over 112 bytes) stores its real byte
			// length, including the length word itself, in the next
			// u32 instead of in type_len. Not spelled out in spec
			// §4.3, but required by the real ring-buffer/kbuffer wire
			// format for CorruptPage to remain fatal only on genuine
			// corruption.
			if d.pos+4 > len(d.buf) {
				return RawRecord{}, errors.Wrap(ErrCorruptPage, "truncated big-event length")
			}
			rawLen := int(d.order.Uint32(d.buf[d.pos:]))
			d.pos += 4
			length := rawLen - 4
			if length < 0 || d.pos+length > len(d.buf) {
				return RawRecord{}, errors.Wrapf(ErrCorruptPage, "big-event length %d overruns page", length)
			}
			d.ts += delta
			payload := d.buf[d.pos : d.pos+length]
			d.pos += length
			d.lastOffset = recStart
			return RawRecord{Timestamp: d.ts, Payload: payload}, nil

		case typeLen >= 1 && typeLen <= recTypeDataMax:
			length := int(typeLen) * 4
			if d.pos+length > len(d.buf) {
				return RawRecord{}, errors.Wrapf(ErrCorruptPage, "record length %d overruns page", length)
			}
			d.ts += delta
			payload := d.buf[d.pos : d.pos+length]
			d.pos += length
			d.lastOffset = recStart
			return RawRecord{Timestamp: d.ts, Payload: payload}, nil

		case typeLen == recTypePadding:
			if delta == 0 {
				// Rest of the page is padding.
				return RawRecord{}, ErrEndOfPage
			}
			if d.pos+4 > len(d.buf) {
				return RawRecord{}, errors.Wrap(ErrCorruptPage, "truncated padding length")
			}
			padLen := int(d.order.Uint32(d.buf[d.pos:]))
			d.pos += 4
			if padLen < 0 || d.pos+padLen > len(d.buf) {
				return RawRecord{}, errors.Wrap(ErrCorruptPage, "padding overruns page")
			}
			d.pos += padLen
			// Not surfaced; loop for the next record.

		case typeLen == recTypeTimeExtend:
			if d.pos+4 > len(d.buf) {
				return RawRecord{}, errors.Wrap(ErrCorruptPage, "truncated time-extend record")
			}
			ext := uint64(d.order.Uint32(d.buf[d.pos:]))
			d.pos += 4
			d.ts += delta | (ext << 27)
			// Not surfaced; loop for the next record.

		case typeLen == recTypeTimeStamp:
			if d.pos+8 > len(d.buf) {
				return RawRecord{}, errors.Wrap(ErrCorruptPage, "truncated time-stamp record")
			}
			d.ts = d.order.Uint64(d.buf[d.pos:])
			d.pos += 8
			// Not surfaced; loop for the next record.

		default:
			return RawRecord{}, errors.Wrapf(ErrCorruptPage, "reserved record type %d", typeLen)
		}
	}
}

// Timestamp returns the decoder's current running timestamp, which is
// page_base + the sum of every delta consumed so far (spec §3
// invariant).
func (d *PageDecoder) Timestamp() uint64 { return d.ts }

// LastOffset returns the in-page byte offset of the header of the
// most recently returned record.
func (d *PageDecoder) LastOffset() int { return d.lastOffset }
