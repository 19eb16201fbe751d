// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"github.com/pkg/errors"
)

// CPUReader walks one CPU's page region page by page, handing each
// page's bytes to a PageDecoder and transparently moving to the next
// page once the current one is exhausted (spec §4.3, §4.7: the merge
// engine "advance[s] its decoder until a non-time-only record is
// obtained or the stream ends"). A page's header is a base timestamp
// (LongSize bytes) followed by a committed-length field (LongSize
// bytes, low bits the used byte count); the remainder of the page up
// to PageSize holds the record stream PageDecoder understands.
type CPUReader struct {
	f      *File
	cpu    int
	region mmapRegion
	pageNo int

	dec         *PageDecoder
	curPageBase int64
	hdrSize     int

	// corrupt is set once this CPU's stream has hit CorruptPage; per
	// spec §4.3 that is fatal to the iterator, so every subsequent
	// Next call returns the same error without touching the region
	// again.
	corrupt error
}

// NewCPUReader opens a reader over cpu's page region within f.
func NewCPUReader(f *File, cpu int) (*CPUReader, error) {
	region, err := f.CPURegion(cpu)
	if err != nil {
		return nil, err
	}
	return &CPUReader{f: f, cpu: cpu, region: region}, nil
}

// commitMask masks off any flag bits the kernel packs into the high
// bits of the commit field (e.g. an overwrite-discard flag); only the
// low 31 bits ever encode a page-sized length.
const commitMask = 0x7fffffff

// nextPage loads the next page from the region into r.dec, or returns
// ErrEndOfPage if the region is exhausted.
func (r *CPUReader) nextPage() error {
	pageSize := int(r.f.PageSize)
	start := r.pageNo * pageSize
	if int64(start) >= r.region.Len() {
		return ErrEndOfPage
	}
	page, err := r.region.Page(r.pageNo, pageSize)
	if err != nil {
		return errors.Wrap(ErrCorruptPage, err.Error())
	}
	r.curPageBase = int64(start)
	r.pageNo++

	hdrSize := r.f.LongSize
	if hdrSize != 4 && hdrSize != 8 {
		hdrSize = 8
	}
	r.hdrSize = hdrSize
	if len(page) < 2*hdrSize {
		return errors.Wrap(ErrCorruptPage, "page shorter than its header")
	}
	baseTS, err := readUint(page, 0, hdrSize, r.f.Order)
	if err != nil {
		return errors.Wrap(ErrCorruptPage, err.Error())
	}
	commit, err := readUint(page, hdrSize, hdrSize, r.f.Order)
	if err != nil {
		return errors.Wrap(ErrCorruptPage, err.Error())
	}
	used := int(commit & commitMask)

	body := page[2*hdrSize:]
	dec, err := NewPageDecoder(body, used, baseTS, r.f.Order)
	if err != nil {
		return err
	}
	r.dec = dec
	return nil
}

// Next returns the next data record in this CPU's stream, or
// ErrEndOfPage once the stream is exhausted, or ErrCorruptPage (fatal
// to this reader; do not call Next again afterward) if a page's
// declared used length exceeds its buffer. Use Offset immediately
// afterward to get the record's absolute position in the file (spec
// §3 Record "Offset in source stream").
func (r *CPUReader) Next() (RawRecord, error) {
	if r.corrupt != nil {
		return RawRecord{}, r.corrupt
	}
	for {
		if r.dec == nil {
			if err := r.nextPage(); err != nil {
				if errors.Is(err, ErrCorruptPage) {
					r.corrupt = err
				}
				return RawRecord{}, err
			}
		}
		rec, err := r.dec.Next()
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrEndOfPage) {
			r.dec = nil
			continue
		}
		r.corrupt = err
		return RawRecord{}, err
	}
}

// Offset returns the absolute file offset of the record most recently
// returned by Next.
func (r *CPUReader) Offset() int64 {
	regionOff := r.f.cpus[r.cpu].Offset
	return int64(regionOff) + r.curPageBase + int64(2*r.hdrSize) + int64(r.dec.LastOffset())
}
