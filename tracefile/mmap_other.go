// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package tracefile

import (
	"io"

	"github.com/pkg/errors"
)

// genericMmapRegion is the non-Linux fallback: it copies the region
// into memory once instead of mapping it, giving the same random
// access API without a platform-specific mmap call.
type genericMmapRegion struct {
	data []byte
}

func newMmapRegion(ra io.ReaderAt, offset, length int64) (mmapRegion, error) {
	buf := make([]byte, length)
	if _, err := ra.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading region")
	}
	return &genericMmapRegion{data: buf}, nil
}

func (r *genericMmapRegion) Page(n int, pageSize int) ([]byte, error) {
	start := n * pageSize
	if start < 0 || start+pageSize > len(r.data) {
		return nil, errors.Errorf("page %d out of range for region of %d bytes", n, len(r.data))
	}
	return r.data[start : start+pageSize], nil
}

func (r *genericMmapRegion) Len() int64 { return int64(len(r.data)) }

func (r *genericMmapRegion) Close() error { return nil }
