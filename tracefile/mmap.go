// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

// mmapRegion is a read-only, randomly-addressable view of one CPU's
// page region within the container (spec §4.6 "Random access into a
// CPU stream uses mmap of the region in host page-size units"). The
// concrete implementation is platform-specific: mmap_linux.go uses
// golang.org/x/sys/unix on Linux, mmap_other.go falls back to
// ReaderAt-backed reads elsewhere.
type mmapRegion interface {
	// Page returns the bytes of the n'th host page within the region.
	Page(n int, pageSize int) ([]byte, error)
	// Len is the region's total byte length.
	Len() int64
	Close() error
}
