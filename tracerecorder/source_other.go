// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package tracerecorder

import (
	"io"

	"github.com/pkg/errors"
)

// ReaderSource adapts a plain io.Reader to Source on platforms
// without non-blocking pipe reads: a read that returns no bytes, or
// io.EOF with no bytes, is treated as "nothing ready yet" rather than
// end of stream, since a kernel trace pipe never truly ends while the
// traced system is alive. Bytes returned together with io.EOF are
// passed on as a page.
type ReaderSource struct {
	R io.Reader
}

func (s ReaderSource) ReadPage(buf []byte) (int, error) {
	n, err := s.R.Read(buf)
	if err != nil {
		if err == io.EOF {
			if n > 0 {
				return n, nil
			}
			return 0, ErrNoData
		}
		return 0, errors.Wrap(err, "reading source")
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return n, nil
}
