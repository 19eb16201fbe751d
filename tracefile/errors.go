// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import "errors"

// Sentinel errors surfaced by the trace file codec and page decoder.
//
// Callers should compare against these with errors.Is; wrapped causes
// (via github.com/pkg/errors) keep the underlying I/O or syscall error
// available for logging.
var (
	// ErrBadFile indicates a structural error in the container
	// format itself. It is fatal to the whole file.
	ErrBadFile = errors.New("tracefile: bad or unsupported file")

	// ErrCorruptPage indicates a single page's declared used length
	// exceeds the page buffer. It is fatal only to the CPU stream
	// that produced it.
	ErrCorruptPage = errors.New("tracefile: corrupt page")

	// ErrFieldOutOfRange indicates a field access beyond the bounds
	// of a record's payload.
	ErrFieldOutOfRange = errors.New("tracefile: field out of range")

	// ErrUnknownEvent indicates a decoded event id has no matching
	// entry in the schema registry. Records with this error are
	// still surfaced to the caller as a placeholder event.
	ErrUnknownEvent = errors.New("tracefile: unknown event")

	// ErrEndOfPage is returned by the page decoder when a page has
	// no further records.
	ErrEndOfPage = errors.New("tracefile: end of page")
)
