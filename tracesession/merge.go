// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracesession implements the merge/iterator engine
// (component G) and the session/context (component H): the owner of
// an open trace file, its installed filters, the task table, and the
// handler registry.
package tracesession

import (
	"github.com/pkg/errors"

	"github.com/tracecmdgo/tracecore/tracefile"
)

// ErrDone is returned by Merger.Next and the Session iterators once
// every CPU stream is exhausted.
var ErrDone = errors.New("tracesession: no more records")

// peekSlot is a per-CPU optional slot (spec §9 "Per-CPU peek slots":
// "Implement as an array of optional slots sized by cpu_count; refill
// lazily. Do not model as a producer/consumer queue — it is strictly
// pull-driven.").
type peekSlot struct {
	rec    tracefile.RawRecord
	offset int64
	filled bool
	done   bool // this CPU's stream is exhausted
	err    error
}

// Merger is the multi-way timestamp-merge engine (component G). It
// holds one PageDecoder cursor per CPU via a tracefile.CPUReader, one
// peeked record per CPU, and implements the pull-driven next()
// operation from spec §4.7. Merger has no notion of filtering; Session
// layers the filter set and handler dispatch on top.
type Merger struct {
	readers []*tracefile.CPUReader
	peek    []peekSlot
}

// NewMerger creates a Merger with one CPUReader per CPU in f.
func NewMerger(f *tracefile.File) (*Merger, error) {
	readers := make([]*tracefile.CPUReader, f.NumCPUs())
	for cpu := range readers {
		r, err := tracefile.NewCPUReader(f, cpu)
		if err != nil {
			return nil, errors.Wrapf(err, "opening cpu %d reader", cpu)
		}
		readers[cpu] = r
	}
	return &Merger{readers: readers, peek: make([]peekSlot, len(readers))}, nil
}

// refill advances any empty, non-done peek slot until it holds a
// record or its stream ends (spec §4.7: "For each CPU with an empty
// peek slot, advance its decoder until a non-time-only record is
// obtained or the stream ends"). A CorruptPage on one CPU marks that
// CPU done without affecting the others (spec §4.3, scenario 6 in
// §8).
func (m *Merger) refill() {
	for cpu, slot := range m.peek {
		if slot.filled || slot.done {
			continue
		}
		rec, err := m.readers[cpu].Next()
		if err != nil {
			m.peek[cpu] = peekSlot{done: true, err: err}
			continue
		}
		m.peek[cpu] = peekSlot{rec: rec, offset: m.readers[cpu].Offset(), filled: true}
	}
}

// Next implements the core merge operation (spec §4.7): select the
// CPU whose peeked record has the smallest timestamp, ties broken by
// lowest CPU id, consume that slot, and return its record, CPU id,
// and source offset. It returns ErrDone once every CPU stream is
// exhausted. CorruptPage errors from individual CPUs are absorbed
// silently by refill — scenario 6 in spec §8 requires "other CPUs
// continue ... overall next() drains the remaining CPUs to
// completion", so Next itself never surfaces CorruptPage; callers
// that need to know about it should inspect CPUErr.
func (m *Merger) Next() (cpu int, rec tracefile.RawRecord, offset int64, err error) {
	m.refill()

	best := -1
	for i, slot := range m.peek {
		if !slot.filled {
			continue
		}
		if best == -1 || slot.rec.Timestamp < m.peek[best].rec.Timestamp {
			best = i
		}
	}
	if best == -1 {
		return 0, tracefile.RawRecord{}, 0, ErrDone
	}

	chosen := m.peek[best]
	m.peek[best] = peekSlot{}
	return best, chosen.rec, chosen.offset, nil
}

// CPUErr reports the terminal error (if any) a CPU's stream stopped
// with — ErrEndOfPage for a clean exhaustion, or ErrCorruptPage if
// that stream was cut short (spec §4.3).
func (m *Merger) CPUErr(cpu int) error {
	if cpu < 0 || cpu >= len(m.peek) {
		return nil
	}
	return m.peek[cpu].err
}
