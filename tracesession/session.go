// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracesession

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tracecmdgo/tracecore/tracefile"
	"github.com/tracecmdgo/tracecore/tracefilter"
)

// State is the session state machine from spec §4.8:
//
//	Uninit → Open (file loaded) → {Loaded, Streaming} → Closed
type State int

const (
	StateUninit State = iota
	StateOpen
	StateLoaded
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "Uninit"
	case StateOpen:
		return "Open"
	case StateLoaded:
		return "Loaded"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Visibility mask bits (spec §4.8: "a bitmask combining graph-view and
// event-view bits").
const (
	GraphView byte = 1 << iota
	EventView
)

// Entry is the lightweight decoded view from spec §3: it does not own
// payload bytes, only enough to index and filter a record; expensive
// fields are fetched lazily via Session.ReadAt at Offset.
type Entry struct {
	Timestamp uint64
	CPU       int
	EventID   int
	PID       int
	Offset    int64
	Visible   byte
}

// ErrPredicateRequiresReload is the diagnostic from spec §4.8:
// "Calling [filter_entries_in_place] with a predicate installed is a
// no-op plus a PredicateRequiresReload diagnostic."
var ErrPredicateRequiresReload = errors.New("tracesession: predicate filter requires reloading entries, not in-place filtering")

// ErrWrongState is returned when an operation is attempted outside
// the state spec §4.8 allows it in.
var ErrWrongState = errors.New("tracesession: operation not legal in current state")

// Session is the top-level owner (component H) of an open trace file,
// its filters, task table, and handler registry (spec §4.8).
// Generalized from the teacher's perfsession.Session, which owns
// per-PID state keyed by an opaque ExtraKey; here the equivalent
// owned state is session-wide rather than per-process, since the
// trace engine's "extra" state is the filter set and task table, not
// per-task extensions.
type Session struct {
	File     *tracefile.File
	Filters  *tracefilter.FilterSet
	Handlers *tracefile.HandlerRegistry
	PrintFns *tracefile.PrintFuncRegistry

	tasks *taskTable

	mu      sync.Mutex
	state   State
	entries []Entry // cached by LoadEntries, for FilterEntriesInPlace

	log *logrus.Entry
}

// New creates an unopened session.
func New() *Session {
	return &Session{
		Filters:  tracefilter.NewFilterSet(),
		Handlers: tracefile.NewHandlerRegistry(),
		PrintFns: tracefile.NewPrintFuncRegistry(),
		state:    StateUninit,
		log:      logrus.WithField("component", "tracesession"),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open adopts f as the session's file and performs the initial full
// scan that builds the task table (spec §5: "The task table is
// mutated only during the initial full scan; subsequent queries are
// read-only." and §3: "The task table is rebuilt on each file open.").
func (s *Session) Open(f *tracefile.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninit {
		return errors.Wrapf(ErrWrongState, "Open called in state %s", s.state)
	}
	s.File = f
	s.tasks = newTaskTable()

	m, err := NewMerger(f)
	if err != nil {
		return errors.Wrap(err, "opening merge engine for initial scan")
	}
	for {
		_, rec, _, err := m.Next()
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "scanning file for task table")
		}
		id, ierr := s.eventIDOf(rec.Payload)
		if ierr != nil {
			continue
		}
		ev := f.Registry.FindEventByID(id)
		if ev == nil {
			s.log.WithField("event_id", id).Debug("unknown event during task scan")
			continue
		}
		pid, perr := evPid(ev, rec.Payload, f.Order)
		if perr == nil {
			s.tasks.observe(pid)
		}
	}

	s.state = StateOpen
	return nil
}

// eventIDOf reads common_type directly, without needing an Event
// value first — used by the initial scan before the event is known.
func (s *Session) eventIDOf(payload []byte) (int, error) {
	f := s.File.Registry.CommonField("common_type")
	if f == nil {
		return 0, errors.Wrap(tracefile.ErrFieldOutOfRange, "no common_type field in registry")
	}
	v, err := tracefile.ReadUint(payload, f.Offset, f.Size, s.File.Order)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func evPid(ev *tracefile.Event, payload []byte, order binary.ByteOrder) (int, error) {
	f := ev.Field("common_pid")
	if f == nil {
		return 0, errors.Wrap(tracefile.ErrFieldOutOfRange, "no common_pid field")
	}
	v, err := tracefile.ReadUint(payload, f.Offset, f.Size, order)
	if err != nil {
		return 0, err
	}
	// common_pid is a signed 4-byte field in practice; sign-extend.
	switch f.Size {
	case 4:
		return int(int32(v)), nil
	case 2:
		return int(int16(v)), nil
	case 1:
		return int(int8(v)), nil
	default:
		return int(v), nil
	}
}

// TaskPIDs returns every pid observed in the file (spec §3 "Task
// table").
func (s *Session) TaskPIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		return nil
	}
	return s.tasks.PIDs()
}

// ReadAt reads length bytes at offset from the underlying file,
// serialized with the merge engine (spec §4.7, §5).
func (s *Session) ReadAt(offset int64, length int) ([]byte, error) {
	return s.File.ReadAt(offset, length)
}

// LoadRecords returns every record in the file in merged timestamp
// order, alongside its CPU id — spec §4.7's "Records mode": "returns
// the raw record plus CPU id, leaving field interpretation to the
// caller."
func (s *Session) LoadRecords() ([]RecordWithCPU, error) {
	s.mu.Lock()
	if s.state != StateOpen && s.state != StateLoaded {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrWrongState, "LoadRecords called in state %s", s.state)
	}
	s.mu.Unlock()

	m, err := NewMerger(s.File)
	if err != nil {
		return nil, err
	}
	var out []RecordWithCPU
	for {
		cpu, rec, offset, err := m.Next()
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, RecordWithCPU{CPU: cpu, Record: rec, Offset: offset})
	}
	return out, nil
}

// RecordWithCPU is the result element of LoadRecords.
type RecordWithCPU struct {
	CPU    int
	Record tracefile.RawRecord
	Offset int64
}

// LoadEntries decodes and filters every record into an Entry (spec
// §4.7's "Entries mode"), caches the result for FilterEntriesInPlace,
// and transitions the session to Loaded.
func (s *Session) LoadEntries() ([]Entry, error) {
	s.mu.Lock()
	if s.state != StateOpen && s.state != StateLoaded {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrWrongState, "LoadEntries called in state %s", s.state)
	}
	s.mu.Unlock()

	m, err := NewMerger(s.File)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for {
		cpu, rec, offset, err := m.Next()
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			return nil, err
		}
		e, err := s.materialize(cpu, rec, offset)
		if err != nil {
			continue
		}
		out = append(out, e)
	}

	s.mu.Lock()
	s.entries = out
	s.state = StateLoaded
	s.mu.Unlock()
	return out, nil
}

func (s *Session) materialize(cpu int, rec tracefile.RawRecord, offset int64) (Entry, error) {
	id, err := s.eventIDOf(rec.Payload)
	if err != nil {
		return Entry{}, err
	}
	ev := s.File.Registry.FindEventByID(id)
	pid := 0
	if ev != nil {
		if p, perr := evPid(ev, rec.Payload, s.File.Order); perr == nil {
			pid = p
		}
	}

	mask, verr := s.visibility(cpu, pid, id, rec.Payload)
	if verr != nil {
		return Entry{}, verr
	}

	return Entry{
		Timestamp: rec.Timestamp,
		CPU:       cpu,
		EventID:   id,
		PID:       pid,
		Offset:    offset,
		Visible:   mask,
	}, nil
}

// visibility applies the filter-mask policy from spec §4.8: entries
// that fail the task filters are cleared entirely; entries that fail
// the event filters (id-set or predicate) keep their graph-view bit
// but lose event-view, "so a filtered event still shows as a colored
// bar but does not appear in the event list".
func (s *Session) visibility(cpu, pid, eventID int, payload []byte) (byte, error) {
	taskPass := s.Filters.ShowTask.Pass(pid, false) && s.Filters.HideTask.Pass(pid, true)
	if !taskPass {
		return 0, nil
	}

	eventPass := s.Filters.ShowEvent.Pass(eventID, false) && s.Filters.HideEvent.Pass(eventID, true)

	predMatch := true
	if p, ok := s.Filters.Predicates[eventID]; ok {
		res, err := p.Eval(payload, tracefilter.Context{CPU: cpu, PID: pid}, s.File.Order)
		if err != nil {
			return 0, err
		}
		predMatch = res != tracefilter.NoMatch
	}

	if !eventPass || !predMatch {
		return GraphView, nil
	}
	return GraphView | EventView, nil
}

// FilterEntriesInPlace re-applies the currently installed id-set
// filters to the cached entries from LoadEntries, without re-reading
// payloads. Legal only in Loaded state and only if no predicate
// filter is installed (spec §4.8): a predicate requires a payload
// re-read, which in-place filtering cannot do.
func (s *Session) FilterEntriesInPlace() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoaded {
		return errors.Wrapf(ErrWrongState, "FilterEntriesInPlace called in state %s", s.state)
	}
	if len(s.Filters.Predicates) > 0 {
		s.log.Warn("FilterEntriesInPlace is a no-op with a predicate filter installed")
		return ErrPredicateRequiresReload
	}
	for i, e := range s.entries {
		taskPass := s.Filters.ShowTask.Pass(e.PID, false) && s.Filters.HideTask.Pass(e.PID, true)
		if !taskPass {
			s.entries[i].Visible = 0
			continue
		}
		eventPass := s.Filters.ShowEvent.Pass(e.EventID, false) && s.Filters.HideEvent.Pass(e.EventID, true)
		if !eventPass {
			s.entries[i].Visible = GraphView
			continue
		}
		s.entries[i].Visible = GraphView | EventView
	}
	return nil
}

// DumpEntry renders an Entry as a one-line human-readable string
// (spec §4.8 "a per-entry dump-to-string used by the UI").
func (s *Session) DumpEntry(e Entry) string {
	ev := s.File.Registry.FindEventByID(e.EventID)
	name := "<unknown>"
	if ev != nil {
		name = ev.System + "/" + ev.Name
	}
	return fmt.Sprintf("cpu=%d ts=%d pid=%d %s", e.CPU, e.Timestamp, e.PID, name)
}

// Close releases the underlying file's mmap'd regions and transitions
// to Closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.File != nil {
		return s.File.Close()
	}
	return nil
}
