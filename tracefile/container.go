// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracefile implements the trace data engine's core codecs:
// the byte/number codec (A), the event schema registry (B), the
// ring-buffer page decoder (C), and the multi-section trace file
// container codec (F).
package tracefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// magic is the 8-byte container signature from spec §6: 0x17 followed
// by the ASCII bytes "TRACING".
var magic = [8]byte{0x17, 'T', 'R', 'A', 'C', 'I', 'N', 'G'}

// Option tags (spec §6).
const (
	OptEnd        uint16 = 0
	OptDate       uint16 = 1
	OptCPUStat    uint16 = 2
	OptBuffer     uint16 = 3
	OptTraceClock uint16 = 4
	OptUname      uint16 = 5
	OptHook       uint16 = 6
	OptOffset     uint16 = 7
	OptCPUCount   uint16 = 8
	OptVersion    uint16 = 9
	OptProcMaps   uint16 = 10
	OptTraceID    uint16 = 11
	OptTimeShift  uint16 = 12
	OptGuest      uint16 = 13
)

// Option is one tagged key/length/value entry from the container's
// options vector (spec §3 "options vector", §4.6 step 8).
type Option struct {
	Tag  uint16
	Data []byte
}

// cpuRegion is the (offset, length) pair for one CPU's page stream
// (spec §6 "per_cpu_region").
type cpuRegion struct {
	Offset uint64
	Length uint64
}

// File is an opened trace file container (component F), holding
// everything the read path needs: the parsed header, the event
// schema registry (B), the symbol table, the options, and random
// access into each CPU's page region. It is built once at Open and
// immutable afterward (spec §3 "Lifecycles").
type File struct {
	Version  string
	Order    binary.ByteOrder
	LongSize int
	PageSize uint32

	Registry    *EventRegistry
	Symbols     *SymbolTable
	PrintkFmts  map[uint64]string
	Options     []Option

	cpus   []cpuRegion
	ra     io.ReaderAt
	// raMu serializes read_at against the merge engine's own reads of
	// the same underlying reader, per spec §4.7's "the underlying raw
	// file reader is not re-entrant" rule and §9's open question: we
	// document the serialization rule rather than guess its root
	// cause.
	raMu sync.Mutex

	regions []mmapRegion // lazily mmap'd per-CPU regions, parallel to cpus
}

// NumCPUs returns the number of per-CPU regions recorded in the file.
func (f *File) NumCPUs() int { return len(f.cpus) }

// Open parses a trace file container from r (spec §4.6 "Read path").
// r must also support io.ReaderAt for the per-CPU region random
// access Open sets up.
func Open(r io.ReadSeeker) (*File, error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, errors.Wrap(ErrBadFile, "reader does not support ReaderAt")
	}

	br := bufio.NewReader(r)
	f := &File{PrintkFmts: make(map[uint64]string), ra: ra}

	var gotMagic [8]byte
	if _, err := io.ReadFull(br, gotMagic[:]); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading magic: "+err.Error())
	}
	if gotMagic != magic {
		return nil, errors.Wrap(ErrBadFile, "bad magic")
	}

	version, err := readCString(br)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading version: "+err.Error())
	}
	f.Version = version

	var endian, longsize uint8
	if err := binary.Read(br, binary.LittleEndian, &endian); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading endian byte")
	}
	switch endian {
	case 0:
		f.Order = binary.LittleEndian
	case 1:
		f.Order = binary.BigEndian
	default:
		return nil, errors.Wrap(ErrBadFile, "unrecognized endian byte")
	}
	if err := binary.Read(br, binary.LittleEndian, &longsize); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading longsize byte")
	}
	f.LongSize = int(longsize)

	var pagesize uint32
	if err := binary.Read(br, f.Order, &pagesize); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading page size")
	}
	f.PageSize = pagesize

	headerPage, err := readSizedBlob(br, f.Order)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading header_page: "+err.Error())
	}
	if _, err := readSizedBlob(br, f.Order); err != nil { // header_event, unused by the engine
		return nil, errors.Wrap(ErrBadFile, "reading header_event: "+err.Error())
	}

	f.Registry = NewEventRegistry()
	if err := f.Registry.ParseHeaderPage(headerPage); err != nil {
		return nil, errors.Wrap(ErrBadFile, "parsing header_page: "+err.Error())
	}

	var ftraceCount uint32
	if err := binary.Read(br, f.Order, &ftraceCount); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading ftrace_events count")
	}
	for i := uint32(0); i < ftraceCount; i++ {
		blob, err := readSizedBlob(br, f.Order)
		if err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading ftrace event: "+err.Error())
		}
		f.Registry.AddEvent(blob)
	}

	var systemCount uint32
	if err := binary.Read(br, f.Order, &systemCount); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading event_systems count")
	}
	for i := uint32(0); i < systemCount; i++ {
		name, err := readCString(br)
		if err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading system name: "+err.Error())
		}
		var count uint32
		if err := binary.Read(br, f.Order, &count); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading system event count")
		}
		for j := uint32(0); j < count; j++ {
			blob, err := readSizedBlob(br, f.Order)
			if err != nil {
				return nil, errors.Wrap(ErrBadFile, "reading system event: "+err.Error())
			}
			ev, perr := parseEventText(blob)
			if perr != nil {
				f.Registry.parsingFailures++
				continue
			}
			ev.System = name
			merged := make([]*Field, 0, len(f.Registry.common)+len(ev.Fields))
			merged = append(merged, f.Registry.common...)
			merged = append(merged, ev.Fields...)
			ev.Fields = merged
			ev.byName = make(map[string]*Field, len(merged))
			for _, fld := range merged {
				ev.byName[fld.Name] = fld
			}
			f.Registry.byID[ev.ID] = ev
			f.Registry.bySystemName[ev.System+"/"+ev.Name] = ev
		}
	}

	symBytes, err := readSizedSection(br, f.Order)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading symbols section: "+err.Error())
	}
	f.Symbols, err = ParseSymbols(symBytes)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, "parsing symbols: "+err.Error())
	}

	printkBytes, err := readSizedSection(br, f.Order)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading printk_fmts section: "+err.Error())
	}
	f.PrintkFmts = parsePrintkFmts(printkBytes)

	opts, err := readOptions(br, f.Order)
	if err != nil {
		return nil, err
	}
	f.Options = opts

	var cpuCount uint32
	if err := binary.Read(br, f.Order, &cpuCount); err != nil {
		return nil, errors.Wrap(ErrBadFile, "reading cpu count")
	}
	f.cpus = make([]cpuRegion, cpuCount)
	for i := range f.cpus {
		var off, length uint64
		if err := binary.Read(br, f.Order, &off); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading cpu offset")
		}
		if err := binary.Read(br, f.Order, &length); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading cpu length")
		}
		f.cpus[i] = cpuRegion{Offset: off, Length: length}
	}
	f.regions = make([]mmapRegion, len(f.cpus))

	return f, nil
}

// ReadAt reads length bytes at offset from the underlying raw file,
// serialized against concurrent merge-engine reads under f.raMu (spec
// §4.7, §5 "the trace-file handle is shared ... under one mutex per
// session").
func (f *File) ReadAt(offset int64, length int) ([]byte, error) {
	f.raMu.Lock()
	defer f.raMu.Unlock()
	buf := make([]byte, length)
	if _, err := f.ra.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read_at")
	}
	return buf, nil
}

// CPURegion returns a random-access view of cpu's page stream within
// the file's underlying reader, mmap'd in host page-size units the
// first time it's requested (spec §4.6 "Random access into
// a CPU stream uses mmap of the region in host page-size units").
func (f *File) CPURegion(cpu int) (mmapRegion, error) {
	if cpu < 0 || cpu >= len(f.cpus) {
		return nil, errors.Errorf("cpu %d out of range (have %d)", cpu, len(f.cpus))
	}
	f.raMu.Lock()
	defer f.raMu.Unlock()
	if f.regions[cpu] != nil {
		return f.regions[cpu], nil
	}
	r := f.cpus[cpu]
	region, err := newMmapRegion(f.ra, int64(r.Offset), int64(r.Length))
	if err != nil {
		return nil, errors.Wrapf(err, "mmap cpu %d region", cpu)
	}
	f.regions[cpu] = region
	return region, nil
}

// Close releases any mmap'd CPU regions.
func (f *File) Close() error {
	f.raMu.Lock()
	defer f.raMu.Unlock()
	var first error
	for _, r := range f.regions {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func readCString(br *bufio.Reader) (string, error) {
	s, err := br.ReadString(0)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(s, "\x00"), nil
}

// readSizedBlob reads a u64 size followed by that many bytes, the
// "size || bytes" shape used throughout spec §6 for event text
// blocks.
func readSizedBlob(br io.Reader, order binary.ByteOrder) ([]byte, error) {
	var size uint64
	if err := binary.Read(br, order, &size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readSizedSection reads a u32 size followed by that many bytes, used
// by the symbols and printk_fmts sections (spec §6).
func readSizedSection(br io.Reader, order binary.ByteOrder) ([]byte, error) {
	var size uint32
	if err := binary.Read(br, order, &size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// parsePrintkFmts parses the printk-format table: lines of the form
// "0xADDR : fmt string", with one pair of surrounding double quotes
// removed from the format string when present.
func parsePrintkFmts(text []byte) map[uint64]string {
	out := make(map[uint64]string)
	sc := bufio.NewScanner(bytes.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		addrText, fmtText, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		addrText = strings.TrimSpace(addrText)
		addrText = strings.TrimPrefix(addrText, "0x")
		addr, err := strconv.ParseUint(addrText, 16, 64)
		if err != nil {
			continue
		}
		fmtText = strings.TrimSpace(fmtText)
		if len(fmtText) >= 2 && fmtText[0] == '"' && fmtText[len(fmtText)-1] == '"' {
			fmtText = fmtText[1 : len(fmtText)-1]
		}
		out[addr] = fmtText
	}
	return out
}

// readOptions reads the options vector: (u16 tag, u32 len, bytes)
// repeated, terminated by tag 0 (spec §4.6 step 8, §6). A bad tag
// with a valid declared length is skipped per spec §4.6's failure
// semantics; only a length that would run past readable data is
// BadFile.
func readOptions(br io.Reader, order binary.ByteOrder) ([]Option, error) {
	var opts []Option
	for {
		var tag uint16
		if err := binary.Read(br, order, &tag); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading option tag: "+err.Error())
		}
		if tag == OptEnd {
			return opts, nil
		}
		var length uint32
		if err := binary.Read(br, order, &length); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading option length: "+err.Error())
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, errors.Wrap(ErrBadFile, "reading option data: "+err.Error())
		}
		if tag > OptGuest {
			continue
		}
		opts = append(opts, Option{Tag: tag, Data: data})
	}
}

// Writer assembles a trace file container (component F, write path;
// spec §4.6 steps 1-9). A Writer is single-use: call each Write method
// at most once in order, then WriteCPURegions last.
type Writer struct {
	w     io.Writer
	order binary.ByteOrder
}

// NewWriter creates a Writer that emits a container to w, with
// version and endianness fixed at construction as spec §6 requires
// them to appear first.
func NewWriter(w io.Writer, version string, order binary.ByteOrder, longSize int, pageSize uint32) (*Writer, error) {
	if _, err := w.Write(magic[:]); err != nil {
		return nil, errors.Wrap(err, "writing magic")
	}
	if _, err := io.WriteString(w, version+"\x00"); err != nil {
		return nil, errors.Wrap(err, "writing version")
	}
	endian := uint8(0)
	if order == binary.BigEndian {
		endian = 1
	}
	if err := binary.Write(w, binary.LittleEndian, endian); err != nil {
		return nil, errors.Wrap(err, "writing endian byte")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(longSize)); err != nil {
		return nil, errors.Wrap(err, "writing longsize byte")
	}
	if err := binary.Write(w, order, pageSize); err != nil {
		return nil, errors.Wrap(err, "writing page size")
	}
	return &Writer{w: w, order: order}, nil
}

// WriteHeaderDescs emits the header_page and header_event descriptor
// blobs (spec §6 steps following pagesize).
func (wr *Writer) WriteHeaderDescs(headerPage, headerEvent []byte) error {
	if err := wr.writeSizedBlob(headerPage); err != nil {
		return errors.Wrap(err, "writing header_page")
	}
	if err := wr.writeSizedBlob(headerEvent); err != nil {
		return errors.Wrap(err, "writing header_event")
	}
	return nil
}

// WriteFtraceEvents emits the ftrace_events section (spec §4.6 step
// 4): count, then (size, bytes) per blob.
func (wr *Writer) WriteFtraceEvents(blobs [][]byte) error {
	if err := binary.Write(wr.w, wr.order, uint32(len(blobs))); err != nil {
		return errors.Wrap(err, "writing ftrace_events count")
	}
	for _, b := range blobs {
		if err := wr.writeSizedBlob(b); err != nil {
			return errors.Wrap(err, "writing ftrace event")
		}
	}
	return nil
}

// EventSystem is one named group of event format blobs (spec §4.6
// step 5).
type EventSystem struct {
	Name   string
	Events [][]byte
}

// WriteEventSystems emits the event_systems section.
func (wr *Writer) WriteEventSystems(systems []EventSystem) error {
	if err := binary.Write(wr.w, wr.order, uint32(len(systems))); err != nil {
		return errors.Wrap(err, "writing event_systems count")
	}
	for _, sys := range systems {
		if _, err := io.WriteString(wr.w, sys.Name+"\x00"); err != nil {
			return errors.Wrap(err, "writing system name")
		}
		if err := binary.Write(wr.w, wr.order, uint32(len(sys.Events))); err != nil {
			return errors.Wrap(err, "writing system event count")
		}
		for _, b := range sys.Events {
			if err := wr.writeSizedBlob(b); err != nil {
				return errors.Wrap(err, "writing system event")
			}
		}
	}
	return nil
}

// WriteSymbols emits the symbols section (spec §4.6 step 6).
func (wr *Writer) WriteSymbols(text []byte) error {
	return wr.writeSizedSection(text)
}

// WritePrintkFmts emits the printk_fmts section (spec §4.6 step 7).
func (wr *Writer) WritePrintkFmts(text []byte) error {
	return wr.writeSizedSection(text)
}

// WriteOptions emits the options vector terminated by tag 0 (spec
// §4.6 step 8).
func (wr *Writer) WriteOptions(opts []Option) error {
	for _, o := range opts {
		if o.Tag == OptEnd {
			continue
		}
		if err := binary.Write(wr.w, wr.order, o.Tag); err != nil {
			return errors.Wrap(err, "writing option tag")
		}
		if err := binary.Write(wr.w, wr.order, uint32(len(o.Data))); err != nil {
			return errors.Wrap(err, "writing option length")
		}
		if _, err := wr.w.Write(o.Data); err != nil {
			return errors.Wrap(err, "writing option data")
		}
	}
	return binary.Write(wr.w, wr.order, OptEnd)
}

// WriteCPURegions emits the per-CPU offset/length table followed by
// each CPU's raw page bytes, verbatim (spec §4.6 step 9). The offsets
// recorded are relative to the start of the whole container; callers
// building one up front should track bytes written so far and pass it
// in via baseOffset.
func (wr *Writer) WriteCPURegions(baseOffset int64, regions [][]byte) error {
	if err := binary.Write(wr.w, wr.order, uint32(len(regions))); err != nil {
		return errors.Wrap(err, "writing cpu count")
	}
	off := baseOffset + 4 + int64(len(regions))*16
	for _, r := range regions {
		if err := binary.Write(wr.w, wr.order, uint64(off)); err != nil {
			return errors.Wrap(err, "writing cpu offset")
		}
		if err := binary.Write(wr.w, wr.order, uint64(len(r))); err != nil {
			return errors.Wrap(err, "writing cpu length")
		}
		off += int64(len(r))
	}
	for _, r := range regions {
		if _, err := wr.w.Write(r); err != nil {
			return errors.Wrap(err, "writing cpu page data")
		}
	}
	return nil
}

func (wr *Writer) writeSizedBlob(b []byte) error {
	if err := binary.Write(wr.w, wr.order, uint64(len(b))); err != nil {
		return err
	}
	_, err := wr.w.Write(b)
	return err
}

func (wr *Writer) writeSizedSection(b []byte) error {
	if err := binary.Write(wr.w, wr.order, uint32(len(b))); err != nil {
		return err
	}
	_, err := wr.w.Write(b)
	return err
}
