// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"bufio"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Field describes one named, typed slice of an event's payload (spec
// §3 "Event", §4.2). Offset and Size locate the bytes within a
// record's payload; Signed and IsArray describe how to interpret
// them; DynamicLen marks a kernel "__data_loc" field, whose Offset and
// Size instead point at a 4-byte descriptor: low 16 bits are the
// actual field's offset, high 16 bits are its length.
type Field struct {
	Name       string
	Offset     int
	Size       int
	Signed     bool
	IsArray    bool
	DynamicLen bool
	CType      string
}

// Event is one element of the schema registry (spec §3, §4.2): a
// stable numeric id, a system/name pair, and an ordered field list.
// The four common fields (common_type, common_flags,
// common_preempt_count, common_pid) are present on every event and
// are also reachable by name through Field.
type Event struct {
	ID       int
	System   string
	Name     string
	Fields   []*Field
	PrintFmt string

	byName map[string]*Field
}

// Field looks up a field of this event by name, including the common
// fields.
func (e *Event) Field(name string) *Field {
	return e.byName[name]
}

// dataType reads common_type from a record's payload: the numeric
// event id (spec §4.2 data_type).
func (e *Event) dataType(payload []byte, order binary.ByteOrder) (int, error) {
	f := e.byName["common_type"]
	if f == nil {
		return 0, errors.Wrap(ErrFieldOutOfRange, "no common_type field")
	}
	v, err := readUint(payload, f.Offset, f.Size, order)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// dataPid reads common_pid from a record's payload (spec §4.2
// data_pid).
func (e *Event) dataPid(payload []byte, order binary.ByteOrder) (int, error) {
	f := e.byName["common_pid"]
	if f == nil {
		return 0, errors.Wrap(ErrFieldOutOfRange, "no common_pid field")
	}
	v, err := readInt(payload, f.Offset, f.Size, order)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// EventRegistry is the schema registry (component B): every known
// event, indexed by (system, name) and by id, plus the shared common
// fields and the parsing-failure counter from spec §4.2 ("Parsing is
// best-effort").
type EventRegistry struct {
	byID         map[int]*Event
	bySystemName map[string]*Event
	common       []*Field

	parsingFailures int
}

// NewEventRegistry creates an empty registry. Use ParseHeaderPage to
// establish the common fields, then AddEvent for each event's format
// text.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		byID:         make(map[int]*Event),
		bySystemName: make(map[string]*Event),
	}
}

// FindEventByName is find_event(system, name) from spec §4.2.
func (r *EventRegistry) FindEventByName(system, name string) *Event {
	return r.bySystemName[system+"/"+name]
}

// FindEventByID is find_event(id) from spec §4.2.
func (r *EventRegistry) FindEventByID(id int) *Event {
	return r.byID[id]
}

// CommonField looks up one of the shared common fields (common_type,
// common_pid, etc.) directly, without going through an Event — used
// by callers that need to read a record's event id before they know
// which Event it belongs to.
func (r *EventRegistry) CommonField(name string) *Field {
	for _, f := range r.common {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ParsingFailures returns the number of event format blocks that
// failed to parse since registry creation (spec §4.2).
func (r *EventRegistry) ParsingFailures() int { return r.parsingFailures }

// ParseHeaderPage parses the header_page descriptor text (the record
// common fields every event payload begins with) and records the
// result as the registry's common field set.
func (r *EventRegistry) ParseHeaderPage(text []byte) error {
	fields, err := parseFormatFields(text)
	if err != nil {
		return errors.Wrap(err, "parsing header_page")
	}
	r.common = fields
	return nil
}

// AddEvent parses one event's format: block (name:, ID:, format:,
// print fmt: as spec §4.2 describes) and adds it to the registry.
// Failure to parse increments ParsingFailures and returns nil: per
// spec §4.2, "individual event failures ... do not abort the registry
// build".
func (r *EventRegistry) AddEvent(text []byte) error {
	ev, err := parseEventText(text)
	if err != nil {
		r.parsingFailures++
		return nil
	}

	// Common fields are shared by every event and always come first,
	// per spec §4.2 "Order of common_* fields is fixed".
	merged := make([]*Field, 0, len(r.common)+len(ev.Fields))
	merged = append(merged, r.common...)
	merged = append(merged, ev.Fields...)
	ev.Fields = merged
	ev.byName = make(map[string]*Field, len(merged))
	for _, f := range merged {
		ev.byName[f.Name] = f
	}

	r.byID[ev.ID] = ev
	r.bySystemName[ev.System+"/"+ev.Name] = ev
	return nil
}

// ValidateEventFormat reports whether text parses as a well-formed
// event format block, without installing it in any registry. This is
// the supplemented validation step from trace-check-events.c in the
// original sources: a capture front end can run it over every known
// event's format file before a session starts and refuse to proceed
// on the first failure, instead of discovering the bad descriptor
// only once the registry silently counts it as a parsing failure.
func ValidateEventFormat(text []byte) error {
	_, err := parseEventText(text)
	return err
}

// parseEventText parses one event's "name:"/"ID:"/"format:"/
// "print fmt:" block. System is not present in the block itself (the
// trace file's event_systems section supplies it, spec §6); callers
// that need System set it on the returned Event afterward.
func parseEventText(text []byte) (*Event, error) {
	ev := &Event{System: "ftrace"}
	sc := bufio.NewScanner(strings.NewReader(string(text)))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	inFormat := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "name:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "ID:"):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "ID:")))
			if err != nil {
				return nil, errors.Wrap(err, "parsing ID")
			}
			ev.ID = id
		case line == "format:":
			inFormat = true
		case strings.HasPrefix(line, "print fmt:"):
			ev.PrintFmt = strings.TrimSpace(strings.TrimPrefix(line, "print fmt:"))
			inFormat = false
		case inFormat && strings.HasPrefix(line, "field:"):
			f, err := parseFieldLine(line)
			if err != nil {
				return nil, err
			}
			ev.Fields = append(ev.Fields, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning event text")
	}
	if ev.Name == "" {
		return nil, errors.New("event text has no name: line")
	}
	return ev, nil
}

// parseFormatFields parses a bare sequence of "field:" lines, as used
// for the header_page descriptor (which has no name/ID/print fmt
// lines of its own).
func parseFormatFields(text []byte) ([]*Field, error) {
	var fields []*Field
	sc := bufio.NewScanner(strings.NewReader(string(text)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "field:") {
			continue
		}
		f, err := parseFieldLine(line)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning format fields")
	}
	return fields, nil
}

// parseFieldLine parses one semicolon-delimited field descriptor, of
// the form the kernel writes under tracing/events/*/*/format, e.g.:
//
//	field:char prev_comm[16];	offset:8;	size:16;	signed:0;
//	field:__data_loc char[] name;	offset:20;	size:4;	signed:0;
func parseFieldLine(line string) (*Field, error) {
	f := &Field{}
	haveOffset, haveSize := false, false
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "field", "field special":
			name, ctype, isArray, dynamic := parseFieldDecl(val)
			f.Name, f.CType, f.IsArray, f.DynamicLen = name, ctype, isArray, dynamic
		case "offset":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing offset in %q", line)
			}
			f.Offset = n
			haveOffset = true
		case "size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing size in %q", line)
			}
			f.Size = n
			haveSize = true
		case "signed":
			f.Signed = val != "0"
		}
	}
	if f.Name == "" || !haveOffset || !haveSize {
		return nil, errors.Errorf("incomplete field descriptor: %q", line)
	}
	return f, nil
}

// parseFieldDecl splits a C-style declaration such as
// "char prev_comm[16]" or "__data_loc char[] name" into its field
// name, C type text, array-ness, and dynamic-length-ness. The dynamic
// form is distinguished by the kernel's "__data_loc" type prefix: the
// declared offset/size describe a 4-byte descriptor, not the data
// itself (spec §4.2 "a dynamic-length flag").
func parseFieldDecl(decl string) (name, ctype string, isArray, dynamic bool) {
	dynamic = strings.HasPrefix(decl, "__data_loc")
	decl = strings.TrimSpace(strings.TrimPrefix(decl, "__data_loc"))

	if dynamic {
		// "char[] name" style: the array brackets sit before the
		// name for the dynamic form.
		fields := strings.Fields(decl)
		if len(fields) > 0 {
			name = fields[len(fields)-1]
			ctype = strings.TrimSpace(strings.TrimSuffix(decl, name))
		}
		isArray = true
		return name, ctype, isArray, dynamic
	}

	if i := strings.IndexByte(decl, '['); i >= 0 {
		isArray = true
		rest := decl[:i]
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			name = fields[len(fields)-1]
			ctype = strings.TrimSpace(strings.Join(fields[:len(fields)-1], " "))
		}
		return name, ctype, isArray, dynamic
	}

	fields := strings.Fields(decl)
	if len(fields) > 0 {
		name = fields[len(fields)-1]
		ctype = strings.Join(fields[:len(fields)-1], " ")
	}
	return name, ctype, isArray, dynamic
}
