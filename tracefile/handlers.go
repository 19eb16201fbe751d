// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Handler is a pretty-printer registered against one or more events
// (spec §4.5, §9 "Event-handler dispatch"). It receives the resolved
// event, the record's raw payload, and a sink to append formatted
// text to; it returns false if it declines to handle the record
// (letting a later-registered handler, or the default print fmt
// evaluator, take over). Modeled on trace-ftrace.c's
// pevent_register_event_handler / function_handler pair: there, a
// handler is registered by (system, event, function) and invoked
// during pretty-printing with the chance to take over formatting.
type Handler func(ev *Event, payload []byte, sink *strings.Builder) bool

// handlerKey is the (system, event) pair a Handler is registered
// under. An empty System or Name field means "any", resolved at print
// time the way spec §9 describes.
type handlerKey struct {
	system string
	name   string
}

// HandlerRegistry maps (system, event) to an ordered list of Handlers
// (spec §9: "a mapping from (system, event) to a list of handler
// values; registration may be keyed with wildcard system/event,
// resolved at print time").
type HandlerRegistry struct {
	handlers map[handlerKey][]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[handlerKey][]Handler)}
}

// Register adds h under (system, name). Pass "" for system or name to
// match any system or any event name respectively.
func (r *HandlerRegistry) Register(system, name string, h Handler) {
	k := handlerKey{system, name}
	r.handlers[k] = append(r.handlers[k], h)
}

// Dispatch runs every handler registered for ev — in order: exact
// (system, name), then (system, ""), then ("", name), then ("", "") —
// stopping at the first handler that reports it handled the record.
// It reports whether any handler claimed the record.
func (r *HandlerRegistry) Dispatch(ev *Event, payload []byte, sink *strings.Builder) bool {
	keys := [4]handlerKey{
		{ev.System, ev.Name},
		{ev.System, ""},
		{"", ev.Name},
		{"", ""},
	}
	for _, k := range keys {
		for _, h := range r.handlers[k] {
			if h(ev, payload, sink) {
				return true
			}
		}
	}
	return false
}

// PrintFunc is a symbolic function a print fmt argument may invoke,
// such as jbd2_dev_to_name (spec §4.2 "Print-function registration").
// args are the already-evaluated argument values from the print fmt
// expression, in declaration order; the return value is substituted
// as the %s/%d/etc. argument.
type PrintFunc func(args ...interface{}) interface{}

// PrintFuncRegistry binds symbolic names used inside print fmt strings
// to host-side implementations.
type PrintFuncRegistry struct {
	funcs map[string]PrintFunc
}

// NewPrintFuncRegistry creates an empty registry.
func NewPrintFuncRegistry() *PrintFuncRegistry {
	return &PrintFuncRegistry{funcs: make(map[string]PrintFunc)}
}

// Register binds name to fn, overwriting any previous binding.
func (r *PrintFuncRegistry) Register(name string, fn PrintFunc) {
	r.funcs[name] = fn
}

// Lookup returns the function bound to name, or nil if none.
func (r *PrintFuncRegistry) Lookup(name string) PrintFunc {
	return r.funcs[name]
}

// RegisterBuiltinPrintFunctions installs the small set of
// plugin_jbd2.c-style print functions supplied as optional defaults
// (spec-supplemented feature, not in the distilled spec):
// device-number formatting, the device pretty-printer that plugin
// registers for jbd2 events. Callers that don't want it simply never
// call this.
func RegisterBuiltinPrintFunctions(r *PrintFuncRegistry) {
	r.Register("jbd2_dev_to_name", func(args ...interface{}) interface{} {
		if len(args) == 0 {
			return ""
		}
		dev, ok := args[0].(uint64)
		if !ok {
			return args[0]
		}
		// Linux packs (major, minor) device numbers as
		// major:((dev>>20)&0xfff) minor:(dev & 0xfffff | ((dev>>12) & 0xfff00000)).
		major := (dev >> 20) & 0xfff
		minor := (dev & 0xfffff) | ((dev >> 12) & 0xfff00000)
		return formatDevName(major, minor)
	})
}

func formatDevName(major, minor uint64) string {
	return strconv.FormatUint(major, 10) + ":" + strconv.FormatUint(minor, 10)
}

// NewSymbolHandler returns a Handler that resolves fieldName's raw
// value to a function symbol via st and appends "(name+0xoffset)" (or
// bare "(name)" at zero offset) to the sink. Modeled on
// plugin_kmem.c's call_site_handler, which resolves a kmem event's
// call_site field via pevent_find_function/pevent_find_function_address
// and prints "(%s+0x%x) ", and corroborated by plugin_function.c's
// function_handler/show_function, which resolves ftrace's function
// event's ip field the same way. It declines (returns false) when
// fieldName isn't present on ev or its value doesn't resolve to a
// known symbol, the same escape call_site_handler takes when
// pevent_find_function fails.
func NewSymbolHandler(st *SymbolTable, order binary.ByteOrder, fieldName string) Handler {
	return func(ev *Event, payload []byte, sink *strings.Builder) bool {
		f := ev.Field(fieldName)
		if f == nil {
			return false
		}
		addr, err := readUint(payload, f.Offset, f.Size, order)
		if err != nil {
			return false
		}
		name, offset, ok := st.Find(addr)
		if !ok {
			return false
		}
		sink.WriteByte('(')
		sink.WriteString(name)
		if offset != 0 {
			sink.WriteString("+0x")
			sink.WriteString(strconv.FormatUint(offset, 16))
		}
		sink.WriteByte(')')
		return true
	}
}

// RegisterBuiltinHandlers installs the small set of
// plugin_kmem.c/plugin_function.c-style event handlers supplied as
// optional defaults: the kmem allocation/free events' call_site field
// resolved to a function symbol (call_site_handler's six
// pevent_register_event_handler calls), and ftrace's function event's
// ip field resolved the same way (function_handler). Callers that
// don't want them simply never call this.
func RegisterBuiltinHandlers(r *HandlerRegistry, st *SymbolTable, order binary.ByteOrder) {
	callSite := NewSymbolHandler(st, order, "call_site")
	for _, name := range []string{
		"kfree", "kmalloc", "kmalloc_node",
		"kmem_cache_alloc", "kmem_cache_alloc_node", "kmem_cache_free",
	} {
		r.Register("kmem", name, callSite)
	}
	r.Register("ftrace", "function", NewSymbolHandler(st, order, "ip"))
}

// GraphOverhead classifies a function's recorded duration into an
// overhead class a caller-side UI can map to color (supplemented
// feature recovered from trace-ftrace.c's print_graph_overhead: the
// classification logic only, no drawing). Thresholds match the
// original's 10us/100us function-graph coloring bands.
type OverheadClass byte

const (
	OverheadNone OverheadClass = iota
	OverheadWarn
	OverheadCritical
)

func GraphOverhead(durationNS uint64) OverheadClass {
	switch {
	case durationNS > 100_000:
		return OverheadCritical
	case durationNS > 10_000:
		return OverheadWarn
	default:
		return OverheadNone
	}
}
