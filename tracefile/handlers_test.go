// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerDispatchPrefersExactMatch(t *testing.T) {
	r := NewHandlerRegistry()
	var calls []string
	r.Register("", "", func(ev *Event, payload []byte, sink *strings.Builder) bool {
		calls = append(calls, "wildcard")
		return true
	})
	r.Register("sched", "sched_switch", func(ev *Event, payload []byte, sink *strings.Builder) bool {
		calls = append(calls, "exact")
		sink.WriteString("handled")
		return true
	})

	ev := &Event{System: "sched", Name: "sched_switch"}
	var sink strings.Builder
	handled := r.Dispatch(ev, nil, &sink)

	require.True(t, handled)
	require.Equal(t, []string{"exact"}, calls)
	require.Equal(t, "handled", sink.String())
}

func TestHandlerDispatchFallsBackToWildcard(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register("sched", "sched_switch", func(ev *Event, payload []byte, sink *strings.Builder) bool {
		return false // declines
	})
	r.Register("", "", func(ev *Event, payload []byte, sink *strings.Builder) bool {
		sink.WriteString("fallback")
		return true
	})

	ev := &Event{System: "sched", Name: "sched_switch"}
	var sink strings.Builder
	require.True(t, r.Dispatch(ev, nil, &sink))
	require.Equal(t, "fallback", sink.String())
}

func TestHandlerDispatchNoneClaim(t *testing.T) {
	r := NewHandlerRegistry()
	ev := &Event{System: "x", Name: "y"}
	var sink strings.Builder
	require.False(t, r.Dispatch(ev, nil, &sink))
}

func TestBuiltinPrintFunctions(t *testing.T) {
	r := NewPrintFuncRegistry()
	RegisterBuiltinPrintFunctions(r)

	devFn := r.Lookup("jbd2_dev_to_name")
	require.NotNil(t, devFn)
	got := devFn(uint64(8)<<20 | 1)
	require.Equal(t, "8:1", got)
}

func TestSymbolHandlerResolvesCallSite(t *testing.T) {
	st := NewSymbolTable()
	st.AddFunction(0x1000, "kmalloc_order_trace", "")

	field := &Field{Name: "call_site", Offset: 0, Size: 8}
	ev := &Event{System: "kmem", Name: "kmalloc", Fields: []*Field{field}, byName: map[string]*Field{"call_site": field}}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 0x1004)

	h := NewSymbolHandler(st, binary.LittleEndian, "call_site")
	var sink strings.Builder
	require.True(t, h(ev, payload, &sink))
	require.Equal(t, "(kmalloc_order_trace+0x4)", sink.String())
}

func TestSymbolHandlerDeclinesUnknownAddress(t *testing.T) {
	st := NewSymbolTable()

	field := &Field{Name: "call_site", Offset: 0, Size: 8}
	ev := &Event{System: "kmem", Name: "kmalloc", Fields: []*Field{field}, byName: map[string]*Field{"call_site": field}}
	payload := make([]byte, 8)

	h := NewSymbolHandler(st, binary.LittleEndian, "call_site")
	var sink strings.Builder
	require.False(t, h(ev, payload, &sink))
	require.Equal(t, "", sink.String())
}

func TestRegisterBuiltinHandlersDispatchesKmemAndFunction(t *testing.T) {
	st := NewSymbolTable()
	st.AddFunction(0x2000, "kfree", "")

	r := NewHandlerRegistry()
	RegisterBuiltinHandlers(r, st, binary.LittleEndian)

	field := &Field{Name: "call_site", Offset: 0, Size: 8}
	ev := &Event{System: "kmem", Name: "kfree", Fields: []*Field{field}, byName: map[string]*Field{"call_site": field}}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 0x2000)

	var sink strings.Builder
	require.True(t, r.Dispatch(ev, payload, &sink))
	require.Equal(t, "(kfree)", sink.String())
}

func TestGraphOverheadThresholds(t *testing.T) {
	require.Equal(t, OverheadNone, GraphOverhead(100))
	require.Equal(t, OverheadNone, GraphOverhead(10_000))
	require.Equal(t, OverheadWarn, GraphOverhead(10_001))
	require.Equal(t, OverheadWarn, GraphOverhead(100_000))
	require.Equal(t, OverheadCritical, GraphOverhead(100_001))
}
