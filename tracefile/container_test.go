// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterOpenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, "7", binary.LittleEndian, 8, 4096)
	require.NoError(t, err)

	require.NoError(t, wr.WriteHeaderDescs([]byte(headerPageText), []byte{}))
	require.NoError(t, wr.WriteFtraceEvents([][]byte{[]byte(schedSwitchText)}))
	require.NoError(t, wr.WriteEventSystems([]EventSystem{
		{Name: "syscalls", Events: [][]byte{[]byte(dynamicEventText)}},
	}))
	require.NoError(t, wr.WriteSymbols([]byte("ffffffff81000000 T _start\n")))
	require.NoError(t, wr.WritePrintkFmts([]byte("0x1000 : \"hello %s\"\n")))
	require.NoError(t, wr.WriteOptions([]Option{
		{Tag: OptTraceClock, Data: []byte("local")},
	}))

	cpu0 := make([]byte, 4096)
	cpu1 := make([]byte, 4096)
	regions := [][]byte{cpu0, cpu1}
	require.NoError(t, wr.WriteCPURegions(int64(buf.Len()), regions))

	r := bytes.NewReader(buf.Bytes())
	f, err := Open(r)
	require.NoError(t, err)

	require.Equal(t, "7", f.Version)
	require.Equal(t, 8, f.LongSize)
	require.Equal(t, uint32(4096), f.PageSize)
	require.Equal(t, 2, f.NumCPUs())

	ev := f.Registry.FindEventByName("ftrace", "sched_switch")
	require.NotNil(t, ev)

	sysEv := f.Registry.FindEventByName("syscalls", "print")
	require.NotNil(t, sysEv)

	require.Equal(t, "hello %s", f.PrintkFmts[0x1000])

	name, off, ok := f.Symbols.Find(0xffffffff81000010)
	require.True(t, ok)
	require.Equal(t, "_start", name)
	require.Equal(t, uint64(0x10), off)

	require.Len(t, f.Options, 1)
	require.Equal(t, OptTraceClock, f.Options[0].Tag)
	require.Equal(t, "local", string(f.Options[0].Data))

	got, err := f.ReadAt(0, 8)
	require.NoError(t, err)
	require.Equal(t, magic[:], got)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	r := bytes.NewReader([]byte("not a trace file at all, padded out long enough"))
	_, err := Open(r)
	require.ErrorIs(t, err, ErrBadFile)
}
