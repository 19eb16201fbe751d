// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracesession

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracecmdgo/tracecore/tracefile"
)

const testPageSize = 64
const testLongSize = 8

type testRecord struct {
	delta   uint32
	payload []byte
}

// buildPage assembles one ring-buffer page: an 8-byte base timestamp,
// an 8-byte commit/used-length field, then the record stream, zero
// padded out to pageSize.
func buildPage(baseTS uint64, recs []testRecord, order binary.ByteOrder) []byte {
	var body []byte
	for _, r := range recs {
		typeLen := uint32(len(r.payload) / 4)
		header := make([]byte, 4)
		order.PutUint32(header, (r.delta<<5)|(typeLen&0x1f))
		body = append(body, header...)
		body = append(body, r.payload...)
	}

	page := make([]byte, testPageSize)
	order.PutUint64(page[0:8], baseTS)
	order.PutUint64(page[8:16], uint64(len(body)))
	copy(page[16:], body)
	return page
}

func rec4(marker byte) []byte { return []byte{marker, 0, 0, 0} }

// buildFile assembles a minimal trace file container with one page per
// CPU in regions, returning the opened File.
func buildFile(t *testing.T, regions [][]byte) *tracefile.File {
	t.Helper()
	order := binary.LittleEndian

	var buf bytes.Buffer
	wr, err := tracefile.NewWriter(&buf, "7", order, testLongSize, testPageSize)
	require.NoError(t, err)
	require.NoError(t, wr.WriteHeaderDescs(nil, nil))
	require.NoError(t, wr.WriteFtraceEvents(nil))
	require.NoError(t, wr.WriteEventSystems(nil))
	require.NoError(t, wr.WriteSymbols(nil))
	require.NoError(t, wr.WritePrintkFmts(nil))
	require.NoError(t, wr.WriteOptions(nil))
	require.NoError(t, wr.WriteCPURegions(int64(buf.Len()), regions))

	f, err := tracefile.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return f
}

func TestMergerEmptyFile(t *testing.T) {
	f := buildFile(t, nil)
	m, err := NewMerger(f)
	require.NoError(t, err)

	_, _, _, err = m.Next()
	require.ErrorIs(t, err, ErrDone)
}

func TestMergerInterleavesByTimestamp(t *testing.T) {
	order := binary.LittleEndian
	cpu0 := buildPage(10, []testRecord{
		{delta: 0, payload: rec4(1)},  // ts=10
		{delta: 20, payload: rec4(2)}, // ts=30
		{delta: 20, payload: rec4(3)}, // ts=50
	}, order)
	cpu1 := buildPage(20, []testRecord{
		{delta: 0, payload: rec4(4)},  // ts=20
		{delta: 20, payload: rec4(5)}, // ts=40
	}, order)

	f := buildFile(t, [][]byte{cpu0, cpu1})
	m, err := NewMerger(f)
	require.NoError(t, err)

	type seen struct {
		cpu int
		ts  uint64
	}
	var got []seen
	for {
		cpu, rec, _, err := m.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrDone)
			break
		}
		got = append(got, seen{cpu, rec.Timestamp})
	}

	require.Equal(t, []seen{
		{0, 10}, {1, 20}, {0, 30}, {1, 40}, {0, 50},
	}, got)
}

func TestMergerTiesBreakByLowestCPU(t *testing.T) {
	order := binary.LittleEndian
	cpu0 := buildPage(100, []testRecord{{delta: 0, payload: rec4(1)}}, order)
	cpu1 := buildPage(100, []testRecord{{delta: 0, payload: rec4(2)}}, order)

	f := buildFile(t, [][]byte{cpu0, cpu1})
	m, err := NewMerger(f)
	require.NoError(t, err)

	cpu, rec, _, err := m.Next()
	require.NoError(t, err)
	require.Equal(t, 0, cpu)
	require.Equal(t, uint64(100), rec.Timestamp)

	cpu, rec, _, err = m.Next()
	require.NoError(t, err)
	require.Equal(t, 1, cpu)
	require.Equal(t, uint64(100), rec.Timestamp)

	_, _, _, err = m.Next()
	require.ErrorIs(t, err, ErrDone)
}

func TestMergerCorruptPageStopsOnlyThatCPU(t *testing.T) {
	order := binary.LittleEndian
	good := buildPage(0, []testRecord{
		{delta: 0, payload: rec4(1)},
		{delta: 1, payload: rec4(2)},
	}, order)

	// A page whose declared used length overruns the buffer: corrupt.
	bad := make([]byte, testPageSize)
	order.PutUint64(bad[0:8], 0)
	order.PutUint64(bad[8:16], uint64(testPageSize*10))

	f := buildFile(t, [][]byte{good, bad})
	m, err := NewMerger(f)
	require.NoError(t, err)

	var goodCount int
	for {
		cpu, _, _, err := m.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrDone)
			break
		}
		if cpu == 0 {
			goodCount++
		}
	}
	require.Equal(t, 2, goodCount)
	require.ErrorIs(t, m.CPUErr(1), tracefile.ErrCorruptPage)
}
