// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefilter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracecmdgo/tracecore/tracefile"
)

const headerPageText = `	field:u64 timestamp;	offset:0;	size:8;	signed:0;
	field:local_t commit;	offset:8;	size:8;	signed:1;
	field:char data;	offset:16;	size:0;	signed:1;
`

const schedSwitchText = `name: sched_switch
ID: 314
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:char prev_comm[16];	offset:8;	size:16;	signed:0;
	field:pid_t prev_pid;	offset:24;	size:4;	signed:1;
	field:int prev_prio;	offset:28;	size:4;	signed:1;
	field:long prev_state;	offset:32;	size:8;	signed:1;
	field:char next_comm[16];	offset:40;	size:16;	signed:0;
	field:pid_t next_pid;	offset:56;	size:4;	signed:1;
	field:int next_prio;	offset:60;	size:4;	signed:1;

print fmt: "prev_comm=%s prev_pid=%d next_comm=%s next_pid=%d", REC->prev_comm, REC->prev_pid, REC->next_comm, REC->next_pid
`

func schedSwitchEvent(t *testing.T) *tracefile.Event {
	t.Helper()
	r := tracefile.NewEventRegistry()
	require.NoError(t, r.ParseHeaderPage([]byte(headerPageText)))
	require.NoError(t, r.AddEvent([]byte(schedSwitchText)))
	ev := r.FindEventByID(314)
	require.NotNil(t, ev)
	return ev
}

func buildPayload(pid int32, prevState int64) []byte {
	payload := make([]byte, 64)
	binary.LittleEndian.PutUint32(payload[4:], uint32(pid))
	binary.LittleEndian.PutUint64(payload[32:], uint64(prevState))
	copy(payload[8:], "bash\x00")
	return payload
}

func TestCompileAndEvalIntField(t *testing.T) {
	ev := schedSwitchEvent(t)
	pred, err := Compile("common_pid==42 && prev_state==0", ev)
	require.NoError(t, err)

	payload := buildPayload(42, 0)
	res, err := pred.Eval(payload, Context{}, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, Match, res)

	payload2 := buildPayload(7, 0)
	res2, err := pred.Eval(payload2, Context{}, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, NoMatch, res2)
}

func TestCompileUnknownFieldIsUnresolved(t *testing.T) {
	ev := schedSwitchEvent(t)
	_, err := Compile("no_such_field==1", ev)
	require.ErrorIs(t, err, ErrFilterUnresolved)
}

func TestCompileBadSyntax(t *testing.T) {
	ev := schedSwitchEvent(t)
	_, err := Compile("common_pid==", ev)
	require.ErrorIs(t, err, ErrBadFilter)
}

func TestCompileGlobMatch(t *testing.T) {
	ev := schedSwitchEvent(t)
	pred, err := Compile(`prev_comm=~"ba*"`, ev)
	require.NoError(t, err)

	payload := buildPayload(1, 0)
	res, err := pred.Eval(payload, Context{}, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, Match, res)
}

func TestCompileForEventsSkipsUnresolvable(t *testing.T) {
	r := tracefile.NewEventRegistry()
	require.NoError(t, r.ParseHeaderPage([]byte(headerPageText)))
	require.NoError(t, r.AddEvent([]byte(schedSwitchText)))
	ev := r.FindEventByID(314)

	preds, err := CompileForEvents("common_pid==1", []*tracefile.Event{ev})
	require.NoError(t, err)
	require.Contains(t, preds, 314)

	_, err = CompileForEvents("prev_comm==1", nil)
	require.ErrorIs(t, err, ErrFilterUnresolved)
}

func TestSpecialValuesCPUAndPID(t *testing.T) {
	ev := schedSwitchEvent(t)
	pred, err := Compile("CPU==2 && PID==42", ev)
	require.NoError(t, err)

	payload := buildPayload(42, 0)
	res, err := pred.Eval(payload, Context{CPU: 2, PID: 42}, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, Match, res)

	res2, err := pred.Eval(payload, Context{CPU: 0, PID: 42}, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, NoMatch, res2)
}
