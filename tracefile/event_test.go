// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"testing"

	"github.com/stretchr/testify/require"
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

const dynamicEventText = `name: print
ID: 5
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:unsigned long ip;	offset:8;	size:8;	signed:0;
	field:__data_loc char[] buf;	offset:16;	size:4;	signed:0;

print fmt: "%s", REC->buf
`

func TestRegistryParsesEventFields(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.ParseHeaderPage([]byte(headerPageText)))
	require.NoError(t, r.AddEvent([]byte(schedSwitchText)))

	ev := r.FindEventByName("ftrace", "sched_switch")
	require.NotNil(t, ev)
	require.Equal(t, 314, ev.ID)

	prevPid := ev.Field("prev_pid")
	require.NotNil(t, prevPid)
	require.Equal(t, 24, prevPid.Offset)
	require.Equal(t, 4, prevPid.Size)
	require.True(t, prevPid.Signed)

	nextComm := ev.Field("next_comm")
	require.NotNil(t, nextComm)
	require.True(t, nextComm.IsArray)
	require.Equal(t, 16, nextComm.Size)

	commonPid := ev.Field("common_pid")
	require.NotNil(t, commonPid)
	require.Equal(t, 4, commonPid.Offset)

	same := r.FindEventByID(314)
	require.Same(t, ev, same)
}

func TestRegistryDynamicLengthField(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.ParseHeaderPage([]byte(headerPageText)))
	require.NoError(t, r.AddEvent([]byte(dynamicEventText)))

	ev := r.FindEventByID(5)
	require.NotNil(t, ev)

	buf := ev.Field("buf")
	require.NotNil(t, buf)
	require.True(t, buf.DynamicLen)
	require.True(t, buf.IsArray)
}

func TestRegistryBadEventIncrementsParsingFailures(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.AddEvent([]byte("not a valid event block\n")))
	require.Equal(t, 1, r.ParsingFailures())
	require.Nil(t, r.FindEventByID(0))
}

func TestValidateEventFormat(t *testing.T) {
	require.NoError(t, ValidateEventFormat([]byte(schedSwitchText)))
	require.Error(t, ValidateEventFormat([]byte("garbage")))
}
