// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadUint(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	cases := []struct {
		size int
		want uint64
	}{
		{1, 0x01},
		{2, 0x0201},
		{4, 0x04030201},
		{8, 0x0807060504030201},
	}
	for _, c := range cases {
		got, err := readUint(buf, 0, c.size, binary.LittleEndian)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestReadUintOutOfRange(t *testing.T) {
	buf := []byte{0x01, 0x02}
	_, err := readUint(buf, 0, 4, binary.LittleEndian)
	require.ErrorIs(t, err, ErrFieldOutOfRange)

	_, err = readUint(buf, 5, 1, binary.LittleEndian)
	require.ErrorIs(t, err, ErrFieldOutOfRange)
}

func TestReadIntSignExtends(t *testing.T) {
	buf := []byte{0xff}
	got, err := readInt(buf, 0, 1, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, int64(-1), got)
}

func TestReadField(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	f, err := readField(buf, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, f)

	_, err = readField(buf, 3, 2)
	require.ErrorIs(t, err, ErrFieldOutOfRange)
}
