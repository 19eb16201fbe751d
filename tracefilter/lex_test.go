// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexOperators(t *testing.T) {
	toks, err := lex(`a==1 && b!=2 || !c=~"x*" && d!~'y' && e<=3 && f>=4`)
	require.NoError(t, err)

	var kinds []tokKind
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
	}
	require.Contains(t, kinds, tokEq)
	require.Contains(t, kinds, tokNe)
	require.Contains(t, kinds, tokAnd)
	require.Contains(t, kinds, tokOr)
	require.Contains(t, kinds, tokNot)
	require.Contains(t, kinds, tokMatch)
	require.Contains(t, kinds, tokNMatch)
	require.Contains(t, kinds, tokLe)
	require.Contains(t, kinds, tokGe)
	require.Equal(t, tokEOF, kinds[len(kinds)-1])
}

func TestLexIntegersAndHex(t *testing.T) {
	toks, err := lex("PID==0x2a")
	require.NoError(t, err)
	require.Equal(t, int64(42), toks[2].ival)
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := lex(`COMM=~"unterminated`)
	require.Error(t, err)
}

func TestLexUnknownCharacter(t *testing.T) {
	_, err := lex("a == 1 @ b")
	require.Error(t, err)
}
