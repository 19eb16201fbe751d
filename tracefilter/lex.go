// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracefilter implements the filter engine (component D): a
// compiler for the predicate grammar in spec §4.4, id-set filters,
// and the combined show/hide verdict used by a session.
package tracefilter

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokString
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokLParen // (
	tokRParen // )
	tokEq     // ==
	tokNe     // !=
	tokLt     // <
	tokLe     // <=
	tokGt     // >
	tokGe     // >=
	tokMatch  // =~
	tokNMatch // !~
)

type token struct {
	kind tokKind
	text string
	ival int64
	pos  int
}

// lex tokenizes a filter expression (spec §4.4 grammar). Lexing
// errors report the byte offset of the offending token, matching
// spec §4.4's "Failure to compile is reported as BadFilter with a
// pointer to the offending token".
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '&' && i+1 < len(expr) && expr[i+1] == '&':
			toks = append(toks, token{kind: tokAnd, pos: i})
			i += 2
		case c == '|' && i+1 < len(expr) && expr[i+1] == '|':
			toks = append(toks, token{kind: tokOr, pos: i})
			i += 2
		case c == '=' && i+1 < len(expr) && expr[i+1] == '=':
			toks = append(toks, token{kind: tokEq, pos: i})
			i += 2
		case c == '=' && i+1 < len(expr) && expr[i+1] == '~':
			toks = append(toks, token{kind: tokMatch, pos: i})
			i += 2
		case c == '!' && i+1 < len(expr) && expr[i+1] == '=':
			toks = append(toks, token{kind: tokNe, pos: i})
			i += 2
		case c == '!' && i+1 < len(expr) && expr[i+1] == '~':
			toks = append(toks, token{kind: tokNMatch, pos: i})
			i += 2
		case c == '!':
			toks = append(toks, token{kind: tokNot, pos: i})
			i++
		case c == '<' && i+1 < len(expr) && expr[i+1] == '=':
			toks = append(toks, token{kind: tokLe, pos: i})
			i += 2
		case c == '<':
			toks = append(toks, token{kind: tokLt, pos: i})
			i++
		case c == '>' && i+1 < len(expr) && expr[i+1] == '=':
			toks = append(toks, token{kind: tokGe, pos: i})
			i += 2
		case c == '>':
			toks = append(toks, token{kind: tokGt, pos: i})
			i++
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(expr) && expr[j] != c {
				j++
			}
			if j >= len(expr) {
				return nil, errors.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{kind: tokString, text: expr[i+1 : j], pos: i})
			i = j + 1
		case isDigit(c) || (c == '-' && i+1 < len(expr) && isDigit(expr[i+1])):
			j := i + 1
			if c == '-' {
				j = i + 1
			}
			for j < len(expr) && (isDigit(expr[j]) || expr[j] == 'x' || isHex(expr[j])) {
				j++
			}
			n, err := strconv.ParseInt(expr[i:j], 0, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing integer at offset %d", i)
			}
			toks = append(toks, token{kind: tokInt, ival: n, pos: i})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: expr[i:j], pos: i})
			i = j
		default:
			return nil, errors.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(expr)})
	return toks, nil
}

func isDigit(c byte) bool     { return c >= '0' && c <= '9' }
func isHex(c byte) bool       { return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isSpecialValue(name string) bool {
	switch strings.ToUpper(name) {
	case "COMM", "CPU", "PID":
		return true
	}
	return false
}
