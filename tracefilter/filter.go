// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefilter

import (
	"bytes"
	"encoding/binary"
	"path"

	"github.com/pkg/errors"

	"github.com/tracecmdgo/tracecore/tracefile"
)

// MatchResult is the tri-valued verdict from spec §4.4: a predicate
// evaluates to Match or NoMatch for an event it was compiled against,
// or None when no predicate is installed for that event at all.
type MatchResult int

const (
	None MatchResult = iota
	Match
	NoMatch
)

// ErrBadFilter is returned by Compile when the expression does not
// parse; per spec §4.4 "no partial filter is installed" on failure.
var ErrBadFilter = errors.New("tracefilter: bad filter expression")

// ErrFilterUnresolved is returned when a compiled predicate references
// fields an event's schema does not (yet) have (spec §3
// "FilterUnresolved").
var ErrFilterUnresolved = errors.New("tracefilter: filter references unknown field")

type nodeKind int

const (
	nodeOr nodeKind = iota
	nodeAnd
	nodeNot
	nodeCmp
)

type node struct {
	kind        nodeKind
	left, right *node // or/and
	operand     *node // not

	field   *tracefile.Field
	special string // "COMM", "CPU", "PID" when the field name names one of these instead
	op      tokKind
	ival    int64
	sval    string
	isStr   bool
}

// Predicate is one compiled expression tree, bound to a single
// event's field set (spec §4.4 "one compiled tree per matching
// event").
type Predicate struct {
	Event *tracefile.Event
	root  *node
}

// Compile compiles expr against ev's fields. Identifiers in expr must
// name one of ev's fields (common or event-specific) or one of the
// special values COMM/CPU/PID.
func Compile(expr string, ev *tracefile.Event) (*Predicate, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, errors.Wrap(ErrBadFilter, err.Error())
	}
	p := &parser{toks: toks, ev: ev}
	root, err := p.parseExpr()
	if err != nil {
		if errors.Is(err, ErrFilterUnresolved) {
			return nil, err
		}
		return nil, errors.Wrap(ErrBadFilter, err.Error())
	}
	if p.cur().kind != tokEOF {
		return nil, errors.Wrapf(ErrBadFilter, "unexpected token at offset %d", p.cur().pos)
	}
	return &Predicate{Event: ev, root: root}, nil
}

// CompileForEvents compiles expr independently against every event in
// events, skipping (not erroring on) events whose fields don't
// resolve — spec §4.4 resolves "against a specific event's fields
// (system:event or event glob)", so a glob naturally matches some
// events and not others; only a genuine parse failure is BadFilter.
func CompileForEvents(expr string, events []*tracefile.Event) (map[int]*Predicate, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, errors.Wrap(ErrBadFilter, err.Error())
	}
	out := make(map[int]*Predicate)
	for _, ev := range events {
		p := &parser{toks: toks, ev: ev}
		root, err := p.parseExpr()
		if err != nil {
			if errors.Is(err, ErrFilterUnresolved) {
				continue
			}
			return nil, errors.Wrap(ErrBadFilter, err.Error())
		}
		if p.cur().kind != tokEOF {
			return nil, errors.Wrapf(ErrBadFilter, "unexpected token at offset %d", p.cur().pos)
		}
		out[ev.ID] = &Predicate{Event: ev, root: root}
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrFilterUnresolved, "expression resolved against no event")
	}
	return out, nil
}

type parser struct {
	toks []token
	pos  int
	ev   *tracefile.Event
}

func (p *parser) cur() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// parseExpr implements the full expr := or grammar from spec §4.4.
func (p *parser) parseExpr() (*node, error) { return p.parseOr() }

func (p *parser) parseOr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	switch p.cur().kind {
	case tokNot:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeNot, operand: operand}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, errors.Errorf("expected ')' at offset %d", p.cur().pos)
		}
		p.advance()
		return inner, nil
	default:
		return p.parseCmp()
	}
}

func (p *parser) parseCmp() (*node, error) {
	fieldTok := p.cur()
	if fieldTok.kind != tokIdent {
		return nil, errors.Errorf("expected field name at offset %d", fieldTok.pos)
	}
	p.advance()

	opTok := p.advance()
	var op tokKind
	switch opTok.kind {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe, tokMatch, tokNMatch:
		op = opTok.kind
	default:
		return nil, errors.Errorf("expected comparison operator at offset %d", opTok.pos)
	}

	n := &node{kind: nodeCmp, op: op}
	if isSpecialValue(fieldTok.text) {
		n.special = fieldTok.text
	} else if p.ev != nil {
		f := p.ev.Field(fieldTok.text)
		if f == nil {
			return nil, errors.Wrapf(ErrFilterUnresolved, "field %q not found on event %s", fieldTok.text, p.ev.Name)
		}
		n.field = f
	}

	valTok := p.advance()
	switch valTok.kind {
	case tokInt:
		n.ival = valTok.ival
	case tokString:
		n.sval = valTok.text
		n.isStr = true
	case tokIdent:
		if !isSpecialValue(valTok.text) {
			return nil, errors.Errorf("unexpected identifier %q at offset %d", valTok.text, valTok.pos)
		}
		n.sval = valTok.text
		n.isStr = true
	default:
		return nil, errors.Errorf("expected value at offset %d", valTok.pos)
	}
	return n, nil
}

// Context supplies the per-record values a predicate needs beyond the
// raw payload: the values of the COMM/CPU/PID special identifiers
// (spec §4.4 value := ... | 'COMM' | 'CPU' | 'PID').
type Context struct {
	CPU  int
	PID  int
	Comm string
}

// Eval evaluates the predicate against one record's payload. order is
// the byte order events in this file are encoded with.
func (p *Predicate) Eval(payload []byte, ctx Context, order binary.ByteOrder) (MatchResult, error) {
	ok, err := evalNode(p.root, payload, ctx, order)
	if err != nil {
		return None, err
	}
	if ok {
		return Match, nil
	}
	return NoMatch, nil
}

func evalNode(n *node, payload []byte, ctx Context, order binary.ByteOrder) (bool, error) {
	switch n.kind {
	case nodeOr:
		l, err := evalNode(n.left, payload, ctx, order)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalNode(n.right, payload, ctx, order)
	case nodeAnd:
		l, err := evalNode(n.left, payload, ctx, order)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return evalNode(n.right, payload, ctx, order)
	case nodeNot:
		v, err := evalNode(n.operand, payload, ctx, order)
		if err != nil {
			return false, err
		}
		return !v, nil
	default:
		return evalCmp(n, payload, ctx, order)
	}
}

func evalCmp(n *node, payload []byte, ctx Context, order binary.ByteOrder) (bool, error) {
	if n.special != "" {
		return evalSpecialCmp(n, ctx)
	}
	if n.field == nil {
		return false, errors.Wrap(ErrFilterUnresolved, "comparison has no resolved field")
	}

	if n.op == tokMatch || n.op == tokNMatch {
		s, err := readDynamicString(n.field, payload, order)
		if err != nil {
			return false, err
		}
		matched, _ := path.Match(n.sval, s)
		if n.op == tokNMatch {
			matched = !matched
		}
		return matched, nil
	}

	if n.isStr {
		s, err := readFixedString(n.field, payload)
		if err != nil {
			return false, err
		}
		return compareStrings(s, n.sval, n.op), nil
	}

	if n.field.Signed {
		v, err := readIntField(payload, n.field.Offset, n.field.Size, order)
		if err != nil {
			return false, err
		}
		return compareInts(v, n.ival, n.op), nil
	}
	v, err := readUintField(payload, n.field.Offset, n.field.Size, order)
	if err != nil {
		return false, err
	}
	return compareUints(v, uint64(n.ival), n.op), nil
}

func evalSpecialCmp(n *node, ctx Context) (bool, error) {
	switch n.special {
	case "CPU":
		return compareInts(int64(ctx.CPU), n.ival, n.op), nil
	case "PID":
		return compareInts(int64(ctx.PID), n.ival, n.op), nil
	case "COMM":
		if n.op == tokMatch || n.op == tokNMatch {
			matched, _ := path.Match(n.sval, ctx.Comm)
			if n.op == tokNMatch {
				matched = !matched
			}
			return matched, nil
		}
		return compareStrings(ctx.Comm, n.sval, n.op), nil
	default:
		return false, errors.Errorf("unknown special value %q", n.special)
	}
}

func compareInts(a, b int64, op tokKind) bool {
	switch op {
	case tokEq:
		return a == b
	case tokNe:
		return a != b
	case tokLt:
		return a < b
	case tokLe:
		return a <= b
	case tokGt:
		return a > b
	case tokGe:
		return a >= b
	default:
		return false
	}
}

func compareUints(a, b uint64, op tokKind) bool {
	switch op {
	case tokEq:
		return a == b
	case tokNe:
		return a != b
	case tokLt:
		return a < b
	case tokLe:
		return a <= b
	case tokGt:
		return a > b
	case tokGe:
		return a >= b
	default:
		return false
	}
}

func compareStrings(a, b string, op tokKind) bool {
	switch op {
	case tokEq:
		return a == b
	case tokNe:
		return a != b
	case tokLt:
		return a < b
	case tokLe:
		return a <= b
	case tokGt:
		return a > b
	case tokGe:
		return a >= b
	default:
		return false
	}
}

func readIntField(payload []byte, off, size int, order binary.ByteOrder) (int64, error) {
	u, err := readUintField(payload, off, size, order)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

func readUintField(payload []byte, off, size int, order binary.ByteOrder) (uint64, error) {
	if off < 0 || size < 0 || off+size > len(payload) {
		return 0, tracefile.ErrFieldOutOfRange
	}
	switch size {
	case 1:
		return uint64(payload[off]), nil
	case 2:
		return uint64(order.Uint16(payload[off:])), nil
	case 4:
		return uint64(order.Uint32(payload[off:])), nil
	case 8:
		return order.Uint64(payload[off:]), nil
	default:
		return 0, tracefile.ErrFieldOutOfRange
	}
}

func readFixedString(f *tracefile.Field, payload []byte) (string, error) {
	if f.Offset < 0 || f.Size < 0 || f.Offset+f.Size > len(payload) {
		return "", tracefile.ErrFieldOutOfRange
	}
	b := payload[f.Offset : f.Offset+f.Size]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// readDynamicString reads a __data_loc field: a 4-byte descriptor
// whose low 16 bits are the offset of the NUL-terminated string and
// whose high 16 bits are its length. order must be the file's
// declared byte order (spec §6 endian byte), same as every other
// field read in this file — the descriptor word itself is encoded
// with the file's endianness, not assumed little-endian.
func readDynamicString(f *tracefile.Field, payload []byte, order binary.ByteOrder) (string, error) {
	if !f.DynamicLen {
		return readFixedString(f, payload)
	}
	desc, err := readUintField(payload, f.Offset, f.Size, order)
	if err != nil {
		return "", err
	}
	off := int(desc & 0xffff)
	length := int((desc >> 16) & 0xffff)
	if off < 0 || length < 0 || off+length > len(payload) {
		return "", tracefile.ErrFieldOutOfRange
	}
	b := payload[off : off+length]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}
