// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefile

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
)

// Symbol is one entry of the function-address table (spec §4.2, §9):
// an address, its name, and an optional owning kernel module.
type Symbol struct {
	Addr   uint64
	Name   string
	Module string
}

// SymbolTable is the function-address registry (spec §4.2
// "add_function"/"find_function", §9 "Function-address table"). It is
// built once at file open from the container's symbol section (spec
// §4.6 step 6, §6 "symbols") and is immutable afterward, same as the
// teacher's DWARF-derived funcRange table in perfsession/symbolize.go
// generalized from debug-info ranges to kallsyms-style lines.
type SymbolTable struct {
	// syms is kept sorted by Addr so Find can do predecessor search.
	// sortedFlag tracks whether a mutation since the last sort needs
	// reconciling before the next lookup.
	syms       []Symbol
	sortedFlag bool
}

// NewSymbolTable creates an empty table. Use AddFunction to populate
// it, or ParseSymbols to load a whole symbol section at once.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{}
}

// AddFunction records one symbol (spec §4.2 add_function). The table
// need not be sorted between calls; Find sorts lazily on first use
// after mutation.
func (t *SymbolTable) AddFunction(addr uint64, name, module string) {
	t.syms = append(t.syms, Symbol{Addr: addr, Name: name, Module: module})
	t.sortedFlag = false
}

// Find resolves an address to the symbol with the greatest address
// not exceeding addr (spec §4.2 "Lookup is by greatest address ≤
// input"), returning the symbol's name and the offset of addr within
// it. Find reports ok=false if the table is empty or addr precedes
// every known symbol.
func (t *SymbolTable) Find(addr uint64) (name string, offset uint64, ok bool) {
	t.ensureSorted()
	if len(t.syms) == 0 {
		return "", 0, false
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	if i == 0 {
		return "", 0, false
	}
	s := t.syms[i-1]
	return s.Name, addr - s.Addr, true
}

// Demangle resolves addr the same way Find does, then best-effort
// demangles an Itanium-ABI ("_Z"-prefixed) symbol name — kernel
// modules built from C++ or Rust sources emit these. Names that are
// not mangled, or that fail to demangle, are returned unchanged: this
// is always a display nicety, never a correctness requirement (spec
// §4.2 places no constraint on symbol name formatting).
func (t *SymbolTable) Demangle(addr uint64) (name string, offset uint64, ok bool) {
	name, offset, ok = t.Find(addr)
	if !ok || !strings.HasPrefix(name, "_Z") {
		return name, offset, ok
	}
	if d, err := demangle.ToString(name, demangle.NoParams); err == nil {
		name = d
	}
	return name, offset, ok
}

func (t *SymbolTable) ensureSorted() {
	if t.sortedFlag {
		return
	}
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].Addr < t.syms[j].Addr })
	t.sortedFlag = true
}

// ParseSymbols loads the container's symbol section text (spec §6:
// "lines: addr type name [module]") into the table.
func ParseSymbols(text []byte) (*SymbolTable, error) {
	t := NewSymbolTable()
	sc := bufio.NewScanner(strings.NewReader(string(text)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		name := fields[2]
		module := ""
		if len(fields) >= 4 {
			module = strings.Trim(fields[3], "[]")
		}
		t.AddFunction(addr, name, module)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning symbol section")
	}
	return t, nil
}
