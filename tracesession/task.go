// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracesession

// taskTable is the bucketed pid table from spec §3 ("A bucketed map
// keyed by pid (small multiplicative hash), value is a singleton node
// per pid; used to enumerate all pids observed in a file") and §5
// ("mutated only during the initial full scan; subsequent queries are
// read-only"). Go's builtin map already gives us the bucketed,
// amortized-O(1) lookup the original's multiplicative hash exists to
// approximate in C, so the table is a thin, intention-revealing
// wrapper rather than a hand-rolled hash table.
type taskTable struct {
	pids map[int]struct{}
}

func newTaskTable() *taskTable {
	return &taskTable{pids: make(map[int]struct{})}
}

// observe records pid as seen. Called only during the initial full
// scan (spec §5).
func (t *taskTable) observe(pid int) {
	t.pids[pid] = struct{}{}
}

// Has reports whether pid was observed in the file.
func (t *taskTable) Has(pid int) bool {
	_, ok := t.pids[pid]
	return ok
}

// PIDs returns every observed pid, in no particular order.
func (t *taskTable) PIDs() []int {
	out := make([]int, 0, len(t.pids))
	for pid := range t.pids {
		out = append(out, pid)
	}
	return out
}
