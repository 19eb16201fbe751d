// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracefilter

// IDSet is an id-set filter (spec §3 "Id-set filter", §4.4): a hash
// set of integer ids (task pids or event ids) evaluated in O(1). Per
// spec §3's invariant, an IDSet with zero entries is semantically
// "accept all", not "accept none" — Contains reports true for every
// id when the set is empty, and Pass (used by the verdict combinator)
// follows from that directly regardless of polarity.
type IDSet struct {
	ids map[int]struct{}
}

// NewIDSet creates an id-set containing the given ids. An empty or
// nil argument produces the zero-entries "accept all" set.
func NewIDSet(ids ...int) *IDSet {
	s := &IDSet{ids: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s *IDSet) Add(id int) { s.ids[id] = struct{}{} }

// Empty reports whether the set has zero entries.
func (s *IDSet) Empty() bool { return len(s.ids) == 0 }

// Contains reports whether id is a member. An empty set contains
// every id (spec §3 invariant).
func (s *IDSet) Contains(id int) bool {
	if len(s.ids) == 0 {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// Pass evaluates this set acting with the given polarity: for a show
// set, Pass reports whether id should be let through; for a hide set,
// Pass reports whether id should NOT be excluded. Both reduce to "true
// when empty, else membership test with the polarity applied".
func (s *IDSet) Pass(id int, hide bool) bool {
	if s.Empty() {
		return true
	}
	in := s.Contains(id)
	if hide {
		return !in
	}
	return in
}

// FilterSet holds the four id-sets plus the optional predicate filter
// a session installs (spec §3 "Four id-sets coexist per session:
// {show,hide}×{task,event}. At most one predicate filter per
// session.").
type FilterSet struct {
	ShowTask  *IDSet
	HideTask  *IDSet
	ShowEvent *IDSet
	HideEvent *IDSet

	// Predicates is keyed by event id (spec §4.4: "a multi-event
	// filter produces one compiled tree per matching event").
	Predicates map[int]*Predicate
}

// NewFilterSet creates a FilterSet with all four id-sets defaulted to
// empty ("accept all") and no predicate installed.
func NewFilterSet() *FilterSet {
	return &FilterSet{
		ShowTask:  NewIDSet(),
		HideTask:  NewIDSet(),
		ShowEvent: NewIDSet(),
		HideEvent: NewIDSet(),
	}
}

// Verdict is the per-entry result of applying a FilterSet (spec §4.4
// "Combined verdict for an entry").
type Verdict struct {
	// Visible is the combined show/hide/predicate result.
	Visible bool
	// Predicate is the tri-valued predicate-only result, reported
	// separately because the session's filter-mask policy (spec
	// §4.8) treats predicate and id-set filtering differently.
	Predicate MatchResult
}

// Evaluate computes the combined verdict from spec §4.4:
//
//	show = (show_task ∪ all) ∧ ¬hide_task ∧ (show_event ∪ all) ∧ ¬hide_event ∧ predicate
//
// evalPredicate is called only if a predicate is installed for
// eventID; its error is propagated unchanged (e.g. FieldOutOfRange).
func (fs *FilterSet) Evaluate(pid, eventID int, evalPredicate func(*Predicate) (MatchResult, error)) (Verdict, error) {
	v := Verdict{Predicate: None}

	showTask := fs.ShowTask.Pass(pid, false)
	hideTask := fs.HideTask.Pass(pid, true)
	showEvent := fs.ShowEvent.Pass(eventID, false)
	hideEvent := fs.HideEvent.Pass(eventID, true)

	predOK := true
	if p, ok := fs.Predicates[eventID]; ok && evalPredicate != nil {
		res, err := evalPredicate(p)
		if err != nil {
			return Verdict{}, err
		}
		v.Predicate = res
		predOK = res != NoMatch
	}

	v.Visible = showTask && hideTask && showEvent && hideEvent && predOK
	return v, nil
}
