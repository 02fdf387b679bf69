// Package issuequeue implements an age-priority collapsing issue
// window with wakeup, oldest-first select, and the valid_2 dual-event
// store slot (spec §3.1 "Issue slot", §4.3, C7).
package issuequeue

import (
	"golang.org/x/exp/slices"

	"github.com/rv-ooo/rvcore/uop"
)

// EventKind distinguishes the two issue events a store's valid_2 slot
// can fire independently (spec §4.3: "address generation (AGEN) and
// data generation (DGEN)").
type EventKind uint8

const (
	EventNormal EventKind = iota
	EventAgen
	EventDgen
)

type slotState uint8

const (
	stateInvalid slotState = iota
	stateValid1
	stateValid2 // store: both AGEN and DGEN events outstanding
)

type slot struct {
	state slotState
	op    uop.MicroOp

	src1Ready, src2Ready, src3Ready bool
	agenFired                       bool // valid2 only: AGEN already issued
	poisoned                        bool // speculative load-hit wakeup, not yet confirmed
}

func (s *slot) ready() (EventKind, bool) {
	if s.state == stateInvalid {
		return EventNormal, false
	}
	if s.state == stateValid2 || s.agenFired {
		if !s.agenFired && s.src1Ready {
			return EventAgen, true
		}
		if s.agenFired && s.src2Ready {
			return EventDgen, true
		}
		return EventNormal, false
	}
	ok := s.src1Ready
	if s.op.Prs2 != 0 || s.op.Lrs2Type != uop.RegNone {
		ok = ok && s.src2Ready
	}
	if s.op.Prs3 != 0 || s.op.Lrs3Type != uop.RegNone {
		ok = ok && s.src3Ready
	}
	return EventNormal, ok && !s.poisoned
}

// Queue is one age-priority collapsing issue window.
type Queue struct {
	slots    []slot
	capacity int
	width    int
}

// New builds a queue with the given slot capacity and per-cycle issue width.
func New(capacity, width int) *Queue {
	return &Queue{capacity: capacity, width: width}
}

// Full reports whether there is no room for another dispatch.
func (q *Queue) Full() bool { return len(q.slots) >= q.capacity }

// Enqueue inserts op at the tail (youngest position before collapse).
// isStore marks a dual-event valid_2 slot. prs values already resolved
// ready (prf busy bits) are passed in so a uop that dispatches after
// its producer already wrote back doesn't wait forever.
func (q *Queue) Enqueue(op uop.MicroOp, isStore bool, src1Ready, src2Ready, src3Ready bool) bool {
	if q.Full() {
		return false
	}
	st := stateValid1
	if isStore {
		st = stateValid2
	}
	q.slots = append(q.slots, slot{
		state: st, op: op,
		src1Ready: src1Ready, src2Ready: src2Ready, src3Ready: src3Ready,
	})
	return true
}

// Wakeup marks any slot operand matching pdst as ready (spec §4.3 step 1).
// speculative marks an unconfirmed load-hit wakeup: every slot it
// wakes is also poisoned, and that poison is cleared only by Confirm.
func (q *Queue) Wakeup(pdst int, speculative bool) {
	if pdst == 0 {
		return
	}
	for i := range q.slots {
		s := &q.slots[i]
		if s.state == stateInvalid {
			continue
		}
		match := false
		if s.op.Prs1 == pdst {
			s.src1Ready = true
			match = true
		}
		if s.op.Prs2 == pdst {
			s.src2Ready = true
			match = true
		}
		if s.op.Prs3 == pdst {
			s.src3Ready = true
			match = true
		}
		if speculative && match {
			s.poisoned = true
		}
	}
}

// Poison marks every slot depending on a poisoned load's result as
// poisoned too, so a denied speculative wakeup squashes the whole
// dependent chain (spec §4.3 step 3). ldPdst is the load's destination.
func (q *Queue) Poison(ldPdst int) {
	for i := range q.slots {
		s := &q.slots[i]
		if s.state == stateInvalid {
			continue
		}
		if s.op.Prs1 == ldPdst || s.op.Prs2 == ldPdst || s.op.Prs3 == ldPdst {
			s.poisoned = true
		}
	}
}

// Confirm clears poison on every slot depending on ldPdst: used once
// the load that speculatively woke dependents is confirmed a real hit.
func (q *Queue) Confirm(ldPdst int) {
	for i := range q.slots {
		s := &q.slots[i]
		if s.op.Prs1 == ldPdst || s.op.Prs2 == ldPdst || s.op.Prs3 == ldPdst {
			s.poisoned = false
		}
	}
}

// Event is one granted issue.
type Event struct {
	SlotIdx int
	Op      uop.MicroOp
	Kind    EventKind
}

// Select grants issue to up to width ready slots, oldest (lowest slot
// index, since the queue is kept collapsed) first (spec §4.3 step 2).
// It does not mutate the queue; call Commit with the chosen events
// after execute has accepted them.
func (q *Queue) Select() []Event {
	var ready []Event
	for i := range q.slots {
		kind, ok := q.slots[i].ready()
		if ok {
			ready = append(ready, Event{SlotIdx: i, Op: q.slots[i].op, Kind: kind})
		}
	}
	slices.SortStableFunc(ready, func(a, b Event) int { return a.SlotIdx - b.SlotIdx })
	if len(ready) > q.width {
		ready = ready[:q.width]
	}
	return ready
}

// Commit applies the effect of the chosen issue events: a normal slot
// is vacated; an AGEN event flips a valid_2 slot to valid_1; a DGEN
// event vacates it. Then the queue is collapsed so younger uops shift
// toward slot 0 (spec §4.3 steps 3-4).
func (q *Queue) Commit(events []Event) {
	vacate := make(map[int]bool, len(events))
	for _, e := range events {
		s := &q.slots[e.SlotIdx]
		switch e.Kind {
		case EventAgen:
			s.agenFired = true
			s.state = stateValid1
		default:
			vacate[e.SlotIdx] = true
		}
	}
	if len(vacate) == 0 {
		return
	}
	out := q.slots[:0]
	for i, s := range q.slots {
		if vacate[i] {
			continue
		}
		out = append(out, s)
	}
	q.slots = out
}

// UpdateBranchMask clears resolveMask bits from every live slot's
// br_mask and invalidates any slot whose br_mask still intersects
// mispredictMask (spec §4.3 step 5).
func (q *Queue) UpdateBranchMask(resolveMask, mispredictMask uop.BrMask) {
	out := q.slots[:0]
	for _, s := range q.slots {
		s.op.BrMask = s.op.BrMask.Clear(resolveMask)
		if s.op.BrMask.Intersects(mispredictMask) {
			continue
		}
		out = append(out, s)
	}
	q.slots = out
}

// Len reports the number of live slots, for diagnostics/tests.
func (q *Queue) Len() int { return len(q.slots) }
