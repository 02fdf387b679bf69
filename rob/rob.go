// Package rob implements the reorder buffer: in-order retirement,
// exception bookkeeping, and the flush/rollback trigger (spec §3.1
// "ROB entry", §4.2, C6). It is a circular buffer; indices are stable
// for an entry's lifetime, per spec §9's "indices into arrays owned by
// the engine, no pointer graphs".
package rob

import "github.com/rv-ooo/rvcore/uop"

// Entry is one ROB row (spec §3.1).
type Entry struct {
	Valid         bool
	Busy          bool
	Exception     bool
	Cause         uint64
	Tval          uint64
	FlushOnCommit bool

	PCLob  uint32
	FtqIdx int

	IsBr, IsJal, IsJalr bool
	IsUnique            bool

	StqIdx, LdqIdx int
	UsesStq, UsesLdq bool

	Ldst      uint8
	DstType   uop.RegType
	Pdst      int
	StalePdst int

	BrMask uop.BrMask

	DebugWdata uint64
}

// ROB is the circular reorder buffer.
type ROB struct {
	entries []Entry
	head    int // index of oldest (next to commit)
	tail    int // index of next free slot
	count   int
	size    int
}

// New builds a ROB with the given number of rows.
func New(size int) *ROB {
	return &ROB{entries: make([]Entry, size), size: size}
}

// Size returns the total number of rows.
func (r *ROB) Size() int { return r.size }

// Count returns the number of valid (in-flight) entries.
func (r *ROB) Count() int { return r.count }

// Empty reports whether the ROB holds no in-flight uops, the gate
// is_unique dispatch needs (spec §4.2: "only dispatched when the ROB
// is empty ahead of it").
func (r *ROB) Empty() bool { return r.count == 0 }

// FreeSlots returns how many more entries can be dispatched before the
// ROB is full.
func (r *ROB) FreeSlots() int { return r.size - r.count }

// Dispatch enqueues one entry at the tail. Caller must have already
// checked FreeSlots(); returns the assigned ROB index.
func (r *ROB) Dispatch(e Entry) int {
	idx := r.tail
	e.Valid = true
	r.entries[idx] = e
	r.tail = (r.tail + 1) % r.size
	r.count++
	return idx
}

// At returns a pointer to the live entry at idx for in-place mutation
// by writeback/LSU (clearing Busy, setting Exception, etc.).
func (r *ROB) At(idx int) *Entry { return &r.entries[idx] }

// HeadIdx returns the index of the oldest in-flight entry.
func (r *ROB) HeadIdx() int { return r.head }

// Retire pops up to width consecutive non-busy, non-exception entries
// from the head. It stops at the first busy entry, and also stops
// (without consuming it) at the first exception entry. Only an
// exception entry at the head itself is reported to the caller
// (commit.Commit); one found further in is left for a later call. An
// entry's br_mask and is_unique flag are not consulted. Returns the
// retired entries (for architectural-state commit) and, for a head
// exception, its index.
func (r *ROB) Retire(width int) (retired []Entry, exceptionIdx int, hasException bool) {
	exceptionIdx = -1
	for i := 0; i < width && r.count > 0; i++ {
		e := r.entries[r.head]
		if !e.Valid || e.Busy {
			break
		}
		if e.Exception {
			if i == 0 {
				exceptionIdx = r.head
				hasException = true
			}
			break
		}
		retired = append(retired, e)
		r.entries[r.head] = Entry{}
		r.head = (r.head + 1) % r.size
		r.count--
	}
	return retired, exceptionIdx, hasException
}

// InvalidateByMask squashes every ROB entry whose br_mask intersects
// mispredictMask (spec §4.2 "Clear dead entries on branch
// misprediction"). Because mispredicted uops are always the youngest
// in program order, squashed entries form a contiguous run ending at
// the tail; this walks backward from the tail shrinking it.
func (r *ROB) InvalidateByMask(mispredictMask uop.BrMask) {
	for r.count > 0 {
		prev := (r.tail - 1 + r.size) % r.size
		e := r.entries[prev]
		if !e.Valid || !e.BrMask.Intersects(mispredictMask) {
			break
		}
		r.entries[prev] = Entry{}
		r.tail = prev
		r.count--
	}
}

// FlushAll empties the ROB unconditionally, used on a commit-time
// exception (spec §4.7: "flush all IQs, ROB, LDQ, STQ").
func (r *ROB) FlushAll() {
	for i := range r.entries {
		r.entries[i] = Entry{}
	}
	r.head, r.tail, r.count = 0, 0, 0
}

// RollbackStalePdsts walks every still-valid entry from the tail
// backward to the head, returning their StalePdst/DstType/Ldst so the
// caller can restore the rename map (spec §4.1 "step through committed
// uops in reverse, restoring map and free list using stale_pdst"). It
// does not mutate the ROB; FlushAll should be called separately once
// the walk is consumed.
func (r *ROB) RollbackStalePdsts() []Entry {
	out := make([]Entry, 0, r.count)
	idx := (r.tail - 1 + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[idx])
		idx = (idx - 1 + r.size) % r.size
	}
	return out
}
