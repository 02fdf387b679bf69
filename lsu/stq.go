package lsu

import "github.com/rv-ooo/rvcore/uop"

// StqEntry is one store-queue row, with independently timed SAQ/SDQ
// halves (spec §3.1).
type StqEntry struct {
	Valid     bool
	RobIdx    int
	Committed bool

	Addr      uint64
	AddrValid bool // SAQ
	Data      uint64
	DataValid bool // SDQ

	PendingAddr      uint64 // vaddr awaiting translation (AGEN retry)
	PendingAddrValid bool

	Size     uint8
	Signed   bool // sign-extend the pre-swap value read back by an AMO
	Executed bool // written to memory
	Succeeded bool

	IsAmo bool
	Pdst  int // destination physical register for an AMO's pre-swap value

	PC uint64
}

type stq struct {
	rows       []StqEntry
	head, tail, count int
}

func newStq(n int) *stq { return &stq{rows: make([]StqEntry, n)} }

func (q *stq) full() bool { return q.count >= len(q.rows) }

func (q *stq) alloc(op uop.MicroOp, pc uint64) int {
	idx := q.tail
	q.rows[idx] = StqEntry{
		Valid: true, RobIdx: op.RobIdx, Size: op.MemSize, PC: pc,
		IsAmo: op.IsAmo, Pdst: op.Pdst, Signed: op.MemSigned,
	}
	q.tail = (q.tail + 1) % len(q.rows)
	q.count++
	return idx
}

func (q *stq) free() {
	q.rows[q.head] = StqEntry{}
	q.head = (q.head + 1) % len(q.rows)
	q.count--
}

func (q *stq) invalidate(keep func(e *StqEntry) bool) {
	for q.count > 0 {
		prev := (q.tail - 1 + len(q.rows)) % len(q.rows)
		if !q.rows[prev].Valid || keep(&q.rows[prev]) {
			break
		}
		q.rows[prev] = StqEntry{}
		q.tail = prev
		q.count--
	}
}

// flushCommittedOnly drops every uncommitted entry from the tail
// backward, per spec §4.7's exception-flush rule: "flush ... STQ (keep
// committed stores)". Committed-but-not-yet-drained entries (the
// store is waiting for the D-cache to accept it) are left in place.
func (q *stq) flushCommittedOnly() {
	for q.count > 0 {
		prev := (q.tail - 1 + len(q.rows)) % len(q.rows)
		if q.rows[prev].Committed {
			break
		}
		q.rows[prev] = StqEntry{}
		q.tail = prev
		q.count--
	}
}

func (q *stq) empty() bool { return q.count == 0 }

// dwordMatch reports whether two accesses fall in the same 8-byte-
// aligned word (spec §4.6 "dword_match: upper addr bits match").
func dwordMatch(a, b uint64) bool { return a&^7 == b&^7 }

// overlap reports whether two byte ranges [a,a+asz) and [b,b+bsz)
// intersect (spec §4.6 "addr_conflict: dword_match AND byte masks
// overlap").
func overlap(a uint64, asz uint8, b uint64, bsz uint8) bool {
	return a < b+uint64(bsz) && b < a+uint64(asz)
}
