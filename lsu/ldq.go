package lsu

import "github.com/rv-ooo/rvcore/uop"

// LdqEntry is one load-queue row (spec §3.1).
type LdqEntry struct {
	Allocated bool
	RobIdx    int
	Pdst      int
	Addr      uint64
	AddrValid bool
	Size      uint8
	Signed    bool
	Executed  bool
	Succeeded bool
	Data      uint64

	ForwardedFromStq int // -1 = not forwarded
	StDepMask        uint64 // STQ indices this load must watch for ordering violations
	Failure          bool   // ordering-violation exception pending at commit

	PC     uint64
	FtqIdx int
}

// ldq is a fixed-size ring of load-queue rows, allocated/freed in FIFO
// order by dispatch/commit (spec §4.6 "Allocation ... assigns LDQ/STQ
// indices ... counters wrap on a power-of-two ring").
type ldq struct {
	rows       []LdqEntry
	head, tail, count int
}

func newLdq(n int) *ldq { return &ldq{rows: make([]LdqEntry, n)} }

func (q *ldq) full() bool { return q.count >= len(q.rows) }

func (q *ldq) alloc(op uop.MicroOp, pc uint64, stDepMask uint64) int {
	idx := q.tail
	q.rows[idx] = LdqEntry{
		Allocated: true, RobIdx: op.RobIdx, Pdst: op.Pdst, Size: op.MemSize, Signed: op.MemSigned,
		ForwardedFromStq: -1, StDepMask: stDepMask, PC: pc, FtqIdx: op.FtqIdx,
	}
	q.tail = (q.tail + 1) % len(q.rows)
	q.count++
	return idx
}

// free releases the head entry on commit/squash. Because loads commit
// or get squashed strictly in age order relative to the LDQ's own
// allocation order, this is always the oldest entry.
func (q *ldq) free() {
	q.rows[q.head] = LdqEntry{}
	q.head = (q.head + 1) % len(q.rows)
	q.count--
}

// invalidate drops every allocated entry from the tail
// backward while its RobIdx is "younger" per the supplied predicate,
// used on branch misprediction / exception flush.
func (q *ldq) invalidate(keep func(e *LdqEntry) bool) {
	for q.count > 0 {
		prev := (q.tail - 1 + len(q.rows)) % len(q.rows)
		if !q.rows[prev].Allocated || keep(&q.rows[prev]) {
			break
		}
		q.rows[prev] = LdqEntry{}
		q.tail = prev
		q.count--
	}
}

func (q *ldq) flushAll() {
	for i := range q.rows {
		q.rows[i] = LdqEntry{}
	}
	q.head, q.tail, q.count = 0, 0, 0
}
