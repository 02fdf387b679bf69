package lsu

import (
	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/uop"
)

// WritebackEvent reports a load's data result, to be bypassed/written
// to the PRF and ROB the same way any other functional-unit completion
// is (spec §4.6 "On D-cache response or forwarded response, set
// laq_succeeded").
type WritebackEvent struct {
	LdqIdx int
	RobIdx int
	Pdst   int
	Data   uint64
}

// ExceptionEvent reports an architectural exception discovered on a
// cycle after the original AGEN event -- a TLB miss that resolved into
// a page fault on a later retry (spec §4.6, §6 "page_fault" edge case).
type ExceptionEvent struct {
	RobIdx int
	Cause  uint64
	Tval   uint64
}

// Counters receives nack/replay events for external metrics collection.
// engine.Metrics implements it; LSU itself stays free of any Prometheus
// import and only ever sees this narrow interface (SPEC_FULL.md's
// domain-stack Prometheus section, `rvcore_lsu_nacks_total`/
// `rvcore_lsu_replays_total`).
type Counters interface {
	Nack()
	Replay()
}

// LSU is the load/store unit: LDQ, STQ, TLB, and the D-cache boundary
// (spec §3.1, §4.6, C10).
//
// The vaddr itself is computed once, by the ALU, and handed to
// AgenLoad/AgenStore -- but that does not mean the access only gets one
// attempt. Once an entry's address is stashed, Step re-drives
// translation/forwarding/D-cache issue for it every cycle until it
// completes, exactly the way a real LSU keeps a sleeping load or a
// TLB-missed store parked on its queue entry rather than requiring the
// issue queue to reissue the uop. This is what lets a TLB miss (which
// caches the page, so the next attempt hits unless the LRU has evicted
// it again) resolve itself instead of hanging the pipeline forever.
type LSU struct {
	Ldq *ldq
	Stq *stq
	TLB *TLB
	DCache DCache

	nextTag int
	tagIsLoad map[int]int // dcache tag -> LDQ index
	tagIsStoreAmo map[int]int

	pendingViolationRob map[int]bool // RobIdx -> ordering-violation pending

	counters Counters
}

// New builds an LSU with the given queue sizes and collaborators.
func New(ldqSize, stqSize int, tlb *TLB, dcache DCache) *LSU {
	return &LSU{
		Ldq: newLdq(ldqSize), Stq: newStq(stqSize),
		TLB: tlb, DCache: dcache,
		tagIsLoad: map[int]int{}, tagIsStoreAmo: map[int]int{},
		pendingViolationRob: map[int]bool{},
	}
}

// SetCounters wires the nack/replay counters, called once after engine.Metrics
// exists (the LSU is built before the Engine that owns it). Nil is fine --
// counting just stays a no-op, the same way the engine's own nil-Metrics
// checks work.
func (l *LSU) SetCounters(c Counters) { l.counters = c }

func (l *LSU) nack() {
	if l.counters != nil {
		l.counters.Nack()
	}
}

func (l *LSU) replay() {
	if l.counters != nil {
		l.counters.Replay()
	}
}

func (l *LSU) LdqFull() bool { return l.Ldq.full() }
func (l *LSU) StqFull() bool { return l.Stq.full() }

// liveStqMask is the bitmap of currently allocated (not-yet-freed) STQ
// indices, the speculation mask a newly-allocated load watches for
// ordering violations (spec §3.1 LDQ "speculation mask over STQ").
func (l *LSU) liveStqMask() uint64 {
	var mask uint64
	idx := l.Stq.head
	for i := 0; i < l.Stq.count; i++ {
		mask |= 1 << uint(idx)
		idx = (idx + 1) % len(l.Stq.rows)
	}
	return mask
}

// AllocLoad assigns an LDQ index at dispatch.
func (l *LSU) AllocLoad(op uop.MicroOp, pc uint64) (int, bool) {
	if l.Ldq.full() {
		return 0, false
	}
	return l.Ldq.alloc(op, pc, l.liveStqMask()), true
}

// AllocStore assigns a STQ index at dispatch.
func (l *LSU) AllocStore(op uop.MicroOp, pc uint64) (int, bool) {
	if l.Stq.full() {
		return 0, false
	}
	return l.Stq.alloc(op, pc), true
}

func (l *LSU) newTag() int { l.nextTag++; return l.nextTag }

// AgenLoad handles a load's address-generation event: stash the
// computed virtual address and make an immediate attempt at
// translation + the SAQ search (spec §4.6 "Load path"). If that first
// attempt can't complete (TLB miss, addr_conflict, or a D-cache nack)
// it is not lost: Step retries every address-valid, not-yet-executed
// LDQ entry every subsequent cycle, the way a real load/store unit
// keeps re-driving a sleeping load's issue port. Returns (data,
// immediate, pageFault): immediate is true if the result (forwarded or
// faulted) is already known this same cycle.
func (l *LSU) AgenLoad(idx int, vaddr uint64) (data uint64, immediate bool, pageFault bool) {
	e := &l.Ldq.rows[idx]
	e.Addr = vaddr
	e.AddrValid = true
	return l.retryLoad(idx)
}

// retryLoad re-attempts translation/forwarding/D-cache issue for an
// already address-valid load, using its stashed virtual address.
func (l *LSU) retryLoad(idx int) (data uint64, immediate bool, pageFault bool) {
	e := &l.Ldq.rows[idx]
	if e.Executed {
		return 0, false, false
	}
	vaddr := e.Addr

	tr := l.TLB.Translate(vaddr, false)
	if tr.PFLoad {
		e.Executed = true
		e.Succeeded = true
		return 0, true, true
	}
	if tr.Miss {
		return 0, false, false
	}

	// Search STQ for the youngest older store whose data this load
	// should take, or a conflict that forces a sleep.
	fwdIdx, fwdData, conflict := l.searchStore(vaddr, e.Size, e.StDepMask)
	if conflict {
		e.Executed = false
		l.replay()
		return 0, false, false
	}
	if fwdIdx >= 0 {
		e.Executed = true
		e.Succeeded = true
		e.ForwardedFromStq = fwdIdx
		e.Data = signExtend(fwdData, e.Size, e.Signed)
		return e.Data, true, false
	}

	tag := l.newTag()
	if !l.DCache.Request(Req{Tag: tag, Paddr: tr.Paddr, Size: e.Size, Cmd: CmdRead}) {
		l.nack()
		return 0, false, false // nacked, retry next cycle
	}
	l.tagIsLoad[tag] = idx
	e.Executed = true
	return 0, false, false
}

// searchStore scans the STQ youngest-to-oldest, over the stores in
// depMask (those older than the load), for a store overlapping
// [vaddr, vaddr+size) (spec §4.6 dword_match/addr_conflict/forwarding_match).
func (l *LSU) searchStore(vaddr uint64, size uint8, depMask uint64) (fwdIdx int, fwdData uint64, conflict bool) {
	fwdIdx = -1
	idx := (l.Stq.tail - 1 + len(l.Stq.rows)) % len(l.Stq.rows)
	for i := 0; i < l.Stq.count; i++ {
		s := &l.Stq.rows[idx]
		if depMask&(1<<uint(idx)) != 0 && s.AddrValid && dwordMatch(s.Addr, vaddr) && overlap(s.Addr, s.Size, vaddr, size) {
			if s.DataValid && s.Size == size && s.Addr == vaddr {
				return idx, s.Data, false
			}
			conflict = true
			return -1, 0, true
		}
		idx = (idx - 1 + len(l.Stq.rows)) % len(l.Stq.rows)
	}
	return -1, 0, false
}

func signExtend(v uint64, size uint8, signed bool) uint64 {
	if !signed {
		switch size {
		case 1:
			return v & 0xFF
		case 2:
			return v & 0xFFFF
		case 4:
			return v & 0xFFFFFFFF
		default:
			return v
		}
	}
	switch size {
	case 1:
		return uint64(int64(int8(v)))
	case 2:
		return uint64(int64(int16(v)))
	case 4:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}

// AgenStore handles a store's address-generation event: stash the
// computed virtual address and make an immediate attempt at
// translation + the ordering-violation scan (spec §4.6 "Memory-
// ordering violation"). Like AgenLoad, a TLB miss is not lost: Step
// retries every pending-address STQ entry every subsequent cycle.
func (l *LSU) AgenStore(idx int, vaddr uint64) (pageFault bool, retry bool) {
	s := &l.Stq.rows[idx]
	s.PendingAddr = vaddr
	s.PendingAddrValid = true
	return l.retryStore(idx)
}

// retryStore re-attempts translation for an already pending-address
// store, using its stashed virtual address.
func (l *LSU) retryStore(idx int) (pageFault bool, retry bool) {
	s := &l.Stq.rows[idx]
	if s.AddrValid || !s.PendingAddrValid {
		return false, false
	}
	vaddr := s.PendingAddr
	tr := l.TLB.Translate(vaddr, true)
	if tr.PFStore {
		s.PendingAddrValid = false
		return true, false
	}
	if tr.Miss {
		return false, true
	}
	s.Addr = vaddr
	s.AddrValid = true
	s.PendingAddrValid = false
	l.scanOrderingViolation(idx, vaddr, s.Size)
	return false, false
}

// scanOrderingViolation flags the oldest load that raced with this
// store (spec §4.6): a load with this STQ index in its StDepMask,
// already executed, whose address overlaps, and which either didn't
// forward or forwarded from an older store.
func (l *LSU) scanOrderingViolation(stqIdx int, vaddr uint64, size uint8) {
	bit := uint64(1) << uint(stqIdx)
	idx := l.Ldq.head
	for i := 0; i < l.Ldq.count; i++ {
		e := &l.Ldq.rows[idx]
		if e.Allocated && e.StDepMask&bit != 0 && e.Executed && e.AddrValid &&
			dwordMatch(e.Addr, vaddr) && overlap(e.Addr, e.Size, vaddr, size) {
			olderForward := e.ForwardedFromStq >= 0 && ageOlder(e.ForwardedFromStq, stqIdx, l.Stq)
			if e.ForwardedFromStq < 0 || olderForward {
				e.Failure = true
				l.pendingViolationRob[e.RobIdx] = true
				return // oldest failing load only; head-to-tail scan guarantees this is oldest
			}
		}
		idx = (idx + 1) % len(l.Ldq.rows)
	}
}

// ageOlder reports whether STQ index a is older than STQ index b,
// relative to the queue's current head.
func ageOlder(a, b int, q *stq) bool {
	da := (a - q.head + len(q.rows)) % len(q.rows)
	db := (b - q.head + len(q.rows)) % len(q.rows)
	return da < db
}

// OrderingViolation reports and clears a pending ordering-violation
// flag for robIdx, consumed at commit.
func (l *LSU) OrderingViolation(robIdx int) bool {
	if l.pendingViolationRob[robIdx] {
		delete(l.pendingViolationRob, robIdx)
		return true
	}
	return false
}

// SetStoreData handles a store's data-generation event.
func (l *LSU) SetStoreData(idx int, data uint64) {
	l.Stq.rows[idx].Data = data
	l.Stq.rows[idx].DataValid = true
}

// ReadyToClearBusy reports whether a store's ROB entry can go
// non-busy: once both address and data are valid (spec §4.6 "Once both
// address and data are valid, the STQ entry's ROB-busy bit is
// cleared").
func (l *LSU) ReadyToClearBusy(idx int) bool {
	s := &l.Stq.rows[idx]
	// An AMO has a destination register whose value isn't known until
	// the D-cache actually returns the pre-swap data, so it clears busy
	// through the normal writeback path instead, like a load.
	return s.AddrValid && s.DataValid && !s.IsAmo
}

// CommitStore marks a store as architecturally committed, eligible to
// drain to the D-cache from the STQ head (spec §4.6/§4.7).
func (l *LSU) CommitStore(idx int) { l.Stq.rows[idx].Committed = true }

// Step retries every sleeping load/store AGEN, drains at most one
// committed store per cycle to the D-cache, and polls D-cache
// responses, completing loads and stores. Returns writeback events for
// loads whose data became available this cycle (forwarded or from the
// D-cache) and exception events for accesses that fault on a retried
// translation.
func (l *LSU) Step() ([]WritebackEvent, []ExceptionEvent) {
	var out []WritebackEvent
	var exc []ExceptionEvent

	// Re-drive every load parked on a TLB miss or SAQ conflict; a load
	// still waiting on an outstanding D-cache request (Executed==true)
	// is untouched here and completes via the Poll loop below instead.
	idx := l.Ldq.head
	for i := 0; i < l.Ldq.count; i++ {
		e := &l.Ldq.rows[idx]
		if e.Allocated && e.AddrValid && !e.Executed {
			data, immediate, pf := l.retryLoad(idx)
			switch {
			case pf:
				exc = append(exc, ExceptionEvent{RobIdx: e.RobIdx, Cause: uint64(rvcore.CauseLoadPageFault), Tval: e.Addr})
			case immediate:
				out = append(out, WritebackEvent{LdqIdx: idx, RobIdx: e.RobIdx, Pdst: e.Pdst, Data: data})
			}
		}
		idx = (idx + 1) % len(l.Ldq.rows)
	}

	// Re-drive every store parked on a TLB miss.
	idx = l.Stq.head
	for i := 0; i < l.Stq.count; i++ {
		s := &l.Stq.rows[idx]
		if s.Valid && s.PendingAddrValid && !s.AddrValid {
			if pf, _ := l.retryStore(idx); pf {
				exc = append(exc, ExceptionEvent{RobIdx: s.RobIdx, Cause: uint64(rvcore.CauseStorePageFault), Tval: s.PendingAddr})
			}
		}
		idx = (idx + 1) % len(l.Stq.rows)
	}

	// Drain at most one store per cycle: an ordinary store only once
	// committed (spec §4.6, memory effects deferred to retirement), but
	// an AMO as soon as both halves are valid -- is_unique dispatch (spec
	// §4.2) already guarantees nothing older is still speculative by
	// then, so there's no wrong-path memory write to worry about, and
	// its destination register's value isn't known until this request
	// actually completes.
	if l.Stq.count > 0 {
		head := &l.Stq.rows[l.Stq.head]
		ready := head.Valid && head.AddrValid && head.DataValid && !head.Executed
		ready = ready && (head.IsAmo || head.Committed)
		if ready {
			cmd := CmdWrite
			if head.IsAmo {
				cmd = CmdAmoSwap
			}
			tag := l.newTag()
			if l.DCache.Request(Req{Tag: tag, Paddr: head.Addr, Size: head.Size, Cmd: cmd, Data: head.Data}) {
				l.tagIsStoreAmo[tag] = l.Stq.head
				head.Executed = true
			} else {
				l.nack()
			}
		}
	}

	l.DCache.Advance()
	for _, r := range l.DCache.Poll() {
		if ldIdx, ok := l.tagIsLoad[r.Tag]; ok {
			delete(l.tagIsLoad, r.Tag)
			if r.Nack {
				l.Ldq.rows[ldIdx].Executed = false
				l.nack()
				continue
			}
			e := &l.Ldq.rows[ldIdx]
			e.Succeeded = true
			e.Data = signExtend(r.Data, e.Size, e.Signed)
			out = append(out, WritebackEvent{LdqIdx: ldIdx, RobIdx: e.RobIdx, Pdst: e.Pdst, Data: e.Data})
		}
		if stIdx, ok := l.tagIsStoreAmo[r.Tag]; ok {
			delete(l.tagIsStoreAmo, r.Tag)
			if r.Nack {
				l.Stq.rows[stIdx].Executed = false
				l.nack()
				continue
			}
			s := &l.Stq.rows[stIdx]
			s.Succeeded = true
			if r.HasData {
				// AMO: r.Data is the pre-swap memory value, bound for the
				// destination register exactly like a load's result.
				out = append(out, WritebackEvent{LdqIdx: -1, RobIdx: s.RobIdx, Pdst: s.Pdst, Data: signExtend(r.Data, s.Size, s.Signed)})
			}
		}
	}
	return out, exc
}

// StoresReadyToClearBusy returns the RobIdx of every allocated STQ
// entry whose address and data are both now valid, so the engine can
// clear ROB busy for stores whose AGEN completed via a Step retry
// rather than synchronously inside execute (spec §4.6 "Once both
// address and data are valid, the STQ entry's ROB-busy bit is
// cleared"). Busy-clearing is idempotent, so entries already cleared
// earlier are harmlessly reported again.
func (l *LSU) StoresReadyToClearBusy() []int {
	var out []int
	idx := l.Stq.head
	for i := 0; i < l.Stq.count; i++ {
		s := &l.Stq.rows[idx]
		if s.Valid && s.AddrValid && s.DataValid && !s.IsAmo {
			out = append(out, s.RobIdx)
		}
		idx = (idx + 1) % len(l.Stq.rows)
	}
	return out
}

// FreeLoad/FreeStore release the head entry on commit.
func (l *LSU) FreeLoad()  { l.Ldq.free() }
func (l *LSU) FreeStore() { l.Stq.free() }

// DrainCommittedStores frees every STQ head entry that has both
// committed and finished writing to the D-cache, decoupled from ROB
// retirement timing (spec §4.6: a store can still be draining to
// memory after its ROB entry has already retired).
func (l *LSU) DrainCommittedStores() {
	for l.Stq.count > 0 {
		head := &l.Stq.rows[l.Stq.head]
		if !head.Committed || !head.Succeeded {
			break
		}
		l.FreeStore()
	}
}

func (l *LSU) LoadSucceeded(idx int) bool { return l.Ldq.rows[idx].Succeeded }
func (l *LSU) LoadFailure(idx int) bool   { return l.Ldq.rows[idx].Failure }
func (l *LSU) LoadData(idx int) uint64    { return l.Ldq.rows[idx].Data }
func (l *LSU) StorePC(idx int) uint64     { return l.Stq.rows[idx].PC }
func (l *LSU) LoadPC(idx int) uint64      { return l.Ldq.rows[idx].PC }

// FenceIReady reports whether fence.i can be committed: the STQ must
// be empty and no memory op may be in flight (spec §4.6 "Fence-i").
func (l *LSU) FenceIReady() bool {
	return l.Stq.empty() && len(l.tagIsLoad) == 0 && len(l.tagIsStoreAmo) == 0
}

// InvalidateLoadsAbove/InvalidateStoresAbove drop entries from the
// queue tail backward until keep reports true, on a branch misprediction.
func (l *LSU) InvalidateLoadsAbove(keep func(robIdx int) bool) {
	l.Ldq.invalidate(func(e *LdqEntry) bool { return keep(e.RobIdx) })
}

func (l *LSU) InvalidateStoresAbove(keep func(robIdx int) bool) {
	l.Stq.invalidate(func(e *StqEntry) bool { return keep(e.RobIdx) })
}

// FlushException drops every LDQ entry and every uncommitted STQ entry
// (spec §4.7 "flush ... LDQ, STQ (keep committed stores)"). All
// outstanding D-cache tags are forgotten, so a response landing after
// the flush for a now-reused queue slot is never mistaken for the new
// occupant's; a committed store still draining at flush time simply
// gets re-requested the next cycle it reaches the STQ head (Step's
// drain check only looks at Committed/AddrValid/DataValid/Executed).
func (l *LSU) FlushException() {
	l.Ldq.flushAll()
	l.Stq.flushCommittedOnly()
	for _, idx := range l.tagIsStoreAmo {
		l.Stq.rows[idx].Executed = false
	}
	l.tagIsLoad = map[int]int{}
	l.tagIsStoreAmo = map[int]int{}
}
