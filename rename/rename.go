// Package rename implements rename/dispatch-time register renaming: the
// speculative/committed map-table pair, per-bank free lists, the busy
// table, and the branch-tag allocator (spec §3.1, §4.1, C3/C4).
package rename

import (
	"github.com/rv-ooo/rvcore/uop"
)

// BranchSnapshot is everything needed to roll the speculative rename
// state back to the point just before a branch's dispatch, taken when
// the branch is renamed and consumed if it later resolves mispredict
// (spec §4.1 "reset the speculative map to the snapshot at the
// mispredicting branch").
type BranchSnapshot struct {
	IntMap   [32]int
	FpMap    [32]int
	IntFree  Snapshot
	FpFree   Snapshot
	BrInFlight uop.BrMask
}

// State owns every piece of rename-time bookkeeping for both register
// banks.
type State struct {
	SpecInt, CommitInt *MapTable
	SpecFp, CommitFp   *MapTable

	FreeInt, FreeFp *FreeList

	BusyInt, BusyFp []bool

	Br *BrMaskAllocator

	numIntPhys, numFpPhys int
}

// New builds rename state for the given physical register file sizes
// and max in-flight branch count. Physical ids [0,32) in each bank
// start bound to the architectural registers and are never on the
// free list initially.
func New(numIntPhys, numFpPhys, maxBrCount int) *State {
	s := &State{
		SpecInt:   NewMapTable(),
		CommitInt: NewMapTable(),
		SpecFp:    NewMapTable(),
		CommitFp:  NewMapTable(),
		FreeInt:   NewFreeList(32, numIntPhys),
		FreeFp:    NewFreeList(32, numFpPhys),
		BusyInt:   make([]bool, numIntPhys),
		BusyFp:    make([]bool, numFpPhys),
		Br:        NewBrMaskAllocator(maxBrCount),
		numIntPhys: numIntPhys,
		numFpPhys:  numFpPhys,
	}
	return s
}

func (s *State) mapTables(t uop.RegType) (*MapTable, *FreeList, []bool) {
	if t == uop.RegFloat {
		return s.SpecFp, s.FreeFp, s.BusyFp
	}
	return s.SpecInt, s.FreeInt, s.BusyInt
}

// ClearBusy marks preg ready again on writeback (spec §3.1 C3's busy
// table). preg 0 is hardwired ready and was never marked busy.
func (s *State) ClearBusy(rt uop.RegType, preg int) {
	if preg == 0 {
		return
	}
	if rt == uop.RegFloat {
		s.BusyFp[preg] = false
		return
	}
	s.BusyInt[preg] = false
}

// Snapshot captures enough state to restore on a branch misprediction.
func (s *State) Snapshot() BranchSnapshot {
	return BranchSnapshot{
		IntMap:     s.SpecInt.Snapshot(),
		FpMap:      s.SpecFp.Snapshot(),
		IntFree:    s.FreeInt.Snap(),
		FpFree:     s.FreeFp.Snap(),
		BrInFlight: s.Br.InFlight(),
	}
}

// RestoreBranch rolls the speculative map and free-list heads back to
// a snapshot taken at a mispredicting branch's rename time, and
// releases every branch tag allocated after that point (they were all
// younger, and are squashed along with everything else under this
// mask).
func (s *State) RestoreBranch(snap BranchSnapshot) {
	s.SpecInt.Restore(snap.IntMap)
	s.SpecFp.Restore(snap.FpMap)
	s.FreeInt.Restore(snap.IntFree)
	s.FreeFp.Restore(snap.FpFree)
	released := s.Br.InFlight() &^ snap.BrInFlight
	s.Br.ReleaseMask(released)
}

// RollbackToCommitted restores the speculative maps from the committed
// maps, for use after a commit-time exception flush (spec §4.7
// "rollback rename to committed map"). Only the map tables change; the
// free lists and busy tables are left as they are.
func (s *State) RollbackToCommitted() {
	s.SpecInt.Restore(s.CommitInt.Snapshot())
	s.SpecFp.Restore(s.CommitFp.Snapshot())
}

// Result is the outcome of renaming one MicroOp: the renamed op (with
// prs/pdst/stale_pdst/br_tag/br_mask filled in) plus bookkeeping the
// caller (dispatch) needs to push into the ROB.
type Result struct {
	Op           uop.MicroOp
	BranchSnap   BranchSnapshot // only meaningful if Op.IsBr
}

// Group renames up to len(in) MicroOps in program order, honoring
// intra-group bypass (an older dispatch-group-mate's freshly-renamed
// dest forwards to a younger mate's matching source, spec §4.1 step 5).
// It stops and returns a short slice (plus stalled=true) the moment a
// free list or the branch-tag pool is exhausted, so the caller can
// back-pressure fetch/decode for the remainder of the group.
func (s *State) Group(in []uop.MicroOp) (out []Result, stalled bool) {
	// forwarded[bank][areg] = pdst of a mate earlier in this same group
	// that just wrote areg, so later mates in the group see it.
	type fwdKey struct {
		bank uop.RegType
		areg uint8
	}
	fwd := map[fwdKey]int{}

	for _, op := range in {
		if op.IsUnique {
			// is_unique ops still go through renaming; dispatch enforces
			// the ROB-must-be-empty-ahead rule separately (spec §4.2).
		}

		if op.IsBr {
			if s.Br.Full() {
				stalled = true
				return out, stalled
			}
		}

		mt, fl, busy := s.mapTables(op.DstType)
		needAlloc := op.DstType == uop.RegInt || op.DstType == uop.RegFloat
		if needAlloc && !(op.DstType == uop.RegInt && op.Ldst == 0) {
			if fl.Empty() {
				stalled = true
				return out, stalled
			}
		}

		r := op

		// Resolve sources, preferring an in-group forward over the map table.
		resolveSrc := func(areg uint8, rt uop.RegType) int {
			if rt != uop.RegInt && rt != uop.RegFloat {
				return 0
			}
			if rt == uop.RegInt && areg == 0 {
				return 0 // x0 is hardwired to physical 0, always ready-zero
			}
			if p, ok := fwd[fwdKey{rt, areg}]; ok {
				return p
			}
			smt, _, _ := s.mapTables(rt)
			return smt.Get(areg)
		}
		r.Prs1 = resolveSrc(op.Lrs1, op.Lrs1Type)
		r.Prs2 = resolveSrc(op.Lrs2, op.Lrs2Type)
		r.Prs3 = resolveSrc(op.Lrs3, op.Lrs3Type)

		if needAlloc {
			if op.DstType == uop.RegInt && op.Ldst == 0 {
				r.Pdst = 0
				r.StalePdst = 0
			} else {
				r.StalePdst = mt.Get(op.Ldst)
				r.Pdst = fl.Alloc()
				mt.Set(op.Ldst, r.Pdst)
				busy[r.Pdst] = true
				fwd[fwdKey{op.DstType, op.Ldst}] = r.Pdst
			}
		}

		var snap BranchSnapshot
		if op.IsBr {
			snap = s.Snapshot()
			tag, mask := s.Br.Alloc()
			r.BrTag = tag
			r.BrMask = mask
		} else {
			r.BrMask = s.Br.InFlight()
		}

		out = append(out, Result{Op: r, BranchSnap: snap})
	}
	return out, false
}
