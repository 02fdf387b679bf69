// Package commit implements in-order retirement: architectural
// register-map commit, CSR/trap handling, and the commit-time
// exception flush + rename rollback (spec §3.1 C11, §4.7).
package commit

import (
	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/csr"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/rename"
	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/uop"
)

// PCResolver reconstructs a full PC from an FTQ index and the PC's low
// bits, lazily, the way spec §3.1's MicroOp fields are described:
// "PC_lob + FTQ index to reconstruct PC lazily".
type PCResolver func(ftqIdx int, pcLob uint32) uint64

// Redirect is the single global redirect commit can produce, the
// highest-priority source in spec §4.7's "Global redirect precedence"
// (flush-on-commit/exception outranks a branch mispredict or an FTQ
// restart, both of which are decided elsewhere, in the engine).
type Redirect struct {
	Target uint64
	Cause  uint64
}

// Commit owns the retirement path: it reads the ROB head, updates
// architectural state, and drives the exception flush sequence.
type Commit struct {
	Rob    *rob.ROB
	Ren    *rename.State
	CSR    *csr.File
	LSU    *lsu.LSU
	Width  int
	Resolve PCResolver

	// OnRetire, if set, is called once per retired entry, in order,
	// for trace/commit-log output (spec §6 "Trace output").
	OnRetire func(e rob.Entry, pc uint64)
}

// Step retires up to Width uops this cycle. It returns the count
// retired and, if a commit-time exception or the ordering-violation
// mini-exception fired, the redirect the engine must apply next cycle.
func (c *Commit) Step() (retiredCount int, redirect *Redirect) {
	// Drain STQ entries that have finished writing to the D-cache,
	// decoupled from ROB retirement timing (spec §4.6: the STQ entry
	// frees once the store has actually drained, which can lag commit).
	c.LSU.DrainCommittedStores()

	// A load's ordering-violation failure is only known once the LSU
	// scans the STQ on a later store's AGEN; latch it onto the ROB
	// entry as an exception just before we try to retire it, so
	// Retire's normal "stop at an exception" rule catches it.
	if c.Rob.Count() > 0 {
		head := c.Rob.At(c.Rob.HeadIdx())
		if head.UsesLdq && !head.Exception && c.LSU.OrderingViolation(c.Rob.HeadIdx()) {
			head.Exception = true
			head.Cause = uint64(rvcore.CauseOrderingViolation)
		}
	}

	retired, excIdx, hasExc := c.Rob.Retire(c.Width)
	for _, e := range retired {
		c.commitOne(e)
	}
	retiredCount = len(retired)

	if hasExc {
		e := *c.Rob.At(excIdx)
		pc := c.Resolve(e.FtqIdx, e.PCLob)
		var target uint64
		if e.Cause == uint64(rvcore.CauseOrderingViolation) {
			// Ordering-violation restart: re-fetch the failing load's own
			// PC rather than trapping to evec (spec §7 "Ordering-failure
			// uses the same commit path but with a restart, not a trap").
			target = pc
		} else {
			target = c.CSR.EnterTrap(e.Cause, e.Tval, pc)
		}
		c.rollback()
		redirect = &Redirect{Target: target, Cause: e.Cause}
	}
	return retiredCount, redirect
}

func (c *Commit) commitOne(e rob.Entry) {
	if e.DstType == uop.RegInt || e.DstType == uop.RegFloat {
		if !(e.DstType == uop.RegInt && e.Ldst == 0) {
			mt := c.Ren.CommitInt
			fl := c.Ren.FreeInt
			if e.DstType == uop.RegFloat {
				mt, fl = c.Ren.CommitFp, c.Ren.FreeFp
			}
			mt.Set(e.Ldst, e.Pdst)
			if e.StalePdst >= 32 {
				fl.Free(e.StalePdst)
			}
		}
	}
	if e.UsesLdq {
		c.LSU.FreeLoad()
	}
	if e.UsesStq {
		c.LSU.CommitStore(e.StqIdx)
	}
	if c.OnRetire != nil {
		c.OnRetire(e, c.Resolve(e.FtqIdx, e.PCLob))
	}
}

// rollback implements spec §4.7's exception-flush sequence: "rollback
// rename to committed map; flush all IQs, ROB, LDQ, STQ (keep
// committed stores)", using the stale_pdst walk spec §4.1 describes:
// step through the still-in-flight (never-committed) entries in
// reverse, undoing each one's map entry and returning its pdst to the
// free list.
func (c *Commit) rollback() {
	entries := c.Rob.RollbackStalePdsts()
	for _, e := range entries {
		if !e.Valid {
			continue
		}
		if e.DstType == uop.RegInt || e.DstType == uop.RegFloat {
			if !(e.DstType == uop.RegInt && e.Ldst == 0) {
				mt := c.Ren.SpecInt
				fl := c.Ren.FreeInt
				if e.DstType == uop.RegFloat {
					mt, fl = c.Ren.SpecFp, c.Ren.FreeFp
				}
				mt.Set(e.Ldst, e.StalePdst)
				if e.Pdst >= 32 {
					fl.Free(e.Pdst)
				}
			}
		}
	}
	c.Rob.FlushAll()
	c.LSU.FlushException()
}
