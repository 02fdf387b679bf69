// Package dispatch routes a renamed group of MicroOps into the ROB and
// their target issue queue, enforcing the is_unique back-pressure rule
// (spec §3.1 C5, §4.2).
package dispatch

import (
	"github.com/rv-ooo/rvcore/issuequeue"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/rename"
	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/uop"
)

// PCResolver reconstructs a full PC from an FTQ index and PC low bits,
// needed only to hand the LSU a debuggable PC for its queue entries.
type PCResolver func(ftqIdx int, pcLob uint32) uint64

// Queues bundles the three issue windows a MicroOp can target.
type Queues struct {
	Int, Mem, Fp *issuequeue.Queue
}

func (q Queues) forClass(c uop.IQ) *issuequeue.Queue {
	switch c {
	case uop.IQMem:
		return q.Mem
	case uop.IQFp:
		return q.Fp
	default:
		return q.Int
	}
}

// Dispatcher owns the structural resources a dispatch group competes
// for: ROB slots, issue-queue slots, and LDQ/STQ entries.
type Dispatcher struct {
	Rob     *rob.ROB
	Ren     *rename.State
	IQ      Queues
	LSU     *lsu.LSU
	Resolve PCResolver
}

func (d *Dispatcher) srcReady(prs int, rtype uop.RegType) bool {
	if rtype != uop.RegInt && rtype != uop.RegFloat {
		return true
	}
	if prs == 0 {
		return true
	}
	if rtype == uop.RegFloat {
		return !d.Ren.BusyFp[prs]
	}
	return !d.Ren.BusyInt[prs]
}

// Group admits as many leading entries of results as current
// structural resources allow, in program order, and returns the
// enriched MicroOps (RobIdx/LdqIdx/StqIdx filled in) that were
// actually dispatched. Anything left over must be retried by the
// caller next cycle, exactly like rename.Group's own stall contract:
// an is_unique uop is only ever admitted alone, only when the ROB is
// otherwise empty, and while it is still in the ROB (as its head)
// nothing else is admitted (spec §4.2 "only dispatched when the ROB is empty
// ahead of it; once dispatched, the pipeline stalls further dispatch
// until it retires").
func (d *Dispatcher) Group(results []rename.Result) (dispatched []uop.MicroOp) {
	for _, res := range results {
		op := res.Op

		if d.Rob.Count() > 0 && d.Rob.At(d.Rob.HeadIdx()).IsUnique {
			break
		}
		if op.IsUnique && (!d.Rob.Empty() || len(dispatched) > 0) {
			break
		}
		if d.Rob.FreeSlots() == 0 {
			break
		}
		q := d.IQ.forClass(op.FU.IQ())
		if q.Full() {
			break
		}

		pc := d.Resolve(op.FtqIdx, op.PCLob)
		if op.UsesLdq {
			idx, ok := d.LSU.AllocLoad(op, pc)
			if !ok {
				break
			}
			op.LdqIdx = idx
		}
		if op.UsesStq {
			idx, ok := d.LSU.AllocStore(op, pc)
			if !ok {
				break
			}
			op.StqIdx = idx
		}

		op.RobIdx = d.Rob.Dispatch(rob.Entry{
			Busy:          true,
			Exception:     op.HasException,
			Cause:         op.ExcCause,
			Tval:          op.ExcTval,
			FlushOnCommit: op.FlushOnCommit,
			PCLob:         op.PCLob,
			FtqIdx:        op.FtqIdx,
			IsBr:          op.IsBr,
			IsJal:         op.IsJal,
			IsJalr:        op.IsJalr,
			IsUnique:      op.IsUnique,
			StqIdx:        op.StqIdx,
			LdqIdx:        op.LdqIdx,
			UsesStq:       op.UsesStq,
			UsesLdq:       op.UsesLdq,
			Ldst:          op.Ldst,
			DstType:       op.DstType,
			Pdst:          op.Pdst,
			StalePdst:     op.StalePdst,
			BrMask:        op.BrMask,
		})

		q.Enqueue(op, op.UsesStq,
			d.srcReady(op.Prs1, op.Lrs1Type),
			d.srcReady(op.Prs2, op.Lrs2Type),
			d.srcReady(op.Prs3, op.Lrs3Type),
		)

		dispatched = append(dispatched, op)
		if op.IsUnique {
			break // alone this cycle; the rest of the group waits.
		}
	}
	return dispatched
}
