// Package engine is the clocking harness (spec §3.1 C12, §5): it steps
// every component one cycle at a time in the fixed evaluation order
// spec §5 documents -- retire, writeback, execute, register-read,
// issue, dispatch, rename, decode -- so that, with the single sanctioned
// exception of same-cycle ALU/JMP bypass, no stage ever observes
// another stage's same-cycle result. In the teacher's idiom this plays
// the role CPU.Step played for the M68K core: one call advances the
// whole machine by one unit of time.
package engine

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/commit"
	"github.com/rv-ooo/rvcore/config"
	"github.com/rv-ooo/rvcore/csr"
	"github.com/rv-ooo/rvcore/dispatch"
	"github.com/rv-ooo/rvcore/execute"
	"github.com/rv-ooo/rvcore/fetch"
	"github.com/rv-ooo/rvcore/issuequeue"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/prf"
	"github.com/rv-ooo/rvcore/rename"
	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/trace"
	"github.com/rv-ooo/rvcore/uop"
)

// readyOp is one register-read-stage output: an issue event plus its
// resolved operand values, latched for execute to consume next cycle.
type readyOp struct {
	ev  issuequeue.Event
	rs1 uint64
	rs2 uint64
	pc  uint64
}

// Engine owns every structural component and the inter-stage latches
// between issue, register-read, and execute (spec §5's "explicit
// shift-registers in simulator state" idiom, generalized from
// execute/units.go's Pipe to the front half of the pipeline too).
//
// Front-end fetch/I-cache/branch-prediction are out of scope (spec
// §1); Engine carries a minimal always-predict-not-taken sequential
// fetcher over a flat instruction image, just enough to drive the
// execution core documented here.
type Engine struct {
	Cfg config.Params

	Image []uint32 // instruction words, indexed by word (pc/4)

	FetchBuf *fetch.Buffer
	Ren      *rename.State
	Rob      *rob.ROB
	IQ       dispatch.Queues
	Dispatch *dispatch.Dispatcher
	PrfInt   *prf.File
	PrfFp    *prf.File
	Units    *execute.Units
	LSU      *lsu.LSU
	CSR      *csr.File
	Commit   *commit.Commit
	Trace    *trace.Sink
	Metrics  *Metrics
	Log      zerolog.Logger

	Cycle             uint64
	cyclesSinceCommit uint64

	nextFtqIdx int
	pcOf       map[int]uint64 // ftqIdx -> PC at fetch time
	nextPC     uint64

	brSnap map[uint8]rename.BranchSnapshot

	// Inter-stage latches (see readyOp doc comment).
	decodedLatch []fetch.Decoded
	renamedLatch []rename.Result
	issuedLatch  []readyOp
	regReadLatch []readyOp

	redirectPending *commit.Redirect
}

// New builds an engine from cfg, wired to image as its instruction
// memory and mem as its D-cache.
func New(cfg config.Params, image []uint32, mem lsu.DCache, tr *trace.Sink, m *Metrics, log zerolog.Logger) *Engine {
	tlb := lsu.NewTLB(cfg.TLBEntries, 12)
	l := lsu.New(cfg.NumLdqEntries, cfg.NumStqEntries, tlb, mem)
	if m != nil {
		l.SetCounters(m)
	}
	ren := rename.New(cfg.NumIntPhysRegs, cfg.NumFpPhysRegs, cfg.MaxBrCount)
	r := rob.New(cfg.NumRobEntries)
	iq := dispatch.Queues{
		Int: issuequeue.New(cfg.IntIssue.Entries, cfg.IntIssue.Width),
		Mem: issuequeue.New(cfg.MemIssue.Entries, cfg.MemIssue.Width),
		Fp:  issuequeue.New(cfg.FpIssue.Entries, cfg.FpIssue.Width),
	}

	e := &Engine{
		Cfg: cfg, Image: image,
		FetchBuf: fetch.New(cfg.FetchWidth * 4),
		Ren:      ren,
		Rob:      r,
		IQ:       iq,
		PrfInt:   prf.New(cfg.NumIntPhysRegs),
		PrfFp:    prf.New(cfg.NumFpPhysRegs),
		Units:    execute.NewUnits(cfg.DivLatency, cfg.DFMALatency),
		LSU:      l,
		CSR:      csr.New(),
		Trace:    tr,
		Metrics:  m,
		Log:      log,
		pcOf:     map[int]uint64{},
		brSnap:   map[uint8]rename.BranchSnapshot{},
	}
	e.Dispatch = &dispatch.Dispatcher{Rob: r, Ren: ren, IQ: iq, LSU: l, Resolve: e.resolvePC}
	e.Commit = &commit.Commit{
		Rob: r, Ren: ren, CSR: e.CSR, LSU: l, Width: cfg.CoreWidth,
		Resolve: e.resolvePC,
		OnRetire: func(entry rob.Entry, pc uint64) { e.emitTrace(entry, pc) },
	}
	return e
}

// resolvePC reconstructs a full PC from an FTQ index and PC low bits.
// Every test image in this simulator fits under 4GiB, so the low-32
// bits the MicroOp actually carries already are the full address;
// pcOf (keyed by ftqIdx) exists for future addresses that don't, and
// is consulted first so the simplification stays invisible to callers.
func (e *Engine) resolvePC(ftqIdx int, pcLob uint32) uint64 {
	if base, ok := e.pcOf[ftqIdx]; ok {
		return (base &^ 0xFFFFFFFF) | uint64(pcLob)
	}
	return uint64(pcLob)
}

func (e *Engine) emitTrace(entry rob.Entry, pc uint64) {
	if e.Trace == nil {
		return
	}
	e.Trace.Commit(trace.Record{
		Cycle:     e.Cycle,
		Valid:     true,
		IAddr:     pc,
		Exception: entry.Exception,
		Cause:     entry.Cause,
		Tval:      entry.Tval,
		Wdata:     entry.DebugWdata,
	})
}

// Step advances the whole machine by one cycle, in spec §5's fixed
// order. It returns a FatalError if the hang watchdog fires.
func (e *Engine) Step() error {
	e.Cycle++
	if e.Metrics != nil {
		e.Metrics.Cycles.Inc()
	}
	e.redirectPending = nil // at most one redirect source wins per cycle (spec §4.7)

	e.stageRetire()
	if err := e.stageWriteback(); err != nil {
		return e.fatal(err)
	}
	if err := e.stageExecute(); err != nil {
		return e.fatal(err)
	}
	e.stageRegisterRead()
	e.stageIssue()
	e.stageDispatch()
	if err := e.stageRename(); err != nil {
		return e.fatal(err)
	}
	e.stageDecode()
	e.stageFetch()

	if e.cyclesSinceCommit > e.Cfg.HangCycles {
		return rvcore.ErrPipelineHang
	}
	return nil
}

// fatal stamps the current cycle onto a sentinel FatalError returned by
// a stage (spec §7 "Fatal simulation errors ... abort with a
// diagnostic").
func (e *Engine) fatal(err error) error {
	var f *rvcore.FatalError
	if errors.As(err, &f) {
		return &rvcore.FatalError{Op: f.Op, Msg: f.Msg, Cycle: e.Cycle, Inner: f.Inner}
	}
	return err
}

// --- Stage 1: retire ---------------------------------------------------

func (e *Engine) stageRetire() {
	n, redirect := e.Commit.Step()
	if n > 0 {
		e.cyclesSinceCommit = 0
		if e.Metrics != nil {
			for i := 0; i < n; i++ {
				e.Metrics.Commits.Inc()
			}
		}
	} else {
		e.cyclesSinceCommit++
	}
	if redirect != nil {
		if e.Metrics != nil {
			e.Metrics.Exceptions.Inc()
		}
		e.applyGlobalFlush(redirect.Target)
	}
}

// applyGlobalFlush is the highest-priority redirect source (spec §4.7
// "Global redirect precedence"): stageRetire runs it first in the cycle
// and it sets redirectPending, so a branch mispredict resolved later
// the same cycle (resolveBranch) leaves the front-end redirect alone.
func (e *Engine) applyGlobalFlush(target uint64) {
	e.FetchBuf.Redirect()
	e.decodedLatch = nil
	e.renamedLatch = nil
	e.issuedLatch = nil
	e.regReadLatch = nil
	e.IQ.Int = issuequeue.New(e.Cfg.IntIssue.Entries, e.Cfg.IntIssue.Width)
	e.IQ.Mem = issuequeue.New(e.Cfg.MemIssue.Entries, e.Cfg.MemIssue.Width)
	e.IQ.Fp = issuequeue.New(e.Cfg.FpIssue.Entries, e.Cfg.FpIssue.Width)
	e.Dispatch.IQ = e.IQ
	e.Units.FlushAll()
	e.Ren.RollbackToCommitted()
	e.redirectPending = &commit.Redirect{Target: target}
	e.nextPC = target
}

// --- Stage 2: writeback -------------------------------------------------

func (e *Engine) stageWriteback() error {
	completions := e.Units.Advance()
	// A branch resolution and a squashed younger uop can complete in
	// the very same Advance() batch; gather mispredict masks first so
	// the squashed one is never written back (spec §7 "any stage that
	// finds a uop killed discards it silently").
	var mispredictMask uop.BrMask
	for _, c := range completions {
		if c.Branch != nil && c.Branch.Mispredict {
			mispredictMask |= c.Branch.MispredictMask
		}
	}
	for _, c := range completions {
		if c.Branch == nil && c.Op.Destroyed(mispredictMask) {
			continue
		}
		if err := e.writebackCompletion(c); err != nil {
			return err
		}
	}
	wbs, excs := e.LSU.Step()
	for _, wb := range wbs {
		if err := e.PrfInt.Write(wb.Pdst, wb.Data); err != nil {
			return err
		}
		e.Rob.At(wb.RobIdx).Busy = false
		e.Ren.ClearBusy(uop.RegInt, wb.Pdst)
		e.IQ.Int.Wakeup(wb.Pdst, false)
		e.IQ.Mem.Wakeup(wb.Pdst, false)
		e.IQ.Fp.Wakeup(wb.Pdst, false)
	}
	for _, ex := range excs {
		entry := e.Rob.At(ex.RobIdx)
		entry.Exception = true
		entry.Cause = ex.Cause
		entry.Tval = ex.Tval
		entry.Busy = false
	}
	for _, robIdx := range e.LSU.StoresReadyToClearBusy() {
		e.Rob.At(robIdx).Busy = false
	}
	return nil
}

func (e *Engine) writebackCompletion(c execute.Completion) error {
	op := c.Op
	pf := e.PrfInt
	if op.DstType == uop.RegFloat {
		pf = e.PrfFp
	}
	if op.Pdst != 0 {
		if err := pf.Write(op.Pdst, c.Value); err != nil {
			return err
		}
		e.Ren.ClearBusy(op.DstType, op.Pdst)
		e.IQ.Int.Wakeup(op.Pdst, false)
		e.IQ.Mem.Wakeup(op.Pdst, false)
		e.IQ.Fp.Wakeup(op.Pdst, false)
	}
	entry := e.Rob.At(op.RobIdx)
	entry.Busy = false
	entry.DebugWdata = c.Value

	if c.Branch != nil {
		e.resolveBranch(*c.Branch)
	}
	return nil
}

func (e *Engine) resolveBranch(res execute.BranchResolution) {
	e.Ren.Br.Resolve(res.BrTag)
	if e.Trace != nil {
		e.Trace.Branch(trace.BranchEvent{
			Cycle: e.Cycle, PC: e.resolvePC(res.FtqIdx, 0), BrTag: res.BrTag,
			Taken: res.Taken, Mispredict: res.Mispredict, Target: res.Target,
		})
	}
	if !res.Mispredict {
		delete(e.brSnap, res.BrTag)
		e.IQ.Int.UpdateBranchMask(res.ResolveMask, 0)
		e.IQ.Mem.UpdateBranchMask(res.ResolveMask, 0)
		e.IQ.Fp.UpdateBranchMask(res.ResolveMask, 0)
		e.Units.UpdateBranchMask(res.ResolveMask, 0)
		return
	}
	if e.Metrics != nil {
		e.Metrics.Mispredicts.Inc()
	}
	snap, ok := e.brSnap[res.BrTag]
	if ok {
		e.Ren.RestoreBranch(snap)
		delete(e.brSnap, res.BrTag)
	}
	e.Rob.InvalidateByMask(res.MispredictMask)
	e.IQ.Int.UpdateBranchMask(res.ResolveMask, res.MispredictMask)
	e.IQ.Mem.UpdateBranchMask(res.ResolveMask, res.MispredictMask)
	e.IQ.Fp.UpdateBranchMask(res.ResolveMask, res.MispredictMask)
	e.Units.UpdateBranchMask(res.ResolveMask, res.MispredictMask)
	e.LSU.InvalidateLoadsAbove(func(robIdx int) bool { return !e.Rob.At(robIdx).BrMask.Intersects(res.MispredictMask) })
	e.LSU.InvalidateStoresAbove(func(robIdx int) bool { return !e.Rob.At(robIdx).BrMask.Intersects(res.MispredictMask) })

	// Branch mispredict is second priority; only apply if the commit
	// stage didn't already claim the redirect this cycle (spec §4.7).
	if e.redirectPending == nil {
		e.FetchBuf.Redirect()
		e.decodedLatch = nil
		e.renamedLatch = nil
		target := res.Target
		e.redirectPending = &commit.Redirect{Target: target}
		e.nextPC = target
	}
}

// --- Stage 3: execute ----------------------------------------------------

func (e *Engine) stageExecute() error {
	for _, r := range e.regReadLatch {
		if err := e.execOne(r); err != nil {
			return err
		}
	}
	e.regReadLatch = nil
	return nil
}

func (e *Engine) execOne(r readyOp) error {
	op := r.ev.Op
	if r.ev.Kind == issuequeue.EventDgen {
		// A store's (or AMO's) valid_2 slot issues AGEN and DGEN as two
		// independent events off the same queued MicroOp (issuequeue's
		// EventKind); decode only ever stamps FU=FUMemAgen on it, so the
		// DGEN event needs to route here explicitly rather than switch
		// on op.FU directly.
		op.FU = uop.FUMemDgen
	}
	switch op.FU {
	case uop.FUAlu, uop.FUMul, uop.FUDiv:
		val := execute.Alu(op, r.rs1, r.rs2, r.pc)
		latency := e.unitFor(op.FU)
		if latency.Latency == 1 {
			pf := e.PrfInt
			if op.DstType == uop.RegFloat {
				pf = e.PrfFp
			}
			pf.Bypass(op.Pdst, val)
		}
		latency.Issue(execute.Completion{Op: op, Value: val, Bypassable: latency.Latency == 1})

	case uop.FUJmp:
		res := execute.Branch(op, r.rs1, r.rs2, r.pc)
		e.PrfInt.Bypass(op.Pdst, res.LinkValue)
		e.Units.Jmp.Issue(execute.Completion{Op: op, Value: res.LinkValue, Branch: &res, Bypassable: true})

	case uop.FUMemAgen:
		vaddr := r.rs1 + uint64(op.Imm)
		if op.UsesLdq {
			data, immediate, pf := e.LSU.AgenLoad(op.LdqIdx, vaddr)
			if pf {
				entry := e.Rob.At(op.RobIdx)
				entry.Exception = true
				entry.Cause = uint64(rvcore.CauseLoadPageFault)
				entry.Tval = vaddr
				entry.Busy = false
				return nil
			}
			if immediate {
				if err := e.PrfInt.Write(op.Pdst, data); err != nil {
					return err
				}
				e.Rob.At(op.RobIdx).Busy = false
				e.Ren.ClearBusy(uop.RegInt, op.Pdst)
				e.IQ.Int.Wakeup(op.Pdst, false)
				e.IQ.Mem.Wakeup(op.Pdst, false)
			}
			// Otherwise the load is either waiting on an outstanding
			// D-cache request or asleep on a TLB miss/SAQ conflict;
			// stageWriteback's LSU.Step call completes or retries it
			// on a future cycle either way.
		}
		if op.UsesStq {
			pf, retry := e.LSU.AgenStore(op.StqIdx, vaddr)
			if pf {
				entry := e.Rob.At(op.RobIdx)
				entry.Exception = true
				entry.Cause = uint64(rvcore.CauseStorePageFault)
				entry.Tval = vaddr
				entry.Busy = false
				return nil
			}
			if retry {
				// TLB miss on store AGEN: the vaddr is already stashed
				// in the STQ entry's PendingAddr, and stageWriteback's
				// LSU.Step call re-drives translation every subsequent
				// cycle until it resolves.
				return nil
			}
		}

	case uop.FUMemDgen:
		e.LSU.SetStoreData(op.StqIdx, r.rs2)

	case uop.FUCsr:
		if err := e.execCSR(op, r.rs1); err != nil {
			return err
		}
	}

	if op.UsesStq && e.LSU.ReadyToClearBusy(op.StqIdx) {
		e.Rob.At(op.RobIdx).Busy = false
	}
	return nil
}

func (e *Engine) execCSR(op uop.MicroOp, src uint64) error {
	// Minimal CSR semantics (spec §1 Non-goals: "CSR semantics beyond a
	// minimal set"): CSRRW/CSRRS/CSRRC read and update a single flat
	// word (CSR.BPState) with the rs1 value src, whatever CSR address
	// the instruction names, just enough to let system software
	// round-trip a value through a control register. The immediate
	// forms leave the word unchanged and write 0 to rd.
	old := e.CSR.BPState
	var val uint64
	switch op.AluOp {
	case 0b001: // CSRRW
		val = e.CSR.BPState
		e.CSR.BPState = src
	case 0b010: // CSRRS
		val = old
		e.CSR.BPState = old | src
	case 0b011: // CSRRC
		val = old
		e.CSR.BPState = old &^ src
	}
	if op.Pdst != 0 {
		if err := e.PrfInt.Write(op.Pdst, val); err != nil {
			return err
		}
		e.Ren.ClearBusy(uop.RegInt, op.Pdst)
		e.IQ.Int.Wakeup(op.Pdst, false)
		e.IQ.Mem.Wakeup(op.Pdst, false)
		e.IQ.Fp.Wakeup(op.Pdst, false)
	}
	e.Rob.At(op.RobIdx).Busy = false
	return nil
}

func (e *Engine) unitFor(fu uop.FUClass) *execute.Pipe {
	switch fu {
	case uop.FUMul:
		return e.Units.Mul
	case uop.FUDiv:
		return e.Units.Div
	default:
		return e.Units.Alu
	}
}

// --- Stage 4: register-read ----------------------------------------------

func (e *Engine) stageRegisterRead() {
	for _, iev := range e.issuedLatch {
		op := iev.ev.Op
		pf := e.PrfInt
		if op.Lrs1Type == uop.RegFloat || op.Lrs2Type == uop.RegFloat {
			pf = e.PrfFp
		}
		rs1 := pf.ReadBypassed(op.Prs1)
		rs2 := pf.ReadBypassed(op.Prs2)
		pc := e.resolvePC(op.FtqIdx, op.PCLob)
		e.regReadLatch = append(e.regReadLatch, readyOp{ev: iev.ev, rs1: rs1, rs2: rs2, pc: pc})
	}
	e.issuedLatch = nil
	e.PrfInt.ClearBypass()
	e.PrfFp.ClearBypass()
}

// --- Stage 5: issue -------------------------------------------------------

func (e *Engine) stageIssue() {
	e.issueFrom(e.IQ.Int)
	e.issueFrom(e.IQ.Mem)
	e.issueFrom(e.IQ.Fp)
}

func (e *Engine) issueFrom(q *issuequeue.Queue) {
	events := q.Select()
	if len(events) == 0 {
		return
	}
	q.Commit(events)
	for _, ev := range events {
		e.issuedLatch = append(e.issuedLatch, readyOp{ev: ev})
	}
}

// --- Stage 6: dispatch ----------------------------------------------------

func (e *Engine) stageDispatch() {
	if len(e.renamedLatch) == 0 {
		return
	}
	dispatched := e.Dispatch.Group(e.renamedLatch)
	if len(dispatched) < len(e.renamedLatch) && e.Metrics != nil {
		q := e.IQ.Int
		switch e.renamedLatch[len(dispatched)].Op.FU.IQ() {
		case uop.IQMem:
			q = e.IQ.Mem
		case uop.IQFp:
			q = e.IQ.Fp
		}
		if q.Full() {
			e.Metrics.IQFullStalls.Inc()
		}
	}
	for i, op := range dispatched {
		if op.IsBr {
			e.brSnap[op.BrTag] = e.renamedLatch[i].BranchSnap
		}
	}
	e.renamedLatch = e.renamedLatch[len(dispatched):]
}

// --- Stage 7: rename ------------------------------------------------------

func (e *Engine) stageRename() error {
	if len(e.decodedLatch) == 0 || len(e.renamedLatch) > 0 {
		return nil // back-pressure: prior group not yet fully dispatched
	}
	ins := make([]uop.MicroOp, len(e.decodedLatch))
	for i, d := range e.decodedLatch {
		ins[i] = d.Op
	}
	results, stalled := e.Ren.Group(ins)
	if stalled && len(results) == 0 && e.Rob.Empty() {
		// Rename has nothing to allocate from and nothing in flight can
		// ever retire to free a register or branch tag: ordinary
		// back-pressure resolves itself once the ROB drains, so an empty
		// ROB ruling that out means free-list/br-tag bookkeeping has
		// leaked (spec §7) rather than the pipeline being genuinely busy.
		if e.Ren.Br.Full() {
			return rvcore.ErrBrTagsExhausted
		}
		return rvcore.ErrFreeListExhausted
	}
	e.renamedLatch = results
	e.decodedLatch = e.decodedLatch[len(results):]
	return nil
}

// --- Stage 8: decode --------------------------------------------------

func (e *Engine) stageDecode() {
	if len(e.decodedLatch) > 0 {
		return // back-pressure until rename drains the current batch
	}
	e.decodedLatch = e.FetchBuf.Decode(e.Cfg.FetchWidth)
}

// --- Fetch (front-end stub; spec §1 excludes the real front end) ------

func (e *Engine) stageFetch() {
	if e.FetchBuf.Full() {
		return
	}
	pc := e.nextPC
	words := make([]uint32, e.Cfg.FetchWidth)
	valid := make([]bool, e.Cfg.FetchWidth)
	any := false
	for i := range words {
		wordIdx := (pc + uint64(i*4)) / 4
		if int(wordIdx) < len(e.Image) {
			words[i] = e.Image[wordIdx]
			valid[i] = true
			any = true
		}
	}
	if !any {
		return
	}
	ftqIdx := e.nextFtqIdx
	e.nextFtqIdx++
	e.pcOf[ftqIdx] = pc
	e.FetchBuf.Push(fetch.FetchPacket{
		FtqIdx: ftqIdx, PC: pc, Words: words, Valid: valid,
		PredictedIdx: -1, // always-not-taken static front end (spec §1 non-goal)
	})
	e.nextPC = pc + uint64(e.Cfg.FetchWidth*4)
}
