// This file models each functional unit as a fixed-length pipeline (or,
// for DIV, a non-pipelined single-outstanding unit), per spec §4.5 and
// §9's "two-cycle delayed signals in RTL become explicit shift-registers
// in simulator state". A producer carries its br_mask through the pipe
// and is discarded silently if a resolution kills it mid-flight (spec
// §7 propagation policy), rather than ever surfacing as a Go error.
package execute

import "github.com/rv-ooo/rvcore/uop"

// Completion is one functional unit's result, ready for writeback.
type Completion struct {
	Op       uop.MicroOp
	Value    uint64
	Branch   *BranchResolution
	Bypassable bool // ALU/JMP results are available same-cycle to RegRead
}

type inflight struct {
	c        Completion
	remaining int
}

// Pipe models one functional unit: pipelined units accept a new op
// every cycle; non-pipelined units (DIV) accept none while busy.
type Pipe struct {
	Latency   int
	Pipelined bool

	pending []*inflight
	busy    bool
}

// NewPipe builds a unit with the given latency.
func NewPipe(latency int, pipelined bool) *Pipe {
	return &Pipe{Latency: latency, Pipelined: pipelined}
}

// Ready reports whether the unit can accept a new op this cycle.
func (p *Pipe) Ready() bool { return p.Pipelined || !p.busy }

// Issue accepts a completed-computation result to be delivered after
// Latency cycles (Latency==1 delivers on the very next Advance call,
// i.e. the next cycle -- same-cycle ALU bypass is handled separately
// by the caller, not through this shift register).
func (p *Pipe) Issue(c Completion) {
	p.pending = append(p.pending, &inflight{c: c, remaining: p.Latency})
	if !p.Pipelined {
		p.busy = true
	}
}

// Advance ticks every in-flight entry down one cycle and returns those
// that complete this cycle.
func (p *Pipe) Advance() []Completion {
	var done []Completion
	rest := p.pending[:0]
	for _, e := range p.pending {
		e.remaining--
		if e.remaining <= 0 {
			done = append(done, e.c)
			if !p.Pipelined {
				p.busy = false
			}
		} else {
			rest = append(rest, e)
		}
	}
	p.pending = rest
	return done
}

// UpdateBranchMask refreshes every in-flight entry's br_mask against a
// branch resolution and silently drops entries killed by a
// misprediction (spec §4.5 "a mispredict in-flight can kill it at any
// stage").
func (p *Pipe) UpdateBranchMask(resolveMask, mispredictMask uop.BrMask) {
	rest := p.pending[:0]
	wasBusy := p.busy
	for _, e := range p.pending {
		e.c.Op.BrMask = e.c.Op.BrMask.Clear(resolveMask)
		if e.c.Op.BrMask.Intersects(mispredictMask) {
			continue
		}
		rest = append(rest, e)
	}
	p.pending = rest
	if !p.Pipelined && wasBusy && len(p.pending) == 0 {
		p.busy = false
	}
}

// Units bundles every functional unit the engine drives. FP units carry
// their configured latency for completeness (spec's parameter bundle
// names dfmaLatency) but are not exercised by the RV64I/M decoder this
// engine implements -- the FPU datapath itself is explicitly out of
// scope (spec §1).
type Units struct {
	Alu *Pipe // L=1, bypassable
	Jmp *Pipe // L=1, bypassable
	Mul *Pipe // pipelined, L=3
	Div *Pipe // non-pipelined, configurable (default 32)

	FpFma *Pipe
	FpDiv *Pipe
	I2F   *Pipe
	F2I   *Pipe
}

// NewUnits builds the functional-unit set from configured latencies.
func NewUnits(divLatency, dfmaLatency int) *Units {
	return &Units{
		Alu:   NewPipe(1, true),
		Jmp:   NewPipe(1, true),
		Mul:   NewPipe(3, true),
		Div:   NewPipe(divLatency, false),
		FpFma: NewPipe(dfmaLatency, true),
		FpDiv: NewPipe(20, false),
		I2F:   NewPipe(2, true),
		F2I:   NewPipe(2, true),
	}
}

// Advance ticks every unit one cycle and returns all completions,
// oldest-agnostic (writeback arbitration by ROB index, if needed, is
// the caller's job -- spec §5 "Multiple writes to the same pdst in the
// same cycle are a bug" is enforced by the engine's writeback stage).
func (u *Units) Advance() []Completion {
	var out []Completion
	out = append(out, u.Alu.Advance()...)
	out = append(out, u.Jmp.Advance()...)
	out = append(out, u.Mul.Advance()...)
	out = append(out, u.Div.Advance()...)
	out = append(out, u.FpFma.Advance()...)
	out = append(out, u.FpDiv.Advance()...)
	out = append(out, u.I2F.Advance()...)
	out = append(out, u.F2I.Advance()...)
	return out
}

// FlushAll drops every in-flight entry in every unit unconditionally,
// for a commit-time exception flush (spec §4.7), which squashes
// everything rather than just uops under a particular br_mask.
func (u *Units) FlushAll() {
	for _, p := range []*Pipe{u.Alu, u.Jmp, u.Mul, u.Div, u.FpFma, u.FpDiv, u.I2F, u.F2I} {
		p.pending = nil
		p.busy = false
	}
}

// UpdateBranchMask propagates a resolution to every unit's in-flight entries.
func (u *Units) UpdateBranchMask(resolveMask, mispredictMask uop.BrMask) {
	u.Alu.UpdateBranchMask(resolveMask, mispredictMask)
	u.Jmp.UpdateBranchMask(resolveMask, mispredictMask)
	u.Mul.UpdateBranchMask(resolveMask, mispredictMask)
	u.Div.UpdateBranchMask(resolveMask, mispredictMask)
	u.FpFma.UpdateBranchMask(resolveMask, mispredictMask)
	u.FpDiv.UpdateBranchMask(resolveMask, mispredictMask)
	u.I2F.UpdateBranchMask(resolveMask, mispredictMask)
	u.F2I.UpdateBranchMask(resolveMask, mispredictMask)
}
