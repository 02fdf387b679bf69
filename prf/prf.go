// Package prf is the physical register file and its same-cycle bypass
// network (spec §3.1, §4.4, C8). It generalizes the teacher's flat
// Registers.D/Registers.A arrays (8 architectural registers each) to N
// physical registers per bank, plus a bypass map the teacher's
// single-register-file CISC core never needed because it has no
// renaming.
package prf

import "github.com/rv-ooo/rvcore"

// File is one bank (Int or Float) of the physical register file.
type File struct {
	regs    []uint64
	bypass  map[int]uint64 // cleared every cycle by ClearBypass
	written map[int]bool   // pregs written this cycle, cleared alongside bypass
}

// New builds a bank with n physical registers. Register 0 is the
// hardwired-zero register in the Int bank (RISC-V x0); writes to it
// are simply never issued by rename (Pdst stays 0), and Read always
// returns whatever is stored there, which the engine keeps at 0.
func New(n int) *File {
	return &File{regs: make([]uint64, n), bypass: make(map[int]uint64, 8), written: make(map[int]bool, 8)}
}

// Read returns the committed value of preg, ignoring any bypass.
func (f *File) Read(preg int) uint64 { return f.regs[preg] }

// ReadBypassed returns the bypass-forwarded value for preg if a
// producer deposited one this cycle, else the committed PRF value
// (spec §4.4: "Bypass validity gates: source not produced yet in PRF
// AND producer not killed by any in-flight branch resolution" -- the
// killed-producer gate is enforced by the caller not bypassing a
// squashed result in the first place).
func (f *File) ReadBypassed(preg int) uint64 {
	if v, ok := f.bypass[preg]; ok {
		return v
	}
	return f.regs[preg]
}

// Write commits a result to the register file (writeback stage).
// preg 0 is silently ignored (x0 is never actually written). Renaming
// guarantees each live pdst has exactly one producer, so a second write
// to the same preg in the same cycle means two functional units
// completed for the same destination at once -- a rename/issue
// invariant violation, not an architectural condition, so it is
// reported as rvcore.ErrDoubleWriteback rather than silently applied.
func (f *File) Write(preg int, val uint64) error {
	if preg == 0 {
		return nil
	}
	if f.written[preg] {
		return rvcore.ErrDoubleWriteback
	}
	f.written[preg] = true
	f.regs[preg] = val
	return nil
}

// Bypass deposits a same-cycle forwarding value, consumed by
// ReadBypassed until ClearBypass runs at the cycle boundary.
func (f *File) Bypass(preg int, val uint64) {
	if preg == 0 {
		return
	}
	f.bypass[preg] = val
}

// ClearBypass drops this cycle's bypass values and resets the
// double-writeback tracker; call once per cycle after register-read
// has consumed the bypassed values.
func (f *File) ClearBypass() {
	for k := range f.bypass {
		delete(f.bypass, k)
	}
	for k := range f.written {
		delete(f.written, k)
	}
}
