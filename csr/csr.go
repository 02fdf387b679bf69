// Package csr models the minimal control/status-register file spec §6
// calls out: "status, cause, tval, epc, evec, fflags, fcsr_rm, ptbr,
// pmp, bp*" (C11). It is a flat struct, not a generic address-indexed
// bank, since the spec explicitly keeps CSR semantics out of scope
// beyond this minimal set (spec §1 "Non-goals: CSR semantics beyond a
// minimal set").
package csr

// File holds the subset of machine-mode CSR state this core needs to
// take and return from a trap.
type File struct {
	Status uint64 // mstatus
	Cause  uint64 // mcause
	Tval   uint64 // mtval
	Epc    uint64 // mepc
	Evec   uint64 // mtvec, the trap vector this core redirects fetch to

	Fflags uint8 // accumulated FP exception flags
	FcsrRM uint8 // FP rounding mode

	Ptbr uint64 // page-table base, unused by the identity-mapped TLB but modeled for completeness
	Pmp  uint64

	BPState uint64 // opaque branch-predictor state CSR, spec's "bp*"
}

// New returns a CSR file reset to zero, with mtvec defaulting to 0 (the
// conventional "trap handler lives at address 0" reset state a
// behavioral simulator needs when no boot ROM installs a real one).
func New() *File { return &File{} }

// EnterTrap latches cause/tval/epc and returns the vector fetch should
// redirect to, per spec §4.7 "publish cause & PC ... redirect fetch to
// trap vector".
func (f *File) EnterTrap(cause, tval, pc uint64) uint64 {
	f.Cause = cause
	f.Tval = tval
	f.Epc = pc
	return f.Evec
}

// AccumulateFflags ORs newly-set FP exception flags into fcsr on a
// floating-point commit (spec §4.7 "accumulate FP flags into fcsr").
func (f *File) AccumulateFflags(flags uint8) { f.Fflags |= flags }
