// Package rvcore is the root of the out-of-order RISC-V execution-core
// simulator: register renaming, a reorder buffer, age-priority issue
// queues, a load/store unit with memory-ordering disambiguation, and a
// branch-speculation framework, stepped one cycle at a time by
// engine.Engine. Subpackages hold the individual components; this file
// holds the error taxonomy shared across all of them (spec §7).
package rvcore

import (
	"errors"
	"fmt"
)

// Cause enumerates RISC-V architectural trap causes this core raises.
// Values follow the privileged-spec mcause encoding for synchronous
// exceptions (bit 63 clear).
type Cause uint64

const (
	CauseInstAddrMisaligned Cause = 0
	CauseIllegalInstruction Cause = 2
	CauseBreakpoint         Cause = 3
	CauseLoadAddrMisaligned Cause = 4
	CauseLoadAccessFault    Cause = 5
	CauseStoreAddrMisaligned Cause = 6
	CauseStoreAccessFault   Cause = 7
	CauseECallFromU         Cause = 8
	CauseECallFromM         Cause = 11
	CauseLoadPageFault      Cause = 13
	CauseStorePageFault     Cause = 15

	// CauseOrderingViolation is not a RISC-V architectural cause; it is
	// the internal mini-exception spec §4.6/§7 describes for a load
	// that must restart after a store it raced with commits. Commit
	// handles it via the same flush+redirect path as a real trap, but
	// it never reaches the architectural mcause CSR: commit skips
	// CSR.EnterTrap for it and restarts at the load's own PC.
	CauseOrderingViolation Cause = 1<<63 | 1
)

// String names a cause for log/trace output.
func (c Cause) String() string {
	switch c {
	case CauseInstAddrMisaligned:
		return "inst-addr-misaligned"
	case CauseIllegalInstruction:
		return "illegal-instruction"
	case CauseBreakpoint:
		return "breakpoint"
	case CauseLoadAddrMisaligned:
		return "load-addr-misaligned"
	case CauseLoadAccessFault:
		return "load-access-fault"
	case CauseStoreAddrMisaligned:
		return "store-addr-misaligned"
	case CauseStoreAccessFault:
		return "store-access-fault"
	case CauseECallFromU:
		return "ecall-u"
	case CauseECallFromM:
		return "ecall-m"
	case CauseLoadPageFault:
		return "load-page-fault"
	case CauseStorePageFault:
		return "store-page-fault"
	case CauseOrderingViolation:
		return "ordering-violation"
	default:
		return fmt.Sprintf("cause(%d)", uint64(c))
	}
}

// ArchException is an architectural exception delivered at commit
// (spec §7: "Architectural exception ... Delivered at commit; pipeline
// flush; trap vector redirect"). It is a plain value, never returned
// from component Step calls mid-pipeline — only commit.Commit surfaces
// one, the way the teacher's CPU.exception is only ever called from
// inside Step, never propagated as a Go error across stage boundaries.
type ArchException struct {
	Cause   Cause
	PC      uint64
	Tval    uint64
	RobIdx  int
}

func (e *ArchException) Error() string {
	return fmt.Sprintf("rvcore: exception %s at pc=%#x tval=%#x", e.Cause, e.PC, e.Tval)
}

// FatalError is a simulator-internal invariant violation or the
// pipeline-hang watchdog firing (spec §7 "Fatal simulation errors").
// Unlike ArchException, a FatalError means the simulator's own
// bookkeeping is inconsistent and the run must abort with a diagnostic;
// it is not part of any RISC-V trap model.
type FatalError struct {
	Op    string // where it was detected, e.g. "rob.Retire"
	Cycle uint64
	Msg   string
	Inner error
}

func (e *FatalError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("rvcore: fatal in %s at cycle %d: %s: %v", e.Op, e.Cycle, e.Msg, e.Inner)
	}
	return fmt.Sprintf("rvcore: fatal in %s at cycle %d: %s", e.Op, e.Cycle, e.Msg)
}

func (e *FatalError) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against the sentinel fatal kinds
// below, mirroring go-ublk's *Error.Is comparison by category.
func (e *FatalError) Is(target error) bool {
	var f *FatalError
	if errors.As(target, &f) {
		return e.Op == f.Op && e.Msg == f.Msg
	}
	return false
}

// Sentinel fatal conditions, for errors.Is checks by callers.
var (
	ErrPipelineHang       = &FatalError{Op: "engine.Step", Msg: "no commit within hang-cycle budget"}
	ErrDoubleWriteback    = &FatalError{Op: "prf.Writeback", Msg: "two writers to the same pdst in one cycle"}
	ErrFreeListExhausted  = &FatalError{Op: "rename.Rename", Msg: "free list empty after back-pressure"}
	ErrBrTagsExhausted    = &FatalError{Op: "rename.AllocBrTag", Msg: "branch-tag set full after back-pressure"}
	ErrRobWidthMismatch   = &FatalError{Op: "rob.Commit", Msg: "commit width exceeds configured core width"}
)

// NewFatal builds a FatalError rooted at op/cycle with a formatted message.
func NewFatal(op string, cycle uint64, format string, args ...any) *FatalError {
	return &FatalError{Op: op, Cycle: cycle, Msg: fmt.Sprintf(format, args...)}
}
