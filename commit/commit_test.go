package commit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/commit"
	"github.com/rv-ooo/rvcore/csr"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/rename"
	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/uop"
)

func newCommit() (*commit.Commit, *rob.ROB, *rename.State) {
	r := rob.New(8)
	ren := rename.New(64, 64, 8)
	l := lsu.New(4, 4, lsu.NewTLB(16, 12), lsu.NewSimpleMem(1<<12, 1, 4))
	c := &commit.Commit{
		Rob: r, Ren: ren, CSR: csr.New(), LSU: l, Width: 1,
		Resolve: func(ftqIdx int, pcLob uint32) uint64 { return uint64(pcLob) },
	}
	return c, r, ren
}

func TestStepCommitsArchitecturalMapping(t *testing.T) {
	c, r, ren := newCommit()
	pdst := ren.FreeInt.Alloc()
	r.Dispatch(rob.Entry{DstType: uop.RegInt, Ldst: 4, Pdst: pdst, StalePdst: 3})

	n, redirect := c.Step()
	assert.Equal(t, 1, n)
	assert.Nil(t, redirect)
	assert.Equal(t, pdst, ren.CommitInt.Get(4))
}

func TestStepSkipsMapUpdateForX0(t *testing.T) {
	c, r, ren := newCommit()
	r.Dispatch(rob.Entry{DstType: uop.RegInt, Ldst: 0, Pdst: 0})

	n, _ := c.Step()
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, ren.CommitInt.Get(0))
}

func TestStepReportsRedirectOnException(t *testing.T) {
	c, r, _ := newCommit()
	r.Dispatch(rob.Entry{Exception: true, Cause: uint64(rvcore.CauseIllegalInstruction), PCLob: 0x100})

	n, redirect := c.Step()
	assert.Equal(t, 0, n)
	require.NotNil(t, redirect)
	assert.Equal(t, uint64(rvcore.CauseIllegalInstruction), redirect.Cause)
}

func TestStepRollsBackSpeculativeMapOnException(t *testing.T) {
	c, r, ren := newCommit()
	youngPdst := ren.FreeInt.Alloc()
	ren.SpecInt.Set(9, youngPdst)
	r.Dispatch(rob.Entry{Exception: true, Cause: uint64(rvcore.CauseIllegalInstruction)})
	r.Dispatch(rob.Entry{DstType: uop.RegInt, Ldst: 9, Pdst: youngPdst, StalePdst: 9, Busy: true})

	_, redirect := c.Step()
	require.NotNil(t, redirect)
	assert.True(t, r.Empty())
	assert.Equal(t, 9, ren.SpecInt.Get(9))
}

// TestStepUsesRestartTargetForOrderingViolation exercises the full
// restart path: an older store whose address resolves late discovers
// a younger load already read stale data, and commit must redirect
// fetch back to the load's own PC rather than trapping to evec.
func TestStepUsesRestartTargetForOrderingViolation(t *testing.T) {
	c, r, _ := newCommit()
	r.Dispatch(rob.Entry{UsesStq: true, StqIdx: 0})
	r.Dispatch(rob.Entry{UsesLdq: true, LdqIdx: 0, PCLob: 0x40, Busy: true})

	stIdx, ok := c.LSU.AllocStore(uop.MicroOp{RobIdx: 0, MemSize: 8}, 0x1000)
	require.True(t, ok)
	ldIdx, ok := c.LSU.AllocLoad(uop.MicroOp{RobIdx: 1, MemSize: 8}, 0x1004)
	require.True(t, ok)

	c.LSU.AgenLoad(ldIdx, 0x800)
	c.LSU.Step() // the load's cold TLB miss resolves, D-cache request issued

	r.At(1).Busy = false // load "wrote back" before the store's address is known

	c.LSU.AgenStore(stIdx, 0x800) // same page already cached; detects the violation

	n, redirect := c.Step() // retires the store; the load hasn't reached the head yet
	assert.Equal(t, 1, n)
	assert.Nil(t, redirect)

	_, redirect = c.Step() // head is now the load; the pending violation fires
	require.NotNil(t, redirect)
	assert.Equal(t, uint64(rvcore.CauseOrderingViolation), redirect.Cause)
	assert.Equal(t, uint64(0x40), redirect.Target)
}
