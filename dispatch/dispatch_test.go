package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore/dispatch"
	"github.com/rv-ooo/rvcore/issuequeue"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/rename"
	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/uop"
)

func newDispatcher(robSize, iqSize int) *dispatch.Dispatcher {
	r := rob.New(robSize)
	ren := rename.New(64, 64, 8)
	l := lsu.New(4, 4, lsu.NewTLB(16, 12), lsu.NewSimpleMem(1<<12, 1, 4))
	return &dispatch.Dispatcher{
		Rob: r, Ren: ren,
		IQ: dispatch.Queues{
			Int: issuequeue.New(iqSize, 2),
			Mem: issuequeue.New(iqSize, 2),
			Fp:  issuequeue.New(iqSize, 2),
		},
		LSU:     l,
		Resolve: func(ftqIdx int, pcLob uint32) uint64 { return uint64(pcLob) },
	}
}

func TestGroupDispatchesAllWhenResourcesAllow(t *testing.T) {
	d := newDispatcher(8, 8)
	results := []rename.Result{
		{Op: uop.MicroOp{FU: uop.FUAlu}},
		{Op: uop.MicroOp{FU: uop.FUAlu}},
	}
	dispatched := d.Group(results)
	require.Len(t, dispatched, 2)
	assert.Equal(t, 0, dispatched[0].RobIdx)
	assert.Equal(t, 1, dispatched[1].RobIdx)
}

func TestGroupStopsAtRobFull(t *testing.T) {
	d := newDispatcher(1, 8)
	results := []rename.Result{
		{Op: uop.MicroOp{FU: uop.FUAlu}},
		{Op: uop.MicroOp{FU: uop.FUAlu}},
	}
	dispatched := d.Group(results)
	assert.Len(t, dispatched, 1)
}

func TestGroupStopsAtIssueQueueFull(t *testing.T) {
	d := newDispatcher(8, 1)
	results := []rename.Result{
		{Op: uop.MicroOp{FU: uop.FUAlu}},
		{Op: uop.MicroOp{FU: uop.FUAlu}},
	}
	dispatched := d.Group(results)
	assert.Len(t, dispatched, 1)
}

func TestIsUniqueNotDispatchedWhenRobNotEmpty(t *testing.T) {
	d := newDispatcher(8, 8)
	// First, fill the ROB with a non-unique entry so it's non-empty.
	d.Group([]rename.Result{{Op: uop.MicroOp{FU: uop.FUAlu}}})

	dispatched := d.Group([]rename.Result{{Op: uop.MicroOp{FU: uop.FUCsr, IsUnique: true}}})
	assert.Empty(t, dispatched)
}

func TestIsUniqueDispatchesAloneEvenWithMoreInGroup(t *testing.T) {
	d := newDispatcher(8, 8)
	results := []rename.Result{
		{Op: uop.MicroOp{FU: uop.FUCsr, IsUnique: true}},
		{Op: uop.MicroOp{FU: uop.FUAlu}},
	}
	dispatched := d.Group(results)
	require.Len(t, dispatched, 1)
	assert.True(t, dispatched[0].IsUnique)
}

func TestLoadStoreAllocateLdqStqIndices(t *testing.T) {
	d := newDispatcher(8, 8)
	results := []rename.Result{
		{Op: uop.MicroOp{FU: uop.FUMemAgen, UsesLdq: true}},
		{Op: uop.MicroOp{FU: uop.FUMemAgen, UsesStq: true}},
	}
	dispatched := d.Group(results)
	require.Len(t, dispatched, 2)
	assert.Equal(t, 0, dispatched[0].LdqIdx)
	assert.Equal(t, 0, dispatched[1].StqIdx)
}

func TestGroupEnqueuesReadyWhenSourceNotBusy(t *testing.T) {
	d := newDispatcher(8, 8)
	dispatched := d.Group([]rename.Result{{Op: uop.MicroOp{FU: uop.FUAlu, Prs1: 5, Lrs1Type: uop.RegInt}}})
	require.Len(t, dispatched, 1)
	// The producer p5 has never been marked busy in this isolated
	// test, so the op enqueues ready; Select should find it immediately.
	events := d.IQ.Int.Select()
	assert.Len(t, events, 1)
}
