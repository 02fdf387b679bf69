package rob_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore/rob"
	"github.com/rv-ooo/rvcore/uop"
)

func TestDispatchAssignsSequentialIndices(t *testing.T) {
	r := rob.New(4)
	i0 := r.Dispatch(rob.Entry{})
	i1 := r.Dispatch(rob.Entry{})
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 2, r.FreeSlots())
}

func TestRetireStopsAtBusyEntry(t *testing.T) {
	r := rob.New(4)
	r.Dispatch(rob.Entry{})
	busyIdx := r.Dispatch(rob.Entry{Busy: true})
	r.Dispatch(rob.Entry{})

	retired, _, hasExc := r.Retire(4)
	require.False(t, hasExc)
	assert.Len(t, retired, 1)
	assert.Equal(t, 2, r.Count()) // busy entry plus the one after it remain
	_ = busyIdx
}

func TestRetireStopsOnExceptionAfterFirstEntry(t *testing.T) {
	r := rob.New(4)
	r.Dispatch(rob.Entry{})
	r.Dispatch(rob.Entry{Exception: true, Cause: 13})
	r.Dispatch(rob.Entry{})

	retired, excIdx, hasExc := r.Retire(4)
	assert.Len(t, retired, 1)
	assert.False(t, hasExc)
	assert.Equal(t, -1, excIdx)
}

func TestRetireReportsExceptionAtHead(t *testing.T) {
	r := rob.New(4)
	idx := r.Dispatch(rob.Entry{Exception: true, Cause: 13})
	r.Dispatch(rob.Entry{})

	retired, excIdx, hasExc := r.Retire(4)
	assert.Empty(t, retired)
	assert.True(t, hasExc)
	assert.Equal(t, idx, excIdx)
}

func TestInvalidateByMaskSquashesYoungestRun(t *testing.T) {
	r := rob.New(8)
	r.Dispatch(rob.Entry{BrMask: 0})
	r.Dispatch(rob.Entry{BrMask: 0b10})
	r.Dispatch(rob.Entry{BrMask: 0b10})

	r.InvalidateByMask(0b10)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 3, r.FreeSlots())
}

func TestRollbackStalePdstsWalksYoungestFirst(t *testing.T) {
	r := rob.New(8)
	r.Dispatch(rob.Entry{StalePdst: 10})
	r.Dispatch(rob.Entry{StalePdst: 20})
	r.Dispatch(rob.Entry{StalePdst: 30})

	out := r.RollbackStalePdsts()
	require.Len(t, out, 3)
	assert.Equal(t, 30, out[0].StalePdst)
	assert.Equal(t, 20, out[1].StalePdst)
	assert.Equal(t, 10, out[2].StalePdst)
}

func TestFlushAllEmptiesRob(t *testing.T) {
	r := rob.New(4)
	r.Dispatch(rob.Entry{})
	r.Dispatch(rob.Entry{})
	r.FlushAll()
	assert.True(t, r.Empty())
	assert.Equal(t, 4, r.FreeSlots())
}

func TestAgeLessWraparound(t *testing.T) {
	assert.True(t, uop.AgeLess(6, 1, 5, 8))
	assert.False(t, uop.AgeLess(1, 6, 5, 8))
}
