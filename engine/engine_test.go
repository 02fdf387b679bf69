package engine_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/config"
	"github.com/rv-ooo/rvcore/engine"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/trace"
)

func newEngine(t *testing.T, image []uint32) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	mem := lsu.NewSimpleMem(1<<20, 2, 4)
	return engine.New(cfg, image, mem, trace.Disabled(), nil, zerolog.Nop())
}

func run(t *testing.T, e *engine.Engine, cycles int) {
	t.Helper()
	for i := 0; i < cycles; i++ {
		require.NoError(t, e.Step())
	}
}

func archInt(e *engine.Engine, areg uint8) uint64 {
	preg := e.Ren.CommitInt.Get(areg)
	return e.PrfInt.Read(preg)
}

func TestSimpleAddChainCommitsArchitecturalResult(t *testing.T) {
	image := []uint32{
		0x00500093, // addi x1, x0, 5
		0x00700113, // addi x2, x0, 7
		0x002081B3, // add  x3, x1, x2
	}
	e := newEngine(t, image)
	run(t, e, 40)

	assert.Equal(t, uint64(5), archInt(e, 1))
	assert.Equal(t, uint64(7), archInt(e, 2))
	assert.Equal(t, uint64(12), archInt(e, 3))
	assert.True(t, e.Rob.Empty()) // all three ops retired, nothing left in flight
}

func TestTakenBranchSquashesWronglyFetchedFallthrough(t *testing.T) {
	// The front end always predicts not-taken (spec §1 non-goal), so a
	// taken branch always mispredicts and must squash the sequential
	// instruction fetched right behind it.
	image := []uint32{
		0x00100093, // addi x1, x0, 1
		0x00108463, // beq  x1, x1, 8   (taken: skips the next instruction)
		0x06300113, // addi x2, x0, 99  (must be squashed)
		0x02A00113, // addi x2, x0, 42  (branch target, correct path)
	}
	e := newEngine(t, image)
	run(t, e, 60)

	assert.Equal(t, uint64(42), archInt(e, 2))
}

func TestStoreThenLoadSameAddressRoundTrips(t *testing.T) {
	image := []uint32{
		0x02A00093, // addi x1, x0, 0x2A
		0x10000113, // addi x2, x0, 0x100
		0x00113023, // sd   x1, 0(x2)
		0x00013183, // ld   x3, 0(x2)
	}
	e := newEngine(t, image)
	run(t, e, 100)

	assert.Equal(t, uint64(0x2A), archInt(e, 3))
}

func TestAmoSwapWritesMemoryAndReturnsPreSwapValue(t *testing.T) {
	image := []uint32{
		0x10000093, // addi x1, x0, 0x100
		0x02A00113, // addi x2, x0, 0x2A
		0x0820A1AF, // amoswap.w x3, x2, (x1)
		0x0000A203, // lw   x4, 0(x1)
	}
	e := newEngine(t, image)
	run(t, e, 100)

	assert.Equal(t, uint64(0), archInt(e, 3))    // memory started zero
	assert.Equal(t, uint64(0x2A), archInt(e, 4)) // swap value now in memory
	assert.True(t, e.Rob.Empty())
}

func TestLoadPageFaultTrapsAndStopsCommittingPastIt(t *testing.T) {
	image := []uint32{
		0x10000113, // addi x2, x0, 0x100
		0x00012183, // lw   x3, 0(x2)
		0x00700113, // addi x2, x0, 7 (must never retire: past the faulting instruction)
	}
	e := newEngine(t, image)
	e.LSU.TLB.MarkPageFault(0x100, true, false)
	run(t, e, 60)

	assert.Equal(t, uint64(rvcore.CauseLoadPageFault), e.CSR.Cause)
	assert.Equal(t, uint64(0x100), e.CSR.Tval)
	assert.Equal(t, uint64(0x100), archInt(e, 2)) // addi x2, x0, 7 never retired
}

func TestDivDoesNotBlockConcurrentAluStream(t *testing.T) {
	// A long-latency DIV and a chain of independent ALU ops issue into
	// different functional units; the ALU/MUL ops execute without waiting
	// on DIV's full latency, and all of them retire in program order.
	image := []uint32{
		0x00100093, // addi x1, x0, 1
		0x00200113, // addi x2, x0, 2
		0x0220D1B3, // divu x3, x1, x2      (long-latency, not read by the ops below)
		0x00400213, // addi x4, x0, 4
		0x00500293, // addi x5, x0, 5
		0x02520333, // mul  x6, x4, x5
	}
	e := newEngine(t, image)
	run(t, e, 80)

	assert.Equal(t, uint64(4), archInt(e, 4))
	assert.Equal(t, uint64(5), archInt(e, 5))
	assert.Equal(t, uint64(20), archInt(e, 6))
	assert.Equal(t, uint64(0), archInt(e, 3)) // 1/2 == 0
}
