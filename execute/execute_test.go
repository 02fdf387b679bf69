package execute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore/decode"
	"github.com/rv-ooo/rvcore/execute"
	"github.com/rv-ooo/rvcore/uop"
)

func TestAluAddUsesImmediateWhenNoSecondOperand(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluAdd, Imm: 5, Lrs2Type: uop.RegNone}
	got := execute.Alu(op, 10, 0, 0)
	assert.Equal(t, uint64(15), got)
}

func TestAluAddUsesRs2WhenPresent(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluAdd, Lrs2Type: uop.RegInt}
	got := execute.Alu(op, 10, 7, 0)
	assert.Equal(t, uint64(17), got)
}

func TestAluAuipcAddsPC(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluAuipc, Imm: 0x1000}
	got := execute.Alu(op, 0, 0, 0x8000_0000)
	assert.Equal(t, uint64(0x8000_1000), got)
}

func TestAluDivByZeroReturnsAllOnes(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluDivu, Lrs2Type: uop.RegInt}
	got := execute.Alu(op, 42, 0, 0)
	assert.Equal(t, ^uint64(0), got)
}

func TestAluDivSignedOverflowSentinel(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluDiv, Lrs2Type: uop.RegInt}
	minInt64 := uint64(1) << 63
	got := execute.Alu(op, minInt64, ^uint64(0), 0) // MinInt64 / -1
	assert.Equal(t, minInt64, got)
}

func TestAluIs32SignExtendsResult(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluAdd, Lrs2Type: uop.RegInt, Is32: true}
	got := execute.Alu(op, 0x7FFF_FFFF, 1, 0) // overflows into the sign bit of a 32-bit add
	assert.Equal(t, uint64(0xFFFF_FFFF_8000_0000), got)
}

func TestAluSraIs32UsesArithmeticShiftOn32BitValue(t *testing.T) {
	op := uop.MicroOp{FU: uop.FUAlu, AluOp: decode.AluSra, Lrs2Type: uop.RegInt, Is32: true}
	got := execute.Alu(op, 0x8000_0000, 4, 0)
	assert.Equal(t, uint64(0xFFFF_FFFF_F800_0000), got)
}

func TestBranchTakenMatchesPrediction(t *testing.T) {
	op := uop.MicroOp{BrCond: decode.BrEq, Imm: 16, PredTaken: true, PredTarget: 0x1010}
	res := execute.Branch(op, 5, 5, 0x1000)
	require.True(t, res.Taken)
	assert.False(t, res.Mispredict)
	assert.Equal(t, uint64(0x1010), res.Target)
}

func TestBranchMispredictSetsMispredictMask(t *testing.T) {
	op := uop.MicroOp{BrCond: decode.BrEq, Imm: 16, PredTaken: false, BrTag: 2}
	res := execute.Branch(op, 5, 5, 0x1000) // actually equal, predicted not-taken
	require.True(t, res.Mispredict)
	assert.Equal(t, res.ResolveMask, res.MispredictMask)
	assert.Equal(t, uop.BrMask(1<<2), res.ResolveMask)
}

func TestBranchJalrMasksOffLsb(t *testing.T) {
	op := uop.MicroOp{IsJalr: true, Imm: 1, PredTaken: true, PredTarget: 0x2000}
	res := execute.Branch(op, 0x1FFF, 0, 0x1000)
	assert.Equal(t, uint64(0x2000), res.Target)
	assert.Equal(t, uint64(0x1004), res.LinkValue)
}

func TestPipeNonPipelinedRejectsWhileBusy(t *testing.T) {
	p := execute.NewPipe(3, false)
	assert.True(t, p.Ready())
	p.Issue(execute.Completion{})
	assert.False(t, p.Ready())

	p.Advance()
	p.Advance()
	assert.False(t, p.Ready())
	done := p.Advance()
	require.Len(t, done, 1)
	assert.True(t, p.Ready())
}

func TestPipePipelinedAlwaysReady(t *testing.T) {
	p := execute.NewPipe(3, true)
	p.Issue(execute.Completion{})
	assert.True(t, p.Ready())
	p.Issue(execute.Completion{})
	assert.True(t, p.Ready())
}

func TestPipeUpdateBranchMaskDropsMispredicted(t *testing.T) {
	p := execute.NewPipe(2, true)
	p.Issue(execute.Completion{Op: uop.MicroOp{BrMask: 0b10}})
	p.Issue(execute.Completion{Op: uop.MicroOp{BrMask: 0}})

	p.UpdateBranchMask(0, 0b10)
	done := p.Advance()
	done = append(done, p.Advance()...)
	require.Len(t, done, 1)
	assert.Equal(t, uop.BrMask(0), done[0].Op.BrMask)
}

func TestUnitsFlushAllClearsEveryPipe(t *testing.T) {
	u := execute.NewUnits(32, 4)
	u.Div.Issue(execute.Completion{})
	u.Alu.Issue(execute.Completion{})
	require.False(t, u.Div.Ready())

	u.FlushAll()
	assert.True(t, u.Div.Ready())
	assert.Empty(t, u.Advance())
}
