package decode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rv-ooo/rvcore/decode"
	"github.com/rv-ooo/rvcore/uop"
)

func TestDecodeAddiSignExtendsNegativeImmediate(t *testing.T) {
	// addi x1, x0, -1
	u := decode.Decode(0xFFF00093)
	assert.Equal(t, uop.FUAlu, u.FU)
	assert.Equal(t, decode.AluAdd, u.AluOp)
	assert.Equal(t, uint8(1), u.Ldst)
	assert.Equal(t, uint8(0), u.Lrs1)
	assert.Equal(t, int64(-1), u.Imm)
}

func TestDecodeAddRegRegHasBothSources(t *testing.T) {
	// add x3, x1, x2
	u := decode.Decode(0x002081B3)
	assert.Equal(t, uop.FUAlu, u.FU)
	assert.Equal(t, decode.AluAdd, u.AluOp)
	assert.Equal(t, uint8(3), u.Ldst)
	assert.Equal(t, uint8(1), u.Lrs1)
	assert.Equal(t, uint8(2), u.Lrs2)
	assert.Equal(t, uop.RegInt, u.Lrs2Type)
}

func TestDecodeSubDistinguishedByFunct7(t *testing.T) {
	// sub x3, x1, x2
	u := decode.Decode(0x402081B3)
	assert.Equal(t, decode.AluSub, u.AluOp)
}

func TestDecodeMulRoutesToMulUnit(t *testing.T) {
	// mul x3, x1, x2
	u := decode.Decode(0x022081B3)
	assert.Equal(t, uop.FUMul, u.FU)
	assert.Equal(t, decode.AluMul, u.AluOp)
}

func TestDecodeDivuRoutesToDivUnit(t *testing.T) {
	// divu x3, x1, x2
	u := decode.Decode(0x0220D1B3)
	assert.Equal(t, uop.FUDiv, u.FU)
	assert.Equal(t, decode.AluDivu, u.AluOp)
}

func TestDecodeLuiSignExtendsUpperImmediate(t *testing.T) {
	// lui x5, 0x80000 -> imm field top bit set, must sign extend
	u := decode.Decode(0x800002B7)
	assert.Equal(t, decode.AluLui, u.AluOp)
	assert.Equal(t, int64(-0x80000000), u.Imm)
}

func TestDecodeJalComputesOffsetAndDetectsCall(t *testing.T) {
	// jal x1, 8
	u := decode.Decode(0x008000EF)
	assert.True(t, u.IsJal)
	assert.Equal(t, uint8(1), u.Ldst)
	assert.Equal(t, int64(8), u.Imm)
	assert.True(t, u.IsCall)
}

func TestDecodeJalrDetectsReturn(t *testing.T) {
	// jalr x0, 0(x1)
	u := decode.Decode(0x00008067)
	assert.True(t, u.IsJalr)
	assert.True(t, u.IsRet)
	assert.Equal(t, int64(0), u.Imm)
}

func TestDecodeBeqSetsBranchCondAndOffset(t *testing.T) {
	// beq x1, x1, 8
	u := decode.Decode(0x00108463)
	assert.True(t, u.IsBr)
	assert.Equal(t, decode.BrEq, u.BrCond)
	assert.Equal(t, int64(8), u.Imm)
}

func TestDecodeLoadWordSetsSizeAndSignedness(t *testing.T) {
	// lw x2, 4(x1)
	u := decode.Decode(0x0040A103)
	assert.Equal(t, uop.FUMemAgen, u.FU)
	assert.True(t, u.UsesLdq)
	assert.Equal(t, uint8(4), u.MemSize)
	assert.True(t, u.MemSigned)
	assert.Equal(t, int64(4), u.Imm)
}

func TestDecodeLoadByteUnsignedIsLbu(t *testing.T) {
	// lbu x2, 0(x1)
	u := decode.Decode(0x0000C103)
	assert.Equal(t, uint8(1), u.MemSize)
	assert.False(t, u.MemSigned)
}

func TestDecodeStoreWordSplitsImmediateAcrossFields(t *testing.T) {
	// sw x2, 4(x1)
	u := decode.Decode(0x0020A223)
	assert.Equal(t, uop.FUMemAgen, u.FU)
	assert.True(t, u.UsesStq)
	assert.Equal(t, uint8(4), u.MemSize)
	assert.Equal(t, int64(4), u.Imm)
	assert.Equal(t, uint8(2), u.Lrs2) // store data source
}

func TestDecodeAmoSwapWSetsStqRoutingAndUniqueness(t *testing.T) {
	// amoswap.w x3, x2, (x1)
	u := decode.Decode(0x0820A1AF)
	assert.Equal(t, uop.FUMemAgen, u.FU)
	assert.True(t, u.IsAmo)
	assert.True(t, u.UsesStq)
	assert.False(t, u.UsesLdq)
	assert.True(t, u.IsUnique)
	assert.Equal(t, uint8(3), u.Ldst)
	assert.Equal(t, uint8(1), u.Lrs1)
	assert.Equal(t, uint8(2), u.Lrs2) // swap operand, same slot as store data
	assert.Equal(t, uint8(4), u.MemSize)
	assert.True(t, u.MemSigned)
}

func TestDecodeAmoAddIsIllegalUntilWired(t *testing.T) {
	// amoadd.w x3, x2, (x1): funct5 = 00000, not the swap opcode this
	// core understands.
	u := decode.Decode(0x0020A1AF)
	assert.True(t, u.HasException)
}

func TestDecodeFenceIIsUniqueAndMarked(t *testing.T) {
	// fence.i
	u := decode.Decode(0x0000100F)
	assert.True(t, u.IsFenceI)
	assert.True(t, u.IsUnique)
}

func TestDecodeEcallSetsExceptionCause(t *testing.T) {
	u := decode.Decode(0x00000073)
	assert.True(t, u.HasException)
	assert.Equal(t, uint64(8), u.ExcCause)
	assert.True(t, u.IsUnique)
}

func TestDecodeCsrrwKeepsAluOpAsFunct3(t *testing.T) {
	// csrrw x1, 0x300, x2
	u := decode.Decode(0x300110F3)
	assert.Equal(t, uop.FUCsr, u.FU)
	assert.True(t, u.IsUnique)
	assert.Equal(t, uint8(0b001), u.AluOp)
	assert.Equal(t, int64(0x300), u.Imm)
}

func TestDecodeUnknownOpcodeIsIllegal(t *testing.T) {
	u := decode.Decode(0x00000000)
	assert.True(t, u.HasException)
	assert.Equal(t, uint64(2), u.ExcCause)
}

func TestDecodeBranchBadFunct3IsIllegal(t *testing.T) {
	// opcode=branch, funct3=010 (unused)
	u := decode.Decode(0x00002063)
	assert.True(t, u.HasException)
}
