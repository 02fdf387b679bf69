// Package execute applies RISC-V result semantics at a modelled
// latency and emits branch resolutions (spec §4.5, §4.6 "Branch unit",
// C9). This file holds the pure arithmetic/branch semantics, grounded
// on the teacher's per-opcode handler functions (ops_arith.go,
// ops_logic.go, ops_branch.go) and flag computation (flags.go) -- same
// "pure function computes the RISC-V result for given operands" shape,
// RV64 semantics instead of M68K.
package execute

import (
	"math/bits"

	"github.com/rv-ooo/rvcore/decode"
	"github.com/rv-ooo/rvcore/uop"
)

func shamt(op uop.MicroOp, v uint64) uint64 {
	if op.Is32 {
		return v & 0x1F
	}
	return v & 0x3F
}

// Alu computes the result of an FUAlu/FUMul/FUDiv MicroOp given its
// resolved source values (and pc, for AUIPC). Division semantics
// follow the RISC-V base spec: divide-by-zero and signed overflow do
// not trap, they produce defined sentinel results.
func Alu(op uop.MicroOp, rs1, rs2 uint64, pc uint64) uint64 {
	var imm uint64 = uint64(op.Imm)
	var a, b uint64 = rs1, rs2
	if op.FU == uop.FUAlu && op.AluOp != decode.AluLui && op.AluOp != decode.AluAuipc {
		// OP-IMM forms use the immediate as the second operand; OP
		// forms use rs2. Decode leaves Lrs2Type at RegNone for OP-IMM,
		// which is what selects the immediate here.
		if op.Lrs2Type == uop.RegNone {
			b = imm
		}
	}

	var r uint64
	switch op.AluOp {
	case decode.AluAdd:
		r = a + b
	case decode.AluSub:
		r = a - b
	case decode.AluSll:
		r = a << shamt(op, b)
	case decode.AluSlt:
		r = b2u(int64(a) < int64(b))
	case decode.AluSltu:
		r = b2u(a < b)
	case decode.AluXor:
		r = a ^ b
	case decode.AluSrl:
		if op.Is32 {
			r = uint64(uint32(a) >> shamt(op, b))
		} else {
			r = a >> shamt(op, b)
		}
	case decode.AluSra:
		if op.Is32 {
			r = uint64(uint32(int32(uint32(a)) >> shamt(op, b)))
		} else {
			r = uint64(int64(a) >> shamt(op, b))
		}
	case decode.AluOr:
		r = a | b
	case decode.AluAnd:
		r = a & b
	case decode.AluLui:
		r = imm
	case decode.AluAuipc:
		r = pc + imm
	case decode.AluMul:
		r = a * b
	case decode.AluMulh:
		r = uint64(mulhSigned(int64(a), int64(b)))
	case decode.AluMulhu:
		hi, _ := bits.Mul64(a, b)
		r = hi
	case decode.AluMulhsu:
		r = uint64(mulhSU(int64(a), b))
	case decode.AluDiv:
		r = divSigned(int64(a), int64(b), op.Is32)
	case decode.AluDivu:
		r = divUnsigned(a, b, op.Is32)
	case decode.AluRem:
		r = remSigned(int64(a), int64(b), op.Is32)
	case decode.AluRemu:
		r = remUnsigned(a, b, op.Is32)
	}

	if op.Is32 {
		r = uint64(int64(int32(uint32(r))))
	}
	return r
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func mulhSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	prod := int64(hi) - (a>>63)*b - (b>>63)*a
	return prod
}

func mulhSU(a int64, b uint64) int64 {
	hi, _ := bits.Mul64(uint64(a), b)
	return int64(hi) - (a>>63)*int64(b)
}

func divSigned(a, b int64, is32 bool) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	minVal := int64(-1) << 63
	if is32 {
		minVal = int64(int32(-1)) << 31
	}
	if a == minVal && b == -1 {
		return uint64(a)
	}
	return uint64(a / b)
}

func divUnsigned(a, b uint64, is32 bool) uint64 {
	if b == 0 {
		if is32 {
			return 0xFFFFFFFF
		}
		return ^uint64(0)
	}
	return a / b
}

func remSigned(a, b int64, is32 bool) uint64 {
	if b == 0 {
		return uint64(a)
	}
	minVal := int64(-1) << 63
	if is32 {
		minVal = int64(int32(-1)) << 31
	}
	if a == minVal && b == -1 {
		return 0
	}
	return uint64(a % b)
}

func remUnsigned(a, b uint64, is32 bool) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

// BranchResolution is the tagged-variant outcome of a branch/jump unit
// evaluation (spec §4.5).
type BranchResolution struct {
	Valid          bool
	Mispredict     bool
	Taken          bool
	Target         uint64
	LinkValue      uint64 // PC+4, written to rd for jal/jalr
	ResolveMask    uop.BrMask
	MispredictMask uop.BrMask
	BrTag          uint8
	RobIdx         int
	FtqIdx         int
}

// Branch evaluates a branch/jal/jalr MicroOp, comparing the actual
// outcome against the prediction embedded at fetch (spec §4.5: "compares
// with the predicted value embedded in the MicroOp").
func Branch(op uop.MicroOp, rs1, rs2 uint64, pc uint64) BranchResolution {
	res := BranchResolution{Valid: true, BrTag: op.BrTag, RobIdx: op.RobIdx, FtqIdx: op.FtqIdx}
	res.ResolveMask = 1 << op.BrTag

	var taken bool
	var target uint64
	switch {
	case op.IsJal:
		taken = true
		target = pc + uint64(op.Imm)
		res.LinkValue = pc + 4
	case op.IsJalr:
		taken = true
		target = (rs1 + uint64(op.Imm)) &^ 1
		res.LinkValue = pc + 4
	default: // conditional branch
		switch op.BrCond {
		case decode.BrEq:
			taken = rs1 == rs2
		case decode.BrNe:
			taken = rs1 != rs2
		case decode.BrLt:
			taken = int64(rs1) < int64(rs2)
		case decode.BrGe:
			taken = int64(rs1) >= int64(rs2)
		case decode.BrLtu:
			taken = rs1 < rs2
		case decode.BrGeu:
			taken = rs1 >= rs2
		}
		if taken {
			target = pc + uint64(op.Imm)
		} else {
			target = pc + 4
		}
	}

	res.Taken = taken
	res.Target = target
	mispredict := taken != op.PredTaken || (taken && target != op.PredTarget)
	res.Mispredict = mispredict
	if mispredict {
		res.MispredictMask = res.ResolveMask
	}
	return res
}
