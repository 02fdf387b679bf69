// Package decode turns a raw 32-bit RV64 instruction word into a
// MicroOp template (logical registers, immediate, control flags) with
// no physical registers assigned yet — that happens in rename. In the
// teacher's idiom (decode.go's opcodeTable) decode was a single
// 64K-entry array lookup; a 32-bit encoding has a 4-billion-entry
// space, so here the dispatch is a switch over the RISC-V opcode field
// instead, playing the same "decode is one step, pure function of the
// instruction word" role.
package decode

import (
	"github.com/rv-ooo/rvcore/uop"
)

// ALU operation codes, selected independent of RV64's funct3/funct7
// so execute doesn't need to re-derive them from the raw encoding.
const (
	AluAdd uint8 = iota
	AluSub
	AluSll
	AluSlt
	AluSltu
	AluXor
	AluSrl
	AluSra
	AluOr
	AluAnd
	AluMul
	AluMulh
	AluMulhsu
	AluMulhu
	AluDiv
	AluDivu
	AluRem
	AluRemu
	AluLui
	AluAuipc
)

// Branch condition codes.
const (
	BrEq uint8 = iota
	BrNe
	BrLt
	BrGe
	BrLtu
	BrGeu
	BrAlways // unconditional (jal/jalr)
)

const (
	opLoad    = 0b0000011
	opMiscMem = 0b0001111
	opOpImm   = 0b0010011
	opAuipc   = 0b0010111
	opOpImm32 = 0b0011011
	opStore   = 0b0100011
	opAmo     = 0b0101111
	opOp      = 0b0110011
	opLui     = 0b0110111
	opOp32    = 0b0111011
	opBranch  = 0b1100011
	opJalr    = 0b1100111
	opJal     = 0b1101111
	opSystem  = 0b1110011
)

func bits(v uint32, hi, lo int) uint32 {
	return (v >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(v uint32, bit int) int64 {
	shift := 31 - bit
	return int64(int32(v<<shift)) >> shift
}

// Decode decodes one instruction word at pc into a MicroOp template.
// FtqIdx/RobIdx/PCLob and physical register fields are left zero; the
// caller (fetch/rename) fills those in. An unrecognized opcode decodes
// to an illegal-instruction template with HasException set, mirroring
// the teacher's "nil opcodeTable entry -> illegal instruction" path
// rather than returning a Go error — illegal instruction is an
// architectural outcome, not a decode-stage failure.
func Decode(raw uint32) uop.MicroOp {
	op := bits(raw, 6, 0)
	rd := uint8(bits(raw, 11, 7))
	funct3 := uint8(bits(raw, 14, 12))
	rs1 := uint8(bits(raw, 19, 15))
	rs2 := uint8(bits(raw, 24, 20))
	funct7 := uint8(bits(raw, 31, 25))

	u := uop.MicroOp{}

	switch op {
	case opLui:
		u.FU = uop.FUAlu
		u.AluOp = AluLui
		u.Ldst, u.DstType = rd, regType(rd)
		u.Imm = signExtend(raw&0xFFFFF000, 31)

	case opAuipc:
		u.FU = uop.FUAlu
		u.AluOp = AluAuipc
		u.Ldst, u.DstType = rd, regType(rd)
		u.Imm = signExtend(raw&0xFFFFF000, 31)

	case opJal:
		u.FU = uop.FUJmp
		u.IsJal = true
		u.BrCond = BrAlways
		u.Ldst, u.DstType = rd, regType(rd)
		imm := (bits(raw, 31, 31) << 20) | (bits(raw, 19, 12) << 12) |
			(bits(raw, 20, 20) << 11) | (bits(raw, 30, 21) << 1)
		u.Imm = signExtend(imm, 20)
		u.IsCall = rd == 1 || rd == 5

	case opJalr:
		u.FU = uop.FUJmp
		u.IsJalr = true
		u.BrCond = BrAlways
		u.Ldst, u.DstType = rd, regType(rd)
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Imm = signExtend(bits(raw, 31, 20), 11)
		u.IsRet = rd == 0 && rs1 == 1
		u.IsCall = rd == 1 || rd == 5

	case opBranch:
		u.FU = uop.FUJmp
		u.IsBr = true
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Lrs2, u.Lrs2Type = rs2, regType(rs2)
		imm := (bits(raw, 31, 31) << 12) | (bits(raw, 7, 7) << 11) |
			(bits(raw, 30, 25) << 5) | (bits(raw, 11, 8) << 1)
		u.Imm = signExtend(imm, 12)
		switch funct3 {
		case 0b000:
			u.BrCond = BrEq
		case 0b001:
			u.BrCond = BrNe
		case 0b100:
			u.BrCond = BrLt
		case 0b101:
			u.BrCond = BrGe
		case 0b110:
			u.BrCond = BrLtu
		case 0b111:
			u.BrCond = BrGeu
		default:
			return illegal(raw)
		}

	case opLoad:
		u.FU = uop.FUMemAgen
		u.UsesLdq = true
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Ldst, u.DstType = rd, regType(rd)
		u.Imm = signExtend(bits(raw, 31, 20), 11)
		switch funct3 {
		case 0b000:
			u.MemSize, u.MemSigned = 1, true
		case 0b001:
			u.MemSize, u.MemSigned = 2, true
		case 0b010:
			u.MemSize, u.MemSigned = 4, true
		case 0b011:
			u.MemSize, u.MemSigned = 8, true
		case 0b100:
			u.MemSize, u.MemSigned = 1, false
		case 0b101:
			u.MemSize, u.MemSigned = 2, false
		case 0b110:
			u.MemSize, u.MemSigned = 4, false
		default:
			return illegal(raw)
		}

	case opStore:
		u.FU = uop.FUMemAgen
		u.UsesStq = true
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Lrs2, u.Lrs2Type = rs2, regType(rs2) // store data
		imm := (bits(raw, 31, 25) << 5) | bits(raw, 11, 7)
		u.Imm = signExtend(imm, 11)
		switch funct3 {
		case 0b000:
			u.MemSize = 1
		case 0b001:
			u.MemSize = 2
		case 0b010:
			u.MemSize = 4
		case 0b011:
			u.MemSize = 8
		default:
			return illegal(raw)
		}

	case opAmo:
		// Only AMOSWAP is wired to a D-cache command (lsu.CmdAmoSwap);
		// the rest of the A-extension op space (AMOADD/AMOXOR/AMOAND/...)
		// would need an ALU-side read-modify-write on the cache response
		// and decodes illegal until that exists. aq/rl (bits 26:25) are
		// ignored: this core has no multi-hart memory model for them to
		// order against.
		if funct7>>2 != 0b00001 {
			return illegal(raw)
		}
		u.FU = uop.FUMemAgen
		u.IsAmo = true
		u.UsesStq = true
		// Dispatched only when the ROB is otherwise empty (is_unique, spec
		// §4.2), which is what makes it safe to let retryStore's D-cache
		// request fire as soon as address+data are ready rather than
		// waiting for commit like an ordinary store: nothing older can
		// still be speculative by the time this is even dispatched.
		u.IsUnique = true
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Lrs2, u.Lrs2Type = rs2, regType(rs2) // swap operand, same slot as store data
		u.Ldst, u.DstType = rd, regType(rd)    // destination holds the pre-swap memory value
		switch funct3 {
		case 0b010:
			u.MemSize, u.MemSigned = 4, true
		case 0b011:
			u.MemSize, u.MemSigned = 8, true
		default:
			return illegal(raw)
		}

	case opOpImm, opOpImm32:
		u.FU = uop.FUAlu
		u.Is32 = op == opOpImm32
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Ldst, u.DstType = rd, regType(rd)
		switch funct3 {
		case 0b000:
			u.AluOp = AluAdd
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b010:
			u.AluOp = AluSlt
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b011:
			u.AluOp = AluSltu
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b100:
			u.AluOp = AluXor
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b110:
			u.AluOp = AluOr
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b111:
			u.AluOp = AluAnd
			u.Imm = signExtend(bits(raw, 31, 20), 11)
		case 0b001:
			u.AluOp = AluSll
			u.Imm = int64(bits(raw, 25, 20))
			if u.Is32 {
				u.Imm = int64(bits(raw, 24, 20))
			}
		case 0b101:
			if funct7>>1 == 0b0100000>>1 {
				u.AluOp = AluSra
			} else {
				u.AluOp = AluSrl
			}
			u.Imm = int64(bits(raw, 25, 20))
			if u.Is32 {
				u.Imm = int64(bits(raw, 24, 20))
			}
		}

	case opOp, opOp32:
		u.FU = uop.FUAlu
		u.Is32 = op == opOp32
		u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
		u.Lrs2, u.Lrs2Type = rs2, regType(rs2)
		u.Ldst, u.DstType = rd, regType(rd)
		isMulDiv := funct7 == 0b0000001
		switch {
		case isMulDiv:
			u.FU = uop.FUMul
			switch funct3 {
			case 0b000:
				u.AluOp = AluMul
			case 0b001:
				u.AluOp = AluMulh
			case 0b010:
				u.AluOp = AluMulhsu
			case 0b011:
				u.AluOp = AluMulhu
			case 0b100:
				u.FU = uop.FUDiv
				u.AluOp = AluDiv
			case 0b101:
				u.FU = uop.FUDiv
				u.AluOp = AluDivu
			case 0b110:
				u.FU = uop.FUDiv
				u.AluOp = AluRem
			case 0b111:
				u.FU = uop.FUDiv
				u.AluOp = AluRemu
			}
		default:
			switch funct3 {
			case 0b000:
				if funct7>>1 == 0b0100000>>1 {
					u.AluOp = AluSub
				} else {
					u.AluOp = AluAdd
				}
			case 0b001:
				u.AluOp = AluSll
			case 0b010:
				u.AluOp = AluSlt
			case 0b011:
				u.AluOp = AluSltu
			case 0b100:
				u.AluOp = AluXor
			case 0b101:
				if funct7>>1 == 0b0100000>>1 {
					u.AluOp = AluSra
				} else {
					u.AluOp = AluSrl
				}
			case 0b110:
				u.AluOp = AluOr
			case 0b111:
				u.AluOp = AluAnd
			}
		}

	case opMiscMem:
		u.FU = uop.FUAlu
		u.AluOp = AluAdd
		if funct3 == 0b001 {
			u.IsFenceI = true
		} else {
			u.IsFence = true
		}
		u.IsUnique = true

	case opSystem:
		switch funct3 {
		case 0b000:
			imm := bits(raw, 31, 20)
			u.IsUnique = true
			u.FU = uop.FUCsr
			if imm == 0 {
				u.HasException = true
				u.ExcCause = 8 // ECALL from U
			} else if imm == 1 {
				u.HasException = true
				u.ExcCause = 3 // EBREAK
			} else {
				u.HasException = true
				u.ExcCause = 2 // treat SRET/MRET as illegal: out of scope
			}
		default:
			// CSRRW/CSRRS/CSRRC and immediate forms.
			u.FU = uop.FUCsr
			u.IsUnique = true
			u.Lrs1, u.Lrs1Type = rs1, regType(rs1)
			u.Ldst, u.DstType = rd, regType(rd)
			u.Imm = int64(bits(raw, 31, 20))
			u.AluOp = funct3
		}

	default:
		return illegal(raw)
	}

	return u
}

func regType(r uint8) uop.RegType {
	if r == 0 {
		return uop.RegInt // x0 is still "Int" type; rename special-cases it
	}
	return uop.RegInt
}

func illegal(raw uint32) uop.MicroOp {
	return uop.MicroOp{
		FU:           uop.FUAlu,
		HasException: true,
		ExcCause:     2, // illegal instruction
		IsUnique:     true,
	}
}

// MnemonicOpcode returns the raw opcode field, useful for diagnostics.
func MnemonicOpcode(raw uint32) uint32 { return bits(raw, 6, 0) }
