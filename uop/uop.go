// Package uop defines MicroOp, the uniform in-flight record that flows
// through every stage of the engine (spec §3.1 C1). It owns no
// behavior beyond small predicates; stages mutate copies and pass them
// along by value, per spec §9's "no pointer graphs, indices only".
package uop

// RegType tags which register file (if any) a logical/physical
// register id refers to.
type RegType uint8

const (
	RegNone RegType = iota
	RegInt
	RegFloat
	RegPass // pass-through, e.g. a predicate bit; never renamed
)

// FUClass is the functional-unit class a MicroOp issues to.
type FUClass uint8

const (
	FUAlu FUClass = iota
	FUJmp
	FUMul
	FUDiv
	FUCsr
	FUMemAgen
	FUMemDgen
	FUFpAdd
	FUFpMul
	FUFpDiv
	FUI2F
	FUF2I
)

// IQ identifies which issue queue a MicroOp dispatches into.
type IQ uint8

const (
	IQInt IQ = iota
	IQMem
	IQFp
)

func (f FUClass) IQ() IQ {
	switch f {
	case FUMemAgen, FUMemDgen:
		return IQMem
	case FUFpAdd, FUFpMul, FUFpDiv, FUI2F, FUF2I:
		return IQFp
	default:
		return IQInt
	}
}

// BrMask is a fixed-width bitmap of in-flight branch tags, per spec §9
// ("fixed-width bitmaps (array of u64); bit operations dominate").
// maxBrCount is capped at 64 by config.Params.Validate, so a single
// uint64 suffices.
type BrMask uint64

func (m BrMask) Has(tag uint8) bool { return m&(1<<tag) != 0 }
func (m BrMask) Set(tag uint8) BrMask { return m | (1 << tag) }
func (m BrMask) Clear(resolveMask BrMask) BrMask { return m &^ resolveMask }
func (m BrMask) Intersects(other BrMask) bool { return m&other != 0 }

// MicroOp is the decoded, renamed, in-flight instruction record
// (spec §3.1).
type MicroOp struct {
	// Identity / program order.
	RobIdx int
	FtqIdx int
	PCLob  uint32 // low bits of PC; full PC reconstructed via FTQ

	// Decode.
	FU       FUClass
	Imm      int64
	IsBr     bool
	IsJal    bool
	IsJalr   bool
	IsRet    bool
	IsCall   bool
	IsFence  bool
	IsFenceI bool
	IsAmo    bool
	UsesLdq  bool
	UsesStq  bool
	IsUnique bool
	FlushOnCommit bool

	MemSize  uint8 // 1,2,4,8 bytes
	MemSigned bool

	// AluOp/BrCond select the specific operation within FUAlu/FUJmp;
	// Is32 marks an RV64 "W"-suffixed 32-bit operation.
	AluOp  uint8
	BrCond uint8
	Is32   bool

	// Logical registers (architectural, pre-rename).
	Lrs1, Lrs2, Lrs3 uint8
	Ldst             uint8
	Lrs1Type, Lrs2Type, Lrs3Type, DstType RegType

	// Physical registers (post-rename).
	Prs1, Prs2, Prs3 int
	Pdst             int
	StalePdst        int

	// Speculation.
	BrTag  uint8 // only meaningful if IsBr
	BrMask BrMask

	// Queue indices, valid only if UsesLdq/UsesStq.
	LdqIdx int
	StqIdx int

	// Branch-unit prediction embedded at fetch, compared at execute.
	PredTaken  bool
	PredTarget uint64

	// Exception bookkeeping, latched at decode/execute, delivered at commit.
	HasException bool
	ExcCause     uint64
	ExcTval      uint64
}

// Destroyed reports whether a uop speculated under br_mask must be
// squashed given the mispredict mask of a branch resolution (spec §4.3
// rule 5 / §8 invariant).
func (u MicroOp) Destroyed(mispredictMask BrMask) bool {
	return u.BrMask.Intersects(mispredictMask)
}

// AgeLess reports whether a is strictly older than b in program order,
// by ROB index with wraparound-aware comparison against a given head.
func AgeLess(a, b, head, robSize int) bool {
	da := (a - head + robSize) % robSize
	db := (b - head + robSize) % robSize
	return da < db
}
