// Package fetch buffers front-end FetchPackets and decodes them into
// MicroOp templates, dropping entries after a redirect. Instruction
// fetch, the I-cache, TLB, and the branch predictor proper are out of
// scope (spec §1) — the FrontEnd interface here plays the role the
// teacher's Bus interface played for the M68K core: the external
// collaborator this package only ever talks to through a narrow
// boundary.
package fetch

import (
	"github.com/rv-ooo/rvcore/decode"
	"github.com/rv-ooo/rvcore/uop"
)

// FetchPacket is the front-end's per-cycle offering (spec §6).
type FetchPacket struct {
	FtqIdx int
	PC     uint64
	Words  []uint32 // up to fetchWidth instruction words
	Valid  []bool

	PageFault    bool
	AccessFault  bool

	GlobalHistory uint64
	RasIdx        int
	PredictedIdx  int // index within Words of the predicted-taken word, -1 if none
	PredictedPC   uint64
	EdgeInst      bool
}

// Buffer is a bounded FIFO of FetchPackets draining into decode.
type Buffer struct {
	q   []FetchPacket
	cap int
}

// New creates a fetch buffer holding up to capacity packets.
func New(capacity int) *Buffer {
	return &Buffer{cap: capacity}
}

// Push enqueues a packet from the front end. Returns false if the
// buffer is full (back-pressure to the front end).
func (b *Buffer) Push(p FetchPacket) bool {
	if len(b.q) >= b.cap {
		return false
	}
	b.q = append(b.q, p)
	return true
}

// Full reports whether the buffer has no room for another packet.
func (b *Buffer) Full() bool { return len(b.q) >= b.cap }

// Redirect drops every buffered packet — a branch
// resolution or exception clears the whole front end in parallel with
// every other structure (spec §4.7 "Global redirect precedence").
func (b *Buffer) Redirect() {
	b.q = b.q[:0]
}

// Decoded is a decode-stage output: a MicroOp template plus its PC and
// prediction metadata, not yet renamed.
type Decoded struct {
	Op         uop.MicroOp
	PC         uint64
	FtqIdx     int
	PredTaken  bool
	PredTarget uint64
}

// Decode pulls up to width valid words from the head packets and
// decodes each into a MicroOp template (spec: Fetch -> FetchBuffer ->
// Decode). Consumed words are removed; a packet is popped once fully
// drained.
func (b *Buffer) Decode(width int) []Decoded {
	out := make([]Decoded, 0, width)
	for len(out) < width && len(b.q) > 0 {
		pkt := &b.q[0]
		consumedAll := true
		for i := range pkt.Words {
			if !pkt.Valid[i] {
				continue
			}
			if len(out) >= width {
				consumedAll = false
				break
			}
			pc := pkt.PC + uint64(i*4)
			op := decode.Decode(pkt.Words[i])
			op.PCLob = uint32(pc)
			op.FtqIdx = pkt.FtqIdx
			predTaken := pkt.PredictedIdx == i
			d := Decoded{
				Op:         op,
				PC:         pc,
				FtqIdx:     pkt.FtqIdx,
				PredTaken:  predTaken,
				PredTarget: pkt.PredictedPC,
			}
			d.Op.PredTaken = predTaken
			d.Op.PredTarget = pkt.PredictedPC
			out = append(out, d)
			pkt.Valid[i] = false
		}
		if consumedAll {
			b.q = b.q[1:]
		} else {
			break
		}
	}
	return out
}

// Empty reports whether the buffer holds no packets.
func (b *Buffer) Empty() bool { return len(b.q) == 0 }
