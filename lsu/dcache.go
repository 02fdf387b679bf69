package lsu

// Cmd is a D-cache request command (spec §6 "To/from D-cache").
type Cmd uint8

const (
	CmdRead Cmd = iota
	CmdWrite
	CmdAmoSwap
	CmdPrefetch
)

// Req is a D-cache request.
type Req struct {
	Tag   int
	Paddr uint64
	Size  uint8
	Cmd   Cmd
	Data  uint64
}

// Resp is a D-cache response, or a nack if the request could not be
// accepted (structural hazard / MSHR full -- spec §4.6 "Nack
// handling").
type Resp struct {
	Tag     int
	Data    uint64
	Nack    bool
	HasData bool
}

// DCache is the narrow boundary this package talks to (spec §1: "we
// model its interface (request/response/nack) and the LSU around it"
// -- the cache itself, like the teacher's Bus, is an external
// collaborator).
type DCache interface {
	Request(req Req) bool // false = nacked immediately (MSHR full)
	Advance()             // ticks internal response latency by one cycle
	Poll() []Resp         // responses ready this cycle
}

type pendingResp struct {
	resp     Resp
	remaining int
}

// SimpleMem is a flat byte-addressed memory model with a fixed
// response latency and a bounded number of outstanding misses (MSHRs),
// in the idiom of the teacher's testBus/spyBus flat-array test harness
// (testutil_test.go) -- promoted here from a test helper to the
// engine's own default D-cache implementation, since modelling the
// real cache's internals is explicitly out of scope (spec §1).
type SimpleMem struct {
	mem      []byte
	latency  int
	maxMSHR  int
	pending  []pendingResp
}

// NewSimpleMem builds a memory of size bytes, responding after latency
// cycles, accepting at most maxMSHR outstanding requests at once
// (spec §4.6 "D-cache nack (structural hazard / MSHR full)").
func NewSimpleMem(size, latency, maxMSHR int) *SimpleMem {
	return &SimpleMem{mem: make([]byte, size), latency: latency, maxMSHR: maxMSHR}
}

// Load is a test/fixture convenience to pre-populate memory.
func (m *SimpleMem) Load(addr uint64, data []byte) {
	copy(m.mem[addr:], data)
}

// ReadForTest is a test/fixture convenience to inspect memory after a
// write or AMO has landed.
func (m *SimpleMem) ReadForTest(addr uint64, size uint8) uint64 {
	return m.readBytes(addr, size)
}

func (m *SimpleMem) readBytes(addr uint64, size uint8) uint64 {
	var v uint64
	for i := uint8(0); i < size; i++ {
		v |= uint64(m.mem[addr+uint64(i)]) << (8 * i)
	}
	return v
}

func (m *SimpleMem) writeBytes(addr uint64, size uint8, val uint64) {
	for i := uint8(0); i < size; i++ {
		m.mem[addr+uint64(i)] = byte(val >> (8 * i))
	}
}

// Request implements DCache.
func (m *SimpleMem) Request(req Req) bool {
	if len(m.pending) >= m.maxMSHR {
		return false
	}
	var resp Resp
	resp.Tag = req.Tag
	switch req.Cmd {
	case CmdAmoSwap:
		resp.Data = m.readBytes(req.Paddr, req.Size) // pre-swap value, returned to the destination register
		resp.HasData = true
		m.writeBytes(req.Paddr, req.Size, req.Data)
	case CmdWrite:
		m.writeBytes(req.Paddr, req.Size, req.Data)
	default:
		resp.Data = m.readBytes(req.Paddr, req.Size)
		resp.HasData = true
	}
	// Two-cycle resp-to-nack delay (spec §4.6): the latency below also
	// stands in for that delay, since both are "the response is not
	// available the same cycle the request is made".
	m.pending = append(m.pending, pendingResp{resp: resp, remaining: m.latency})
	return true
}

// Advance implements DCache.
func (m *SimpleMem) Advance() {
	for i := range m.pending {
		m.pending[i].remaining--
	}
}

// Poll implements DCache.
func (m *SimpleMem) Poll() []Resp {
	var out []Resp
	rest := m.pending[:0]
	for _, p := range m.pending {
		if p.remaining <= 0 {
			out = append(out, p.resp)
		} else {
			rest = append(rest, p)
		}
	}
	m.pending = rest
	return out
}
