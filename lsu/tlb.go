// Package lsu implements the load/store unit: LDQ/STQ, the abstracted
// TLB + D-cache interface, memory-ordering disambiguation, store->load
// forwarding, and nack/replay (spec §3.1, §4.6, C10).
package lsu

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Translation is a TLB lookup result (spec §6 "To/from TLB").
type Translation struct {
	Paddr    uint64
	Miss     bool
	PFLoad   bool
	PFStore  bool
	AEFault  bool
}

// TLB models the one-cycle-hit translation interface spec §4.6 asks
// implementers to abstract ("implementer models a 1-cycle TLB,
// producing paddr or miss"). A real page-table walk is out of scope
// (spec §1); what we do model is the hit/miss timing and a way for a
// test harness to mark specific pages as faulting, via an
// LRU-backed cache of recently translated pages -- grounded on the
// pack's erigon dependency on hashicorp/golang-lru.
type TLB struct {
	cache      *lru.Cache[uint64, uint64] // page number -> frame number, hit = this cycle
	pageBits   uint
	faultLoad  map[uint64]bool // page number -> page fault on load
	faultStore map[uint64]bool
}

// NewTLB builds a TLB with the given LRU entry capacity. pageBits is
// the page size in bits (12 = 4KiB pages).
func NewTLB(entries int, pageBits uint) *TLB {
	c, _ := lru.New[uint64, uint64](entries)
	return &TLB{cache: c, pageBits: pageBits, faultLoad: map[uint64]bool{}, faultStore: map[uint64]bool{}}
}

// MarkPageFault configures the page containing vaddr to fault on the
// given access type, for test fixtures exercising spec §8 scenario 5.
func (t *TLB) MarkPageFault(vaddr uint64, onLoad, onStore bool) {
	page := vaddr >> t.pageBits
	if onLoad {
		t.faultLoad[page] = true
	}
	if onStore {
		t.faultStore[page] = true
	}
}

// Translate performs an identity-mapped translation (frame == page),
// which is all a behavioral simulator needs: what matters is the
// hit/miss/fault timing, not real physical memory layout.
func (t *TLB) Translate(vaddr uint64, isStore bool) Translation {
	page := vaddr >> t.pageBits
	if isStore && t.faultStore[page] {
		return Translation{PFStore: true}
	}
	if !isStore && t.faultLoad[page] {
		return Translation{PFLoad: true}
	}
	if _, ok := t.cache.Get(page); !ok {
		t.cache.Add(page, page)
		return Translation{Miss: true}
	}
	return Translation{Paddr: vaddr}
}
