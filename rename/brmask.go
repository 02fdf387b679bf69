package rename

import "github.com/rv-ooo/rvcore/uop"

// BrMaskAllocator hands out branch tags from a fixed pool of
// maxBrCount and tracks which are currently in flight (spec §4.1
// "allocate one of maxBrCount free tags; the MicroOp's br_mask is the
// current set of in-flight branch tags excluding its own").
type BrMaskAllocator struct {
	max     int
	free    uop.BrMask // 1 bit per tag, 1 = free
	inFlight uop.BrMask // 1 bit per tag, 1 = currently allocated
}

// NewBrMaskAllocator builds an allocator for max in-flight branches.
func NewBrMaskAllocator(max int) *BrMaskAllocator {
	var free uop.BrMask
	for i := 0; i < max; i++ {
		free = free.Set(uint8(i))
	}
	return &BrMaskAllocator{max: max, free: free}
}

// Full reports whether every tag is currently allocated.
func (a *BrMaskAllocator) Full() bool { return a.free == 0 }

// Alloc pops the lowest free tag, returning it and the br_mask this
// new branch's dependents should be tagged with (the set of tags
// in-flight *before* this allocation). Caller must check Full first.
func (a *BrMaskAllocator) Alloc() (tag uint8, currentMask uop.BrMask) {
	for i := 0; i < a.max; i++ {
		if a.free.Has(uint8(i)) {
			tag = uint8(i)
			break
		}
	}
	currentMask = a.inFlight
	a.free = a.free &^ (1 << tag)
	a.inFlight = a.inFlight.Set(tag)
	return tag, currentMask
}

// Resolve releases tag back to the free pool once its branch has
// resolved (correctly predicted or mispredicted-and-squashed).
func (a *BrMaskAllocator) Resolve(tag uint8) {
	a.inFlight = a.inFlight &^ (1 << tag)
	a.free = a.free.Set(tag)
}

// InFlight returns the current set of allocated tags, i.e. the br_mask
// that the next-allocated branch will capture.
func (a *BrMaskAllocator) InFlight() uop.BrMask { return a.inFlight }

// ReleaseMask bulk-releases every tag set in mask, used when a branch
// misprediction squashes a whole cone of younger, still-unresolved
// branches along with the mispredicting one.
func (a *BrMaskAllocator) ReleaseMask(mask uop.BrMask) {
	a.inFlight = a.inFlight &^ mask
	a.free = a.free | mask
}
