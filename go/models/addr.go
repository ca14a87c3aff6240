package models

import "fmt"

// Paddr is a physical address. The zero value is the null address.
type Paddr uint64

// Vaddr is a virtual address. The zero value is the null address.
type Vaddr uint64

func isPow2(n uint64) bool { return n != 0 && n&(n-1) == 0 }

func (p Paddr) IsNull() bool            { return p == 0 }
func (p Paddr) Add(off uint64) Paddr    { return p + Paddr(off) }
func (p Paddr) Sub(off uint64) Paddr    { return p - Paddr(off) }
func (p Paddr) Diff(other Paddr) uint64 { return uint64(p - other) }
func (p Paddr) String() string          { return fmt.Sprintf("%#x", uint64(p)) }

// SaturatingAdd adds off, clamping at the top of the physical address space.
func (p Paddr) SaturatingAdd(off uint64) Paddr {
	sum := uint64(p) + off
	if sum < uint64(p) {
		return Paddr(^uint64(0))
	}
	return Paddr(sum)
}

func (p Paddr) AlignUp(align uint64) (Paddr, bool) {
	if !isPow2(align) {
		return 0, false
	}
	mask := align - 1
	return Paddr((uint64(p) + mask) &^ mask), true
}

func (p Paddr) AlignDown(align uint64) (Paddr, bool) {
	if !isPow2(align) {
		return 0, false
	}
	return Paddr(uint64(p) &^ (align - 1)), true
}

// IsAligned reports whether p is a multiple of align. ok is false when align
// is not a power of two.
func (p Paddr) IsAligned(align uint64) (aligned, ok bool) {
	if !isPow2(align) {
		return false, false
	}
	return uint64(p)&(align-1) == 0, true
}

func (v Vaddr) IsNull() bool            { return v == 0 }
func (v Vaddr) Add(off uint64) Vaddr    { return v + Vaddr(off) }
func (v Vaddr) Sub(off uint64) Vaddr    { return v - Vaddr(off) }
func (v Vaddr) Diff(other Vaddr) uint64 { return uint64(v - other) }
func (v Vaddr) String() string          { return fmt.Sprintf("%#x", uint64(v)) }

// SaturatingAdd adds off, clamping at the top of the address space.
func (v Vaddr) SaturatingAdd(off uint64) Vaddr {
	sum := uint64(v) + off
	if sum < uint64(v) {
		return Vaddr(^uint64(0))
	}
	return Vaddr(sum)
}

func (v Vaddr) AlignUp(align uint64) (Vaddr, bool) {
	if !isPow2(align) {
		return 0, false
	}
	mask := align - 1
	return Vaddr((uint64(v) + mask) &^ mask), true
}

func (v Vaddr) AlignDown(align uint64) (Vaddr, bool) {
	if !isPow2(align) {
		return 0, false
	}
	return Vaddr(uint64(v) &^ (align - 1)), true
}

func (v Vaddr) IsAligned(align uint64) (aligned, ok bool) {
	if !isPow2(align) {
		return false, false
	}
	return uint64(v)&(align-1) == 0, true
}

// PageAlignDown is AlignDown(PageSize) without the ok result.
func (v Vaddr) PageAlignDown() Vaddr { return Vaddr(uint64(v) &^ (PageSize - 1)) }
