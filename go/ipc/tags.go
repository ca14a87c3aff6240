// Package ipc defines the fixed-register memory-growth protocol spoken between
// a realm and the memory manager, and the realm-side client for it.
package ipc

import (
	"fmt"

	"github.com/lonaos/lmm/go/models"
)

// Tag is the first message register. Values below 128 are requests, the
// rest responses.
type Tag uint64

const (
	TagAllocPages          Tag = 1
	TagSuccess             Tag = 128
	TagErrorOutOfMemory    Tag = 129
	TagErrorInvalidRequest Tag = 130
)

const (
	AllocPagesRequestLen  = 4
	AllocPagesResponseLen = 3
)

func TagFromU64(v uint64) (Tag, bool) {
	switch Tag(v) {
	case TagAllocPages, TagSuccess, TagErrorOutOfMemory, TagErrorInvalidRequest:
		return Tag(v), true
	}
	return 0, false
}

func (t Tag) IsRequest() bool  { return t < 128 }
func (t Tag) IsResponse() bool { return t >= 128 }
func (t Tag) IsSuccess() bool  { return t == TagSuccess }
func (t Tag) IsError() bool    { return t.IsResponse() && !t.IsSuccess() }

func (t Tag) String() string {
	switch t {
	case TagAllocPages:
		return "AllocPages"
	case TagSuccess:
		return "Success"
	case TagErrorOutOfMemory:
		return "ErrorOutOfMemory"
	case TagErrorInvalidRequest:
		return "ErrorInvalidRequest"
	}
	return fmt.Sprintf("Tag(%d)", uint64(t))
}

// Region selects the virtual window the manager maps new pages into.
type Region uint64

const (
	RegionProcessPool Region = 1
	RegionRealmBinary Region = 2
	RegionRealmLocal  Region = 3
)

func RegionFromU64(v uint64) (Region, bool) {
	switch Region(v) {
	case RegionProcessPool, RegionRealmBinary, RegionRealmLocal:
		return Region(v), true
	}
	return 0, false
}

func (r Region) String() string {
	switch r {
	case RegionProcessPool:
		return "ProcessPool"
	case RegionRealmBinary:
		return "RealmBinary"
	case RegionRealmLocal:
		return "RealmLocal"
	}
	return fmt.Sprintf("Region(%d)", uint64(r))
}

// Bounds returns the half-open window [base, limit) of r.
func (r Region) Bounds() (base, limit uint64) {
	switch r {
	case RegionProcessPool:
		return models.ProcessPoolBase, models.ProcessPoolBase + models.ProcessPoolSize
	case RegionRealmBinary:
		return models.RealmBinaryBase, models.RealmBinaryBase + models.RealmBinarySize
	case RegionRealmLocal:
		return models.RealmLocalBase, models.RealmLocalBase + models.RealmLocalSize
	}
	return 0, 0
}

func pagesToBytes(pages uint64) (uint64, bool) {
	if pages > ^uint64(0)/models.PageSize {
		return 0, false
	}
	return pages * models.PageSize, true
}

// ValidateHint reports whether pages pages at hint are page aligned and lie
// entirely inside r.
func (r Region) ValidateHint(hint models.Vaddr, pages uint64) bool {
	start := uint64(hint)
	if start&(models.PageSize-1) != 0 {
		return false
	}
	size, ok := pagesToBytes(pages)
	if !ok {
		return false
	}
	end := start + size
	if end < start {
		return false
	}
	base, limit := r.Bounds()
	return start >= base && end <= limit
}

// AdvancePointer moves the bump pointer past a hinted allocation. It never
// moves backwards.
func (r Region) AdvancePointer(current uint64, hint models.Vaddr, pages uint64) uint64 {
	size, ok := pagesToBytes(pages)
	if !ok {
		size = ^uint64(0)
	}
	end := uint64(hint.SaturatingAdd(size))
	if end > current {
		return end
	}
	return current
}

// AllocateCheck returns the bump pointer after allocating pages pages at
// current, or false if that leaves the region or overflows.
func (r Region) AllocateCheck(current, pages uint64) (uint64, bool) {
	size, ok := pagesToBytes(pages)
	if !ok {
		return 0, false
	}
	next := current + size
	if next < current {
		return 0, false
	}
	base, limit := r.Bounds()
	if next < base || next > limit {
		return 0, false
	}
	return next, true
}
