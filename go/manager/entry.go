package manager

import (
	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/realm"
)

// Entry is the manager's bookkeeping for one registered realm.
type Entry struct {
	Realm *realm.Realm

	BudgetUS uint64
	PeriodUS uint64

	next map[ipc.Region]uint64

	// lazily mapped inherited pages
	inherited map[uint64]struct{}

	PagesAllocated uint64
	Faults         int
	Timeouts       int
}

func newEntry(r *realm.Realm) *Entry {
	e := &Entry{
		Realm:     r,
		BudgetUS:  r.BudgetUS,
		PeriodUS:  r.PeriodUS,
		next:      make(map[ipc.Region]uint64),
		inherited: make(map[uint64]struct{}),
	}
	for _, region := range []ipc.Region{ipc.RegionProcessPool, ipc.RegionRealmBinary, ipc.RegionRealmLocal} {
		e.next[region], _ = region.Bounds()
	}
	// the initial heap already occupies the bottom of the pool
	e.next[ipc.RegionProcessPool] += models.InitHeapSize
	return e
}

// Next returns the address the next unhinted request in region would get.
func (e *Entry) Next(region ipc.Region) uint64 { return e.next[region] }

// allocate bumps region's pointer by pages and returns the old value.
func (e *Entry) allocate(region ipc.Region, pages uint64) (models.Vaddr, bool) {
	cur := e.next[region]
	next, ok := region.AllocateCheck(cur, pages)
	if !ok {
		return 0, false
	}
	e.next[region] = next
	return models.Vaddr(cur), true
}

func (e *Entry) advance(region ipc.Region, hint models.Vaddr, pages uint64) {
	e.next[region] = region.AdvancePointer(e.next[region], hint, pages)
}
