// Package realm builds a sandbox from untyped memory: its address space,
// capability table, scheduling context and first thread.
package realm

import (
	"fmt"

	"github.com/lonaos/lmm/go/models"
)

const (
	CNodeRadix    = 8
	SchedSizeBits = 12
	Priority      = 254

	DefaultBudgetUS = 10_000
	DefaultPeriodUS = 10_000

	StackPages = models.WorkerStackSize / models.PageSize
	HeapPages  = models.InitHeapSize / models.PageSize

	UARTPaddr models.Paddr = 0x0900_0000
	COM1First uint16       = 0x3f8
	COM1Last  uint16       = 0x3ff
)

// Realm is a fully constructed sandbox. Slots index the manager's table.
type Realm struct {
	ID models.RealmID

	VSpace       models.CapSlot
	CSpace       models.CapSlot
	TCB          models.CapSlot
	SchedContext models.CapSlot
	Endpoint     models.CapSlot
	IPCFrame     models.CapSlot

	Entry    uint64
	Digest   uint64
	BudgetUS uint64
	PeriodUS uint64
	Flags    models.BootFlags

	// Pages counts frames mapped into the realm while building it.
	Pages int
}

func (r *Realm) String() string {
	return fmt.Sprintf("realm %d: vspace %s cspace %s tcb %s sc %s ep %s entry %#x",
		r.ID, r.VSpace, r.CSpace, r.TCB, r.SchedContext, r.Endpoint, r.Entry)
}

// StartContext is the register image worker id starts with.
func (r *Realm) StartContext(worker models.WorkerID) models.UserContext {
	return models.UserContext{
		PC: r.Entry,
		SP: models.WorkerStackBase(worker) + models.WorkerStackSize,
		Args: [5]uint64{
			uint64(r.ID),
			uint64(worker),
			models.ProcessPoolBase,
			models.InitHeapSize,
			uint64(r.Flags),
		},
	}
}
