package sim

import "github.com/lonaos/lmm/go/models"

type untypedState struct {
	watermark uint64
	device    bool
}

type frameState struct {
	data     []byte
	space    *addrSpace
	mappedAt uint64
}

type tableState struct {
	level   int
	entries map[uint64]*object
	frames  map[uint64]*object
}

type cnodeState struct {
	radix uint8
	slots map[models.CapSlot]*object
}

// TCBState is the observable configuration of a simulated thread.
type TCBState struct {
	CSpace    models.CapSlot
	VSpace    models.CapSlot
	IPCBuffer models.Vaddr
	IPCFrame  models.CapSlot
	Regs      models.UserContext
	Priority  uint8
	Sched     models.CapSlot
	FaultEP   models.CapSlot
	Resumed   bool

	configured bool
	cnode      *object
	ipcFrame   *object
	faultEP    *object
}

// SchedState is the observable configuration of a scheduling context.
type SchedState struct {
	BudgetUS, PeriodUS uint64
	Configured         bool
	Refills            int
}

type object struct {
	typ      models.ObjectType
	slot     models.CapSlot
	paddr    models.Paddr
	sizeBits uint8

	untyped *untypedState
	frame   *frameState
	table   *tableState
	space   *addrSpace
	cnode   *cnodeState
	tcb     *TCBState
	sched   *SchedState
	ports   [2]uint16
}
