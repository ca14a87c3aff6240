// Package sim is an in-memory microkernel that implements the capability
// operations the manager uses, for host-side runs and tests.
package sim

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

// Slots of the manager's own capabilities.
const (
	SlotRootTCB       models.CapSlot = 1
	SlotRootCNode     models.CapSlot = 2
	SlotRootVSpace    models.CapSlot = 3
	SlotASIDPool      models.CapSlot = 6
	SlotIOPortControl models.CapSlot = 7
	SlotSchedControl  models.CapSlot = 8
	firstUntypedSlot  models.CapSlot = 16
)

const (
	asidPoolSize = 1024
	maxPriority  = 255
)

// UntypedSpec describes one extent of the simulated machine's memory.
type UntypedSpec struct {
	Paddr    models.Paddr
	SizeBits uint8
	Device   bool
}

type Config struct {
	Arch       models.Arch
	EmptyStart models.CapSlot
	EmptyEnd   models.CapSlot
	Untypeds   []UntypedSpec
}

type Kernel struct {
	mu       sync.Mutex
	arch     models.Arch
	slots    map[models.CapSlot]*object
	mem      *PhysMem
	nextASID uint16
	bootInfo models.BootInfo
	root     *addrSpace

	inbox   chan *delivery
	pending map[*models.Message]chan []uint64

	log *slog.Logger
}

func New(cfg Config) (*Kernel, error) {
	if !cfg.Arch.Valid() {
		return nil, errors.Errorf("unsupported arch %q", cfg.Arch)
	}
	if cfg.EmptyStart < firstUntypedSlot+models.CapSlot(len(cfg.Untypeds)) {
		return nil, errors.Errorf("empty slots must start at or after %d", firstUntypedSlot+models.CapSlot(len(cfg.Untypeds)))
	}
	if cfg.EmptyEnd < cfg.EmptyStart {
		return nil, errors.New("empty slot range is inverted")
	}
	k := &Kernel{
		arch:     cfg.Arch,
		slots:    make(map[models.CapSlot]*object),
		mem:      NewPhysMem(),
		nextASID: 1,
		inbox:    make(chan *delivery),
		pending:  make(map[*models.Message]chan []uint64),
		log:      slog.Default().With("src", "sim"),
	}
	k.root = newAddrSpace(cfg.Arch)
	k.root.asid = k.nextASID
	k.nextASID++
	k.slots[SlotRootVSpace] = &object{typ: models.ObjVSpace, slot: SlotRootVSpace, space: k.root}
	k.slots[SlotRootCNode] = &object{typ: models.ObjCNode, slot: SlotRootCNode}
	k.slots[SlotRootTCB] = &object{typ: models.ObjTCB, slot: SlotRootTCB, tcb: &TCBState{Resumed: true}}
	k.bootInfo = models.BootInfo{
		RootCNode:     SlotRootCNode,
		RootVSpace:    SlotRootVSpace,
		RootTCB:       SlotRootTCB,
		ASIDPool:      SlotASIDPool,
		SchedControl:  SlotSchedControl,
		IOPortControl: SlotIOPortControl,
		EmptyStart:    cfg.EmptyStart,
		EmptyEnd:      cfg.EmptyEnd,
	}
	for i, ut := range cfg.Untypeds {
		if ut.SizeBits < 4 || ut.SizeBits > 47 {
			return nil, errors.Errorf("untyped %d: size bits %d out of range", i, ut.SizeBits)
		}
		if aligned, _ := ut.Paddr.IsAligned(1 << ut.SizeBits); !aligned {
			return nil, errors.Errorf("untyped %d: %s not aligned to its size", i, ut.Paddr)
		}
		slot := firstUntypedSlot + models.CapSlot(i)
		k.slots[slot] = &object{
			typ:      models.ObjUntyped,
			slot:     slot,
			paddr:    ut.Paddr,
			sizeBits: ut.SizeBits,
			untyped:  &untypedState{device: ut.Device},
		}
		k.bootInfo.Untypeds = append(k.bootInfo.Untypeds, models.UntypedInfo{
			Slot: slot, Paddr: ut.Paddr, SizeBits: ut.SizeBits, IsDevice: ut.Device,
		})
	}
	return k, nil
}

func (k *Kernel) Arch() models.Arch { return k.arch }

// BootInfo returns the inventory handed to the manager at startup.
func (k *Kernel) BootInfo() *models.BootInfo {
	bi := k.bootInfo
	bi.Untypeds = append([]models.UntypedInfo(nil), k.bootInfo.Untypeds...)
	return &bi
}

// Close releases the simulated physical memory.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mem.Close()
}

func kerr(op string, code int) error {
	return errors.WithStack(&models.KernelError{Op: op, Code: code})
}

func (k *Kernel) lookup(op string, slot models.CapSlot, typ models.ObjectType) (*object, error) {
	obj, ok := k.slots[slot]
	if !ok || obj.typ != typ {
		return nil, kerr(op, models.KERR_INVALID_CAPABILITY)
	}
	return obj, nil
}

func (k *Kernel) Retype(src models.CapSlot, typ models.ObjectType, param uint8, dest models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	ut, err := k.lookup("retype", src, models.ObjUntyped)
	if err != nil {
		return err
	}
	if _, ok := k.slots[dest]; ok {
		return kerr("retype", models.KERR_DELETE_FIRST)
	}
	bits, ok := models.ObjectSizeBits(k.arch, typ, param)
	if !ok || typ == models.ObjIOPort {
		return kerr("retype", models.KERR_INVALID_ARGUMENT)
	}
	if ut.untyped.device && typ != models.ObjFrame && typ != models.ObjUntyped {
		return kerr("retype", models.KERR_INVALID_ARGUMENT)
	}
	size := uint64(1) << bits
	off := (ut.untyped.watermark + size - 1) &^ (size - 1)
	if bits > ut.sizeBits || off+size > uint64(1)<<ut.sizeBits {
		return kerr("retype", models.KERR_NOT_ENOUGH_MEMORY)
	}
	ut.untyped.watermark = off + size
	obj := &object{typ: typ, slot: dest, paddr: ut.paddr.Add(off), sizeBits: bits}
	switch typ {
	case models.ObjFrame:
		data, err := k.mem.Page(obj.paddr)
		if err != nil {
			return err
		}
		if !ut.untyped.device {
			clear(data)
		}
		obj.frame = &frameState{data: data}
	case models.ObjVSpace:
		obj.space = newAddrSpace(k.arch)
	case models.ObjCNode:
		obj.cnode = &cnodeState{radix: param, slots: make(map[models.CapSlot]*object)}
	case models.ObjTCB:
		obj.tcb = &TCBState{}
	case models.ObjSchedContext:
		obj.sched = &SchedState{}
	case models.ObjUntyped:
		obj.untyped = &untypedState{device: ut.untyped.device}
	}
	k.slots[dest] = obj
	k.log.Debug("retype", "src", src, "type", typ, "dest", dest, "paddr", obj.paddr)
	return nil
}

func (k *Kernel) AssignASID(vspace models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	vs, err := k.lookup("assign asid", vspace, models.ObjVSpace)
	if err != nil {
		return err
	}
	if vs.space.asid != 0 {
		return kerr("assign asid", models.KERR_INVALID_CAPABILITY)
	}
	if k.nextASID >= asidPoolSize {
		return kerr("assign asid", models.KERR_DELETE_FIRST)
	}
	vs.space.asid = k.nextASID
	k.nextASID++
	return nil
}

func (k *Kernel) space(op string, vspace models.CapSlot) (*addrSpace, error) {
	vs, err := k.lookup(op, vspace, models.ObjVSpace)
	if err != nil {
		return nil, err
	}
	if vs.space.asid == 0 {
		return nil, kerr(op, models.KERR_INVALID_CAPABILITY)
	}
	return vs.space, nil
}

func (k *Kernel) MapFrame(frame, vspace models.CapSlot, vaddr models.Vaddr, prot int, attrs int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	fr, err := k.lookup("map frame", frame, models.ObjFrame)
	if err != nil {
		return err
	}
	space, err := k.space("map frame", vspace)
	if err != nil {
		return err
	}
	if aligned, _ := vaddr.IsAligned(models.PageSize); !aligned {
		return kerr("map frame", models.KERR_ALIGNMENT_ERROR)
	}
	if prot&models.PROT_READ == 0 {
		return kerr("map frame", models.KERR_INVALID_ARGUMENT)
	}
	if fr.frame.space != nil {
		return kerr("map frame", models.KERR_INVALID_CAPABILITY)
	}
	if attrs&models.ATTR_EXECUTE_NEVER != 0 {
		prot &^= models.PROT_EXEC
	}
	desc := ""
	if attrs&models.ATTR_DEVICE_UNCACHE != 0 {
		desc = "device"
	}
	if err := space.mapFrame(fr, uint64(vaddr), prot, desc); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (k *Kernel) UnmapFrame(frame models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	fr, err := k.lookup("unmap frame", frame, models.ObjFrame)
	if err != nil {
		return err
	}
	if fr.frame.space != nil {
		fr.frame.space.unmapFrame(fr)
	}
	return nil
}

func (k *Kernel) MapTable(table, vspace models.CapSlot, vaddr models.Vaddr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	tbl, ok := k.slots[table]
	if !ok || !tbl.typ.IsTable() {
		return kerr("map table", models.KERR_INVALID_CAPABILITY)
	}
	if tbl.table != nil {
		return kerr("map table", models.KERR_INVALID_CAPABILITY)
	}
	space, err := k.space("map table", vspace)
	if err != nil {
		return err
	}
	if err := space.mapTable(tbl, uint64(vaddr)); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (k *Kernel) Store(vaddr models.Vaddr, p []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.root.write(uint64(vaddr), p)
}

func (k *Kernel) ConfigureSched(sc models.CapSlot, budgetUS, periodUS uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, err := k.lookup("configure sched", sc, models.ObjSchedContext)
	if err != nil {
		return err
	}
	if budgetUS == 0 || budgetUS > periodUS {
		return kerr("configure sched", models.KERR_RANGE_ERROR)
	}
	obj.sched.BudgetUS, obj.sched.PeriodUS = budgetUS, periodUS
	obj.sched.Configured = true
	obj.sched.Refills++
	return nil
}

func (k *Kernel) ConfigureTCB(tcb, cspace, vspace models.CapSlot, ipcBuffer models.Vaddr, ipcFrame models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.lookup("configure tcb", tcb, models.ObjTCB)
	if err != nil {
		return err
	}
	cn, err := k.lookup("configure tcb", cspace, models.ObjCNode)
	if err != nil {
		return err
	}
	if _, err := k.lookup("configure tcb", vspace, models.ObjVSpace); err != nil {
		return err
	}
	fr, err := k.lookup("configure tcb", ipcFrame, models.ObjFrame)
	if err != nil {
		return err
	}
	if aligned, _ := ipcBuffer.IsAligned(512); !aligned {
		return kerr("configure tcb", models.KERR_ALIGNMENT_ERROR)
	}
	st := t.tcb
	st.CSpace, st.VSpace, st.IPCBuffer, st.IPCFrame = cspace, vspace, ipcBuffer, ipcFrame
	st.cnode, st.ipcFrame = cn, fr
	st.configured = true
	return nil
}

func (k *Kernel) WriteRegisters(tcb models.CapSlot, regs models.UserContext) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.lookup("write registers", tcb, models.ObjTCB)
	if err != nil {
		return err
	}
	t.tcb.Regs = regs
	return nil
}

func (k *Kernel) SetSchedParams(tcb models.CapSlot, priority uint8, sc, faultEP models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.lookup("set sched params", tcb, models.ObjTCB)
	if err != nil {
		return err
	}
	sched, err := k.lookup("set sched params", sc, models.ObjSchedContext)
	if err != nil {
		return err
	}
	ep, err := k.lookup("set sched params", faultEP, models.ObjEndpoint)
	if err != nil {
		return err
	}
	if !sched.sched.Configured {
		return kerr("set sched params", models.KERR_ILLEGAL_OPERATION)
	}
	t.tcb.Priority, t.tcb.Sched, t.tcb.FaultEP = priority, sc, faultEP
	t.tcb.faultEP = ep
	return nil
}

func (k *Kernel) Resume(tcb models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.lookup("resume", tcb, models.ObjTCB)
	if err != nil {
		return err
	}
	if !t.tcb.configured || t.tcb.Sched == models.SlotNull {
		return kerr("resume", models.KERR_ILLEGAL_OPERATION)
	}
	t.tcb.Resumed = true
	return nil
}

func (k *Kernel) CopyCap(src, cnode models.CapSlot, dstIndex models.CapSlot) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[src]
	if !ok {
		return kerr("copy cap", models.KERR_FAILED_LOOKUP)
	}
	cn, err := k.lookup("copy cap", cnode, models.ObjCNode)
	if err != nil {
		return err
	}
	if cn.cnode == nil || uint64(dstIndex) >= uint64(1)<<cn.cnode.radix {
		return kerr("copy cap", models.KERR_RANGE_ERROR)
	}
	if _, ok := cn.cnode.slots[dstIndex]; ok {
		return kerr("copy cap", models.KERR_DELETE_FIRST)
	}
	cn.cnode.slots[dstIndex] = obj
	return nil
}

func (k *Kernel) IssueIOPort(dest models.CapSlot, first, last uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.arch != models.ArchX86_64 {
		return kerr("issue ioport", models.KERR_ILLEGAL_OPERATION)
	}
	if first > last {
		return kerr("issue ioport", models.KERR_RANGE_ERROR)
	}
	if _, ok := k.slots[dest]; ok {
		return kerr("issue ioport", models.KERR_DELETE_FIRST)
	}
	k.slots[dest] = &object{typ: models.ObjIOPort, slot: dest, ports: [2]uint16{first, last}}
	return nil
}
