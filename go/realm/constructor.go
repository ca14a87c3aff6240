package realm

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/pagetable"
)

// Constructor creates realms. It owns nothing itself; every object comes
// from the mapper's factory.
type Constructor struct {
	mapper *pagetable.Mapper
	f      *kobj.Factory

	BudgetUS uint64
	PeriodUS uint64

	log *slog.Logger
}

func NewConstructor(m *pagetable.Mapper) *Constructor {
	return &Constructor{
		mapper:   m,
		f:        m.Factory(),
		BudgetUS: DefaultBudgetUS,
		PeriodUS: DefaultPeriodUS,
		log:      slog.Default().With("src", "realm"),
	}
}

type digester interface {
	Digest() uint64
}

// Create builds realm id from image. Nothing is returned unless every step
// succeeded; objects created before a failure stay allocated.
func (c *Constructor) Create(id models.RealmID, image models.Loader) (*Realm, error) {
	if image == nil {
		return nil, models.Fail(models.ErrNoBootImage, "create realm", errors.New("no image"))
	}
	k := c.f.Kernel
	if image.Arch() != k.Arch() {
		return nil, models.Fail(models.ErrNoBootImage, "create realm", errors.Errorf("%s image on %s", image.Arch(), k.Arch()))
	}
	segments, err := image.Segments()
	if err != nil {
		return nil, models.Fail(models.ErrNoBootImage, "read segments", err)
	}
	r := &Realm{ID: id, Entry: image.Entry(), BudgetUS: c.BudgetUS, PeriodUS: c.PeriodUS}
	if d, ok := image.(digester); ok {
		r.Digest = d.Digest()
	}
	log := c.log.With("realm", id)
	log.Info("creating realm", "entry", r.Entry, "segments", len(segments))

	if r.VSpace, err = c.f.Create(models.ObjVSpace, 0); err != nil {
		return nil, err
	}
	if err := k.AssignASID(r.VSpace); err != nil {
		return nil, models.Fail(models.ErrAsidAssignment, "assign asid", err)
	}

	for i := range segments {
		seg := &segments[i]
		log.Debug("segment", "index", i, "vaddr", seg.Vaddr, "size", seg.MemSize, "prot", seg.ProtString())
		if err := c.mapSegment(r, seg); err != nil {
			return nil, err
		}
	}

	stack := models.WorkerStackBase(0)
	for i := uint64(0); i < StackPages; i++ {
		if _, err := c.mapper.MapRW(r.VSpace, models.Vaddr(stack+i*models.PageSize)); err != nil {
			return nil, err
		}
		r.Pages++
	}
	ipcBuffer := models.Vaddr(models.WorkerIPCBuffer(0))
	if r.IPCFrame, err = c.mapper.MapRW(r.VSpace, ipcBuffer); err != nil {
		return nil, err
	}
	r.Pages++
	for i := uint64(0); i < HeapPages; i++ {
		if _, err := c.mapper.MapRW(r.VSpace, models.Vaddr(models.ProcessPoolBase+i*models.PageSize)); err != nil {
			return nil, err
		}
		r.Pages++
	}
	log.Debug("stack, ipc buffer and heap mapped", "stack", stack, "ipc", ipcBuffer, "heap", models.Vaddr(models.ProcessPoolBase))

	if r.CSpace, err = c.f.Create(models.ObjCNode, CNodeRadix); err != nil {
		return nil, err
	}
	if r.Endpoint, err = c.f.Create(models.ObjEndpoint, 0); err != nil {
		return nil, err
	}
	if err := k.CopyCap(r.Endpoint, r.CSpace, models.SlotLMMEndpoint); err != nil {
		return nil, models.Fail(models.ErrObjectCreation, "copy endpoint", err)
	}
	if r.SchedContext, err = c.f.Create(models.ObjSchedContext, SchedSizeBits); err != nil {
		return nil, err
	}
	if err := k.ConfigureSched(r.SchedContext, r.BudgetUS, r.PeriodUS); err != nil {
		return nil, models.Fail(models.ErrTcbConfiguration, "configure sched context", err)
	}
	if r.TCB, err = c.f.Create(models.ObjTCB, 0); err != nil {
		return nil, err
	}
	if err := k.ConfigureTCB(r.TCB, r.CSpace, r.VSpace, ipcBuffer, r.IPCFrame); err != nil {
		return nil, models.Fail(models.ErrTcbConfiguration, "configure tcb", err)
	}

	if err := c.setupDevice(r); err != nil {
		return nil, err
	}
	r.Flags |= models.BootHasUART
	if id == models.RealmInit {
		r.Flags |= models.BootIsInitRealm
	}
	log.Info("realm created", "pages", r.Pages, "tcb", r.TCB, "endpoint", r.Endpoint)
	return r, nil
}

// mapSegment maps every page the segment touches, copying its file bytes
// and leaving the rest zeroed.
func (c *Constructor) mapSegment(r *Realm, seg *models.Segment) error {
	if seg.MemSize == 0 {
		return nil
	}
	end := seg.Vaddr + seg.MemSize
	if end < seg.Vaddr {
		return models.Fail(models.ErrMappingFailed, "map segment", errors.Errorf("segment at %#x wraps", seg.Vaddr))
	}
	first := models.Vaddr(seg.Vaddr).PageAlignDown()
	dataEnd := seg.Vaddr + uint64(len(seg.Data))
	for page := uint64(first); page < end; page += models.PageSize {
		var img []byte
		lo, hi := max(page, seg.Vaddr), min(page+models.PageSize, dataEnd)
		if lo < hi {
			img = make([]byte, models.PageSize)
			copy(img[lo-page:], seg.Data[lo-seg.Vaddr:hi-seg.Vaddr])
		}
		if _, err := c.mapper.MapPage(r.VSpace, models.Vaddr(page), img, seg.Prot); err != nil {
			return err
		}
		r.Pages++
	}
	return nil
}

func (c *Constructor) setupDevice(r *Realm) error {
	k := c.f.Kernel
	switch k.Arch() {
	case models.ArchAArch64:
		if _, err := c.mapper.MapDevice(r.VSpace, models.UARTVaddr, UARTPaddr); err != nil {
			return err
		}
		r.Pages++
	case models.ArchX86_64:
		slot, err := c.f.Slots.Alloc()
		if err != nil {
			return models.Fail(models.ErrOutOfSlots, "ioport slot", err)
		}
		if err := k.IssueIOPort(slot, COM1First, COM1Last); err != nil {
			return models.Fail(models.ErrObjectCreation, "issue ioport", err)
		}
		if err := k.CopyCap(slot, r.CSpace, models.SlotIOPortUART); err != nil {
			return models.Fail(models.ErrObjectCreation, "copy ioport", err)
		}
	}
	return nil
}

// StartWorker sets worker's registers, binds its scheduling context and
// fault endpoint, and resumes it.
func (c *Constructor) StartWorker(r *Realm, worker models.WorkerID) error {
	k := c.f.Kernel
	regs := r.StartContext(worker)
	if err := k.WriteRegisters(r.TCB, regs); err != nil {
		return models.Fail(models.ErrTcbConfiguration, "write registers", err)
	}
	if err := k.SetSchedParams(r.TCB, Priority, r.SchedContext, r.Endpoint); err != nil {
		return models.Fail(models.ErrTcbConfiguration, "set sched params", err)
	}
	if err := k.Resume(r.TCB); err != nil {
		return models.Fail(models.ErrTcbConfiguration, "resume", err)
	}
	c.log.Info("worker started", "realm", r.ID, "worker", worker, "regs", regs)
	return nil
}
