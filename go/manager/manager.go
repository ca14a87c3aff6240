// Package manager runs the memory manager's event loop: it serves realm
// memory-growth requests and the faults their threads raise.
package manager

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/pagetable"
	"github.com/lonaos/lmm/go/realm"
)

const MaxRealms = 16

var (
	ErrTooManyRealms = errors.New("too many realms")
	ErrDuplicate     = errors.New("realm already registered")
)

type Manager struct {
	kernel models.Kernel
	recv   models.Receiver
	mapper *pagetable.Mapper

	realms []*Entry
	// Limit caps Register, at most MaxRealms.
	Limit int

	log *slog.Logger
}

func New(k models.Kernel, recv models.Receiver, mapper *pagetable.Mapper) *Manager {
	return &Manager{
		kernel: k,
		recv:   recv,
		mapper: mapper,
		realms: make([]*Entry, 0, MaxRealms),
		Limit:  MaxRealms,
		log:    slog.Default().With("src", "manager"),
	}
}

// Register starts serving r's endpoint.
func (m *Manager) Register(r *realm.Realm) (*Entry, error) {
	for _, e := range m.realms {
		if e.Realm.Endpoint == r.Endpoint || e.Realm.ID == r.ID {
			return nil, errors.Wrapf(ErrDuplicate, "realm %d", r.ID)
		}
	}
	if len(m.realms) >= m.Limit || len(m.realms) >= MaxRealms {
		return nil, errors.WithStack(ErrTooManyRealms)
	}
	e := newEntry(r)
	m.realms = append(m.realms, e)
	m.log.Info("registered realm", "realm", r.ID, "endpoint", r.Endpoint)
	return e, nil
}

func (m *Manager) Realms() []*Entry { return m.realms }

// Lookup finds the realm listening on endpoint.
func (m *Manager) Lookup(endpoint models.CapSlot) *Entry {
	for _, e := range m.realms {
		if e.Realm.Endpoint == endpoint {
			return e
		}
	}
	return nil
}

// Run serves messages until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("event loop started", "realms", len(m.realms))
	for {
		msg, err := m.recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.log.Info("event loop stopped")
				return nil
			}
			return errors.Wrap(err, "recv")
		}
		if err := m.Handle(msg); err != nil {
			m.log.Error("reply failed", "endpoint", msg.Endpoint, "label", msg.Label, "err", err)
		}
	}
}

// Handle dispatches one message and replies if the sender should resume.
func (m *Manager) Handle(msg *models.Message) error {
	switch msg.Label {
	case models.LabelCall:
		resp := m.handleCall(msg)
		mrs := resp.MRs()
		return m.recv.Reply(msg, mrs[:])
	case models.LabelVMFault:
		if m.handleVMFault(msg) {
			return m.recv.Reply(msg, nil)
		}
	case models.LabelTimeout:
		if m.handleTimeout(msg) {
			return m.recv.Reply(msg, nil)
		}
	default:
		m.log.Error("unhandled fault", "label", msg.Label, "endpoint", msg.Endpoint,
			"ip", models.Vaddr(msg.MRs[0]), "addr", models.Vaddr(msg.MRs[1]), "data", msg.MRs[2])
	}
	return nil
}

func (m *Manager) handleCall(msg *models.Message) ipc.AllocPagesResponse {
	tag, ok := ipc.TagFromU64(msg.MRs[0])
	if !ok {
		m.log.Warn("invalid message tag", "tag", msg.MRs[0])
		return ipc.ErrorInvalidRequest()
	}
	if tag != ipc.TagAllocPages || msg.Length < ipc.AllocPagesRequestLen {
		m.log.Warn("unexpected message", "tag", tag, "length", msg.Length)
		return ipc.ErrorInvalidRequest()
	}
	req, ok := ipc.RequestFromMRs(msg.MRs)
	if !ok {
		m.log.Warn("invalid alloc pages request", "mrs", msg.MRs)
		return ipc.ErrorInvalidRequest()
	}
	e := m.Lookup(msg.Endpoint)
	if e == nil {
		m.log.Warn("request from unknown endpoint", "endpoint", msg.Endpoint)
		return ipc.ErrorInvalidRequest()
	}
	return m.allocPages(e, req)
}

func (m *Manager) allocPages(e *Entry, req ipc.AllocPagesRequest) ipc.AllocPagesResponse {
	log := m.log.With("realm", e.Realm.ID)
	log.Debug("alloc pages", "request", req)

	var vaddr models.Vaddr
	if req.Hint.IsNull() {
		var ok bool
		if vaddr, ok = e.allocate(req.Region, req.PageCount); !ok {
			log.Warn("region exhausted", "region", req.Region, "pages", req.PageCount)
			return ipc.ErrorInvalidRequest()
		}
	} else {
		if !req.Region.ValidateHint(req.Hint, req.PageCount) {
			log.Warn("invalid hint", "region", req.Region, "hint", req.Hint, "pages", req.PageCount)
			return ipc.ErrorInvalidRequest()
		}
		e.advance(req.Region, req.Hint, req.PageCount)
		vaddr = req.Hint
	}

	for i := uint64(0); i < req.PageCount; i++ {
		page := vaddr.Add(i * models.PageSize)
		if _, err := m.mapper.MapRW(e.Realm.VSpace, page); err != nil {
			// pages mapped so far stay with the realm
			log.Warn("alloc pages failed", "page", page, "index", i, "of", req.PageCount, "err", err)
			return ipc.ErrorOutOfMemory()
		}
		e.PagesAllocated++
	}
	log.Debug("allocated", "vaddr", vaddr, "pages", req.PageCount)
	return ipc.Success(vaddr, req.PageCount)
}

// mapInherited lazily backs the inherited page holding addr. Repeated
// faults on a page already backed cost nothing.
func (m *Manager) mapInherited(e *Entry, addr uint64) error {
	page := uint64(models.Vaddr(addr).PageAlignDown())
	if _, ok := e.inherited[page]; ok {
		return nil
	}
	if _, err := m.mapper.MapRW(e.Realm.VSpace, models.Vaddr(page)); err != nil {
		return err
	}
	e.inherited[page] = struct{}{}
	e.PagesAllocated++
	return nil
}

// handleVMFault reports whether the faulting thread should be resumed.
// Only inherited memory is mapped on demand; any other fault is fatal to
// the thread, which is left blocked.
func (m *Manager) handleVMFault(msg *models.Message) bool {
	fault := models.VMFaultFromMRs(msg.MRs)
	e := m.Lookup(msg.Endpoint)
	if e == nil {
		m.log.Error("vm fault from unknown endpoint", "endpoint", msg.Endpoint, "addr", models.Vaddr(fault.Addr))
		return false
	}
	e.Faults++
	log := m.log.With("realm", e.Realm.ID)
	log.Debug("vm fault", "addr", models.Vaddr(fault.Addr), "ip", models.Vaddr(fault.IP), "prefetch", fault.Prefetch)

	if models.IsInherited(fault.Addr) {
		if err := m.mapInherited(e, fault.Addr); err != nil {
			log.Error("mapping inherited page failed", "addr", models.Vaddr(fault.Addr), "err", err)
			return false
		}
		return true
	}
	region := models.FaultRegionOf(fault.Addr)
	switch region.Type {
	case models.RegionProcessPool:
		log.Error("FATAL: process pool fault, memory must be requested explicitly", "addr", models.Vaddr(fault.Addr), "ip", models.Vaddr(fault.IP))
	case models.RegionRealmBinary, models.RegionRealmLocal:
		log.Error("FATAL: "+region.String()+" fault, memory must be requested explicitly", "addr", models.Vaddr(fault.Addr), "ip", models.Vaddr(fault.IP))
	case models.RegionWorkerStack:
		log.Error("FATAL: stack overflow", "worker", region.Worker, "addr", models.Vaddr(fault.Addr), "ip", models.Vaddr(fault.IP))
	default:
		log.Error("FATAL: invalid memory access", "addr", models.Vaddr(fault.Addr), "ip", models.Vaddr(fault.IP))
	}
	return false
}

// handleTimeout refills the budget and, when the timeout interrupted an
// inherited-page fault, maps the page. The thread is always resumed.
func (m *Manager) handleTimeout(msg *models.Message) bool {
	ip, addr := msg.MRs[0], msg.MRs[1]
	e := m.Lookup(msg.Endpoint)
	if e == nil {
		m.log.Error("timeout from unknown endpoint", "endpoint", msg.Endpoint)
		return false
	}
	e.Timeouts++
	log := m.log.With("realm", e.Realm.ID)
	log.Debug("timeout", "ip", models.Vaddr(ip), "addr", models.Vaddr(addr))

	if err := m.kernel.ConfigureSched(e.Realm.SchedContext, e.BudgetUS, e.PeriodUS); err != nil {
		log.Warn("budget refill failed", "err", err)
	}
	if addr != 0 && models.IsInherited(addr) {
		if err := m.mapInherited(e, addr); err != nil {
			log.Warn("inherited page after timeout", "addr", models.Vaddr(addr), "err", err)
		}
	}
	return true
}
