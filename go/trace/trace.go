// Package trace records the kernel operations the memory manager performs
// to a compressed trace file, and reads such files back.
package trace

import (
	"log/slog"
	"sync"

	"github.com/lonaos/lmm/go/models"
)

// Kernel forwards every operation to an inner kernel and records it.
type Kernel struct {
	models.Kernel

	mu  sync.Mutex
	w   *TraceWriter
	seq uint64
	err error

	log *slog.Logger
}

func NewKernel(inner models.Kernel, w *TraceWriter) *Kernel {
	return &Kernel{Kernel: inner, w: w, log: slog.Default().With("src", "trace")}
}

// Err returns the first write error. Recording stops after it.
func (k *Kernel) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

func (k *Kernel) Count() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seq
}

func (k *Kernel) record(op uint8, err error, args ...uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err == nil {
		if werr := k.w.Pack(newRecord(k.seq, op, err, args...)); werr != nil {
			k.log.Error("trace write failed", "err", werr)
			k.err = werr
		}
	}
	k.seq++
	return err
}

func (k *Kernel) Retype(src models.CapSlot, obj models.ObjectType, param uint8, dest models.CapSlot) error {
	return k.record(OP_RETYPE, k.Kernel.Retype(src, obj, param, dest),
		uint64(src), uint64(obj), uint64(param), uint64(dest))
}

func (k *Kernel) AssignASID(vspace models.CapSlot) error {
	return k.record(OP_ASSIGN_ASID, k.Kernel.AssignASID(vspace), uint64(vspace))
}

func (k *Kernel) MapFrame(frame, vspace models.CapSlot, vaddr models.Vaddr, prot int, attrs int) error {
	return k.record(OP_MAP_FRAME, k.Kernel.MapFrame(frame, vspace, vaddr, prot, attrs),
		uint64(frame), uint64(vspace), uint64(vaddr), uint64(prot), uint64(attrs))
}

func (k *Kernel) UnmapFrame(frame models.CapSlot) error {
	return k.record(OP_UNMAP_FRAME, k.Kernel.UnmapFrame(frame), uint64(frame))
}

func (k *Kernel) MapTable(table, vspace models.CapSlot, vaddr models.Vaddr) error {
	return k.record(OP_MAP_TABLE, k.Kernel.MapTable(table, vspace, vaddr),
		uint64(table), uint64(vspace), uint64(vaddr))
}

// Store records only the destination and length.
func (k *Kernel) Store(vaddr models.Vaddr, p []byte) error {
	return k.record(OP_STORE, k.Kernel.Store(vaddr, p), uint64(vaddr), uint64(len(p)))
}

func (k *Kernel) ConfigureSched(sc models.CapSlot, budgetUS, periodUS uint64) error {
	return k.record(OP_SCHED_CONFIG, k.Kernel.ConfigureSched(sc, budgetUS, periodUS),
		uint64(sc), budgetUS, periodUS)
}

func (k *Kernel) ConfigureTCB(tcb, cspace, vspace models.CapSlot, ipcBuffer models.Vaddr, ipcFrame models.CapSlot) error {
	return k.record(OP_TCB_CONFIG, k.Kernel.ConfigureTCB(tcb, cspace, vspace, ipcBuffer, ipcFrame),
		uint64(tcb), uint64(cspace), uint64(vspace), uint64(ipcBuffer), uint64(ipcFrame))
}

func (k *Kernel) WriteRegisters(tcb models.CapSlot, regs models.UserContext) error {
	args := []uint64{uint64(tcb), regs.PC, regs.SP}
	args = append(args, regs.Args[:]...)
	return k.record(OP_WRITE_REGS, k.Kernel.WriteRegisters(tcb, regs), args...)
}

func (k *Kernel) SetSchedParams(tcb models.CapSlot, priority uint8, sc, faultEP models.CapSlot) error {
	return k.record(OP_SCHED_PARAMS, k.Kernel.SetSchedParams(tcb, priority, sc, faultEP),
		uint64(tcb), uint64(priority), uint64(sc), uint64(faultEP))
}

func (k *Kernel) Resume(tcb models.CapSlot) error {
	return k.record(OP_RESUME, k.Kernel.Resume(tcb), uint64(tcb))
}

func (k *Kernel) CopyCap(src, cnode models.CapSlot, dstIndex models.CapSlot) error {
	return k.record(OP_COPY_CAP, k.Kernel.CopyCap(src, cnode, dstIndex),
		uint64(src), uint64(cnode), uint64(dstIndex))
}

func (k *Kernel) IssueIOPort(dest models.CapSlot, first, last uint16) error {
	return k.record(OP_IOPORT, k.Kernel.IssueIOPort(dest, first, last),
		uint64(dest), uint64(first), uint64(last))
}
