package pagetable

import (
	"log/slog"

	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
)

// Uniform materializes hierarchies built from one table type that the
// kernel installs at whichever level is missing (aarch64).
type Uniform struct {
	f     *kobj.Factory
	known known
	log   *slog.Logger
}

func NewUniform(f *kobj.Factory) *Uniform {
	return &Uniform{f: f, known: make(known), log: slog.Default().With("src", "pagetable")}
}

func (u *Uniform) Present(vspace models.CapSlot, vaddr models.Vaddr, upTo int) {
	u.known.markUpTo(vspace, vaddr, upTo)
}

func (u *Uniform) Materialize(vspace models.CapSlot, vaddr models.Vaddr) (Status, error) {
	level := u.known.firstUnknown(vspace, vaddr)
	if level == 0 {
		return NothingMissing, nil
	}
	table, err := u.f.Create(models.ObjPageTable, 0)
	if err != nil {
		return StatusNone, err
	}
	if err := u.f.Kernel.MapTable(table, vspace, vaddr); err != nil {
		if models.IsDeleteFirst(err) {
			u.known.markUpTo(vspace, vaddr, Levels)
			return NothingMissing, nil
		}
		return StatusNone, models.Fail(models.ErrMappingFailed, "map page table", err)
	}
	// the kernel installs at the first missing level, which is the first
	// one not known here unless the path was built elsewhere
	u.known.mark(vspace, vaddr, level)
	u.log.Debug("page table", "vspace", vspace, "vaddr", vaddr, "slot", table)
	return LevelCreated, nil
}
