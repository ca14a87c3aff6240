package pagetable

import (
	"log/slog"

	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
)

// hetero levels, top to bottom
var heteroTables = [Levels]models.ObjectType{models.ObjPDPT, models.ObjPageDirectory, models.ObjPageTable}

// Hetero materializes hierarchies where each level has its own table type
// (x86_64: PDPT, page directory, page table). Levels are tried top to
// bottom; a level that turns out to exist wastes the table created for it.
type Hetero struct {
	f     *kobj.Factory
	known known
	log   *slog.Logger
}

func NewHetero(f *kobj.Factory) *Hetero {
	return &Hetero{f: f, known: make(known), log: slog.Default().With("src", "pagetable")}
}

func (h *Hetero) Present(vspace models.CapSlot, vaddr models.Vaddr, upTo int) {
	h.known.markUpTo(vspace, vaddr, upTo)
}

func (h *Hetero) Materialize(vspace models.CapSlot, vaddr models.Vaddr) (Status, error) {
	for i, typ := range heteroTables {
		level := i + 1
		if h.known.has(vspace, vaddr, level) {
			continue
		}
		table, err := h.f.Create(typ, 0)
		if err != nil {
			return StatusNone, err
		}
		err = h.f.Kernel.MapTable(table, vspace, vaddr)
		switch {
		case err == nil:
			h.known.mark(vspace, vaddr, level)
			h.log.Debug("page table", "type", typ, "vspace", vspace, "vaddr", vaddr, "slot", table)
			return LevelCreated, nil
		case models.IsDeleteFirst(err):
			h.log.Debug("level exists", "type", typ, "vspace", vspace, "vaddr", vaddr, "wasted", table)
			h.known.mark(vspace, vaddr, level)
		default:
			return StatusNone, models.Fail(models.ErrMappingFailed, "map "+typ.String(), err)
		}
	}
	return NothingMissing, nil
}
