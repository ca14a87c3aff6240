// Package pagetable creates the intermediate translation structures a frame
// mapping needs, and maps frames into realm address spaces.
package pagetable

import (
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
)

// Levels is the number of intermediate levels between a vspace root and
// its frames on both supported architectures.
const Levels = 3

// Status tells the frame-mapping loop what to do next.
type Status int

const (
	// StatusNone accompanies an error.
	StatusNone Status = iota
	// LevelCreated means a missing level was installed and the leaf mapping
	// should be retried.
	LevelCreated
	// NothingMissing means every level on the path exists.
	NothingMissing
)

func (s Status) String() string {
	switch s {
	case LevelCreated:
		return "level created"
	case NothingMissing:
		return "nothing missing"
	}
	return "none"
}

// A Materializer installs missing translation levels for one architecture.
type Materializer interface {
	// Materialize installs at most one missing level on the path to vaddr.
	// Only levels reported through Present or created here are skipped, so
	// called cold on a path that already exists it retypes a table per level
	// to find out. Mapper.MapFrame feeds kernel lookup results to Present
	// first, which keeps a fully existing path from consuming untyped memory.
	Materialize(vspace models.CapSlot, vaddr models.Vaddr) (Status, error)
	// Present records that levels 1 through upTo exist on the path to vaddr.
	Present(vspace models.CapSlot, vaddr models.Vaddr, upTo int)
}

// New returns the materializer for the factory's architecture.
func New(f *kobj.Factory) (Materializer, error) {
	switch f.Kernel.Arch() {
	case models.ArchAArch64:
		return NewUniform(f), nil
	case models.ArchX86_64:
		return NewHetero(f), nil
	}
	return nil, errors.Errorf("no page table layout for %q", f.Kernel.Arch())
}

// levelKey identifies the table at level covering vaddr.
type levelKey struct {
	vspace models.CapSlot
	level  int
	index  uint64
}

// coverShift is log2 of the span one level-n table covers.
func coverShift(level int) uint {
	return uint(models.PageShift + 9*(Levels+1-level))
}

// known remembers levels that were created or observed, so a fully known
// path is answered without touching untyped memory.
type known map[levelKey]struct{}

func (k known) key(vspace models.CapSlot, vaddr models.Vaddr, level int) levelKey {
	return levelKey{vspace: vspace, level: level, index: uint64(vaddr) >> coverShift(level)}
}

func (k known) has(vspace models.CapSlot, vaddr models.Vaddr, level int) bool {
	_, ok := k[k.key(vspace, vaddr, level)]
	return ok
}

func (k known) mark(vspace models.CapSlot, vaddr models.Vaddr, level int) {
	k[k.key(vspace, vaddr, level)] = struct{}{}
}

func (k known) markUpTo(vspace models.CapSlot, vaddr models.Vaddr, upTo int) {
	for level := 1; level <= upTo && level <= Levels; level++ {
		k.mark(vspace, vaddr, level)
	}
}

// firstUnknown returns the shallowest level not known to exist, or 0.
func (k known) firstUnknown(vspace models.CapSlot, vaddr models.Vaddr) int {
	for level := 1; level <= Levels; level++ {
		if !k.has(vspace, vaddr, level) {
			return level
		}
	}
	return 0
}
