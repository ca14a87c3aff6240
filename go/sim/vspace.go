package sim

import (
	"sort"

	"github.com/lonaos/lmm/go/models"
)

const levels = 4

// index of vaddr's entry in a table at level (0 is the root)
func index(level int, vaddr uint64) uint64 {
	shift := uint(models.PageShift + 9*(levels-1-level))
	return (vaddr >> shift) & 0x1ff
}

type addrSpace struct {
	arch  models.Arch
	asid  uint16
	root  *tableState
	pages Pages
}

func newAddrSpace(arch models.Arch) *addrSpace {
	return &addrSpace{arch: arch, root: newTable(0)}
}

func newTable(level int) *tableState {
	return &tableState{level: level, entries: make(map[uint64]*object), frames: make(map[uint64]*object)}
}

// walk descends towards vaddr and returns the deepest table reached and its
// level. The walk stops at the first missing entry or at the leaf table.
func (s *addrSpace) walk(vaddr uint64, until int) (*tableState, int) {
	t := s.root
	for level := 0; level < until; level++ {
		next, ok := t.entries[index(level, vaddr)]
		if !ok {
			return t, level
		}
		t = next.table
	}
	return t, until
}

func (s *addrSpace) mapTable(tbl *object, vaddr uint64) error {
	want := models.TableLevel(s.arch, tbl.typ)
	if want < 0 {
		return &models.KernelError{Op: "map table", Code: models.KERR_ILLEGAL_OPERATION}
	}
	if want == 0 {
		// uniform hierarchy: install at the first missing level
		parent, level := s.walk(vaddr, levels-1)
		if level == levels-1 {
			return &models.KernelError{Op: "map table", Code: models.KERR_DELETE_FIRST}
		}
		s.install(parent, level, tbl, vaddr)
		return nil
	}
	parent, level := s.walk(vaddr, want-1)
	if level < want-1 {
		return &models.KernelError{Op: "map table", Code: models.KERR_FAILED_LOOKUP, Level: level + 1}
	}
	if _, ok := parent.entries[index(level, vaddr)]; ok {
		return &models.KernelError{Op: "map table", Code: models.KERR_DELETE_FIRST}
	}
	s.install(parent, level, tbl, vaddr)
	return nil
}

func (s *addrSpace) install(parent *tableState, level int, tbl *object, vaddr uint64) {
	tbl.table = newTable(level + 1)
	parent.entries[index(level, vaddr)] = tbl
}

func (s *addrSpace) mapFrame(frame *object, vaddr uint64, prot int, desc string) error {
	leaf, level := s.walk(vaddr, levels-1)
	if level < levels-1 {
		return &models.KernelError{Op: "map frame", Code: models.KERR_FAILED_LOOKUP, Level: level + 1}
	}
	idx := index(levels-1, vaddr)
	if _, ok := leaf.frames[idx]; ok {
		return &models.KernelError{Op: "map frame", Code: models.KERR_DELETE_FIRST}
	}
	leaf.frames[idx] = frame
	frame.frame.space = s
	frame.frame.mappedAt = vaddr
	s.pages = append(s.pages, &Page{
		Addr:  vaddr,
		Size:  models.PageSize,
		Prot:  prot,
		Data:  frame.frame.data,
		Frame: frame.slot,
		Paddr: frame.paddr,
		Desc:  desc,
	})
	sort.Sort(s.pages)
	return nil
}

func (s *addrSpace) unmapFrame(frame *object) {
	vaddr := frame.frame.mappedAt
	leaf, level := s.walk(vaddr, levels-1)
	if level == levels-1 {
		delete(leaf.frames, index(levels-1, vaddr))
	}
	s.pages = s.pages.remove(vaddr)
	frame.frame.space = nil
	frame.frame.mappedAt = 0
}

func (s *addrSpace) tableCount() int {
	var count func(t *tableState) int
	count = func(t *tableState) int {
		n := 0
		for _, e := range t.entries {
			n += 1 + count(e.table)
		}
		return n
	}
	return count(s.root)
}

// read and write follow the permission checks a user-mode access would see
func (s *addrSpace) read(addr uint64, p []byte) error {
	if gmap, gprot := s.pages.rangeValid(addr, uint64(len(p)), models.PROT_READ); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_PROT}
	}
	for len(p) > 0 {
		mm := s.pages.Find(addr)
		n := copy(p, mm.Data[addr-mm.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (s *addrSpace) write(addr uint64, p []byte) error {
	if gmap, gprot := s.pages.rangeValid(addr, uint64(len(p)), models.PROT_WRITE); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	for len(p) > 0 {
		mm := s.pages.Find(addr)
		n := copy(mm.Data[addr-mm.Addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}
