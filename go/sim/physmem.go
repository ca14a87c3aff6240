package sim

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lonaos/lmm/go/models"
)

const slabPages = 64

// PhysMem backs simulated physical pages with anonymous mappings, carved a
// slab at a time. Pages are created zeroed on first use.
type PhysMem struct {
	slabs [][]byte
	spare [][]byte
	pages map[models.Paddr][]byte
}

func NewPhysMem() *PhysMem {
	return &PhysMem{pages: make(map[models.Paddr][]byte)}
}

func (m *PhysMem) grow() error {
	slab, err := unix.Mmap(-1, 0, slabPages*models.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return errors.Wrap(err, "mmap slab")
	}
	m.slabs = append(m.slabs, slab)
	for i := 0; i < slabPages; i++ {
		m.spare = append(m.spare, slab[i*models.PageSize:(i+1)*models.PageSize:(i+1)*models.PageSize])
	}
	return nil
}

// Page returns the backing bytes of the page at paddr.
func (m *PhysMem) Page(paddr models.Paddr) ([]byte, error) {
	paddr = paddr &^ (models.PageSize - 1)
	if page, ok := m.pages[paddr]; ok {
		return page, nil
	}
	if len(m.spare) == 0 {
		if err := m.grow(); err != nil {
			return nil, err
		}
	}
	page := m.spare[len(m.spare)-1]
	m.spare = m.spare[:len(m.spare)-1]
	m.pages[paddr] = page
	return page, nil
}

// Resident is the number of pages with backing.
func (m *PhysMem) Resident() int { return len(m.pages) }

func (m *PhysMem) Close() error {
	var first error
	for _, slab := range m.slabs {
		if err := unix.Munmap(slab); err != nil && first == nil {
			first = errors.Wrap(err, "munmap slab")
		}
	}
	m.slabs, m.spare, m.pages = nil, nil, nil
	return first
}
