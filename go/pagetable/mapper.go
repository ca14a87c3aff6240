package pagetable

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
)

// TempMapVaddr is where frames are mapped in the manager's own address space
// while their contents are written.
const TempMapVaddr models.Vaddr = 0x0000_0000_4000_0000

// maxMapAttempts bounds the leaf mapping loop: one try per missing level
// plus the final successful one.
const maxMapAttempts = Levels + 1

// Mapper maps frames into address spaces, creating translation levels on
// demand.
type Mapper struct {
	f    *kobj.Factory
	mat  Materializer
	root models.CapSlot
	log  *slog.Logger
}

// NewMapper returns a Mapper that stages frame contents through root, the
// manager's own vspace.
func NewMapper(f *kobj.Factory, mat Materializer, root models.CapSlot) *Mapper {
	return &Mapper{f: f, mat: mat, root: root, log: slog.Default().With("src", "pagetable")}
}

func (m *Mapper) Factory() *kobj.Factory { return m.f }

// rights turns segment permissions into map rights and attributes. Frames
// are mapped read-write when writable, otherwise read-only.
func (m *Mapper) rights(prot int) (int, int) {
	rights := models.PROT_READ
	if prot&models.PROT_WRITE != 0 {
		rights |= models.PROT_WRITE
	}
	attrs := models.ATTR_DEFAULT
	if prot&models.PROT_EXEC != 0 {
		rights |= models.PROT_EXEC
	} else if m.f.Kernel.Arch() == models.ArchAArch64 {
		attrs |= models.ATTR_EXECUTE_NEVER
	}
	return rights, attrs
}

// MapFrame maps frame at vaddr in vspace, creating missing levels.
func (m *Mapper) MapFrame(frame, vspace models.CapSlot, vaddr models.Vaddr, prot int) error {
	rights, attrs := m.rights(prot)
	return m.mapFrame(frame, vspace, vaddr, rights, attrs)
}

func (m *Mapper) mapFrame(frame, vspace models.CapSlot, vaddr models.Vaddr, rights, attrs int) error {
	for attempt := 0; attempt < maxMapAttempts; attempt++ {
		err := m.f.Kernel.MapFrame(frame, vspace, vaddr, rights, attrs)
		if err == nil {
			m.mat.Present(vspace, vaddr, Levels)
			return nil
		}
		if !models.IsFailedLookup(err) {
			return models.Fail(models.ErrMappingFailed, "map frame", err)
		}
		var kerr *models.KernelError
		if errors.As(err, &kerr) && kerr.Level > 1 {
			m.mat.Present(vspace, vaddr, kerr.Level-1)
		}
		status, err := m.mat.Materialize(vspace, vaddr)
		if err != nil {
			return err
		}
		if status == NothingMissing {
			return models.Fail(models.ErrMappingFailed, "map frame", errors.Errorf("no level missing at %s", vaddr))
		}
	}
	return models.Fail(models.ErrMappingFailed, "map frame", errors.Errorf("gave up at %s after %d attempts", vaddr, maxMapAttempts))
}

// EnsureTables creates every missing level on the path to vaddr.
func (m *Mapper) EnsureTables(vspace models.CapSlot, vaddr models.Vaddr) error {
	for i := 0; i <= Levels; i++ {
		status, err := m.mat.Materialize(vspace, vaddr)
		if err != nil {
			return err
		}
		if status == NothingMissing {
			return nil
		}
	}
	return nil
}

// Fill writes data into frame, zeroing the rest of the page, by mapping it
// briefly into the manager's address space.
func (m *Mapper) Fill(frame models.CapSlot, data []byte) error {
	if len(data) > models.PageSize {
		return errors.Errorf("fill: %d bytes exceeds a page", len(data))
	}
	if err := m.mapFrame(frame, m.root, TempMapVaddr, models.PROT_READ|models.PROT_WRITE, models.ATTR_DEFAULT); err != nil {
		return err
	}
	page := make([]byte, models.PageSize)
	copy(page, data)
	if err := m.f.Kernel.Store(TempMapVaddr, page); err != nil {
		m.f.Kernel.UnmapFrame(frame)
		return models.Fail(models.ErrMappingFailed, "fill frame", err)
	}
	if err := m.f.Kernel.UnmapFrame(frame); err != nil {
		return models.Fail(models.ErrMappingFailed, "unmap temporary", err)
	}
	return nil
}

// MapPage creates a frame holding data and maps it at vaddr.
func (m *Mapper) MapPage(vspace models.CapSlot, vaddr models.Vaddr, data []byte, prot int) (models.CapSlot, error) {
	frame, err := m.f.Create(models.ObjFrame, 0)
	if err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if err := m.Fill(frame, data); err != nil {
			return 0, err
		}
	}
	if err := m.MapFrame(frame, vspace, vaddr, prot); err != nil {
		return 0, err
	}
	return frame, nil
}

// MapRW maps a new zeroed read-write frame at vaddr.
func (m *Mapper) MapRW(vspace models.CapSlot, vaddr models.Vaddr) (models.CapSlot, error) {
	frame, err := m.f.Create(models.ObjFrame, 0)
	if err != nil {
		return 0, err
	}
	if err := m.Fill(frame, nil); err != nil {
		return 0, err
	}
	if err := m.MapFrame(frame, vspace, vaddr, models.PROT_READ|models.PROT_WRITE); err != nil {
		return 0, err
	}
	return frame, nil
}

// MapDevice maps the device page at paddr uncached and non-executable.
func (m *Mapper) MapDevice(vspace models.CapSlot, vaddr models.Vaddr, paddr models.Paddr) (models.CapSlot, error) {
	frame, err := m.f.DeviceFrame(paddr)
	if err != nil {
		return 0, err
	}
	attrs := models.ATTR_DEVICE_UNCACHE
	if m.f.Kernel.Arch() == models.ArchAArch64 {
		attrs |= models.ATTR_EXECUTE_NEVER
	}
	if err := m.mapFrame(frame, vspace, vaddr, models.PROT_READ|models.PROT_WRITE, attrs); err != nil {
		return 0, err
	}
	return frame, nil
}
