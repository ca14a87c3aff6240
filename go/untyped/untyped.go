// Package untyped catalogs the untyped memory extents handed to the manager at
// boot and carves naturally aligned objects out of them with per-extent
// watermarks. Memory is never returned.
package untyped

import (
	"fmt"
	"log/slog"

	"github.com/negrel/assert"
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/slots"
)

// MaxUntypeds bounds the catalog.
const MaxUntypeds = 256

var (
	ErrFull  = errors.New("untyped catalog full")
	ErrNoFit = errors.New("no untyped extent fits")
)

// Desc is one untyped extent. Watermark is the offset of the first byte not
// yet handed out and never decreases.
type Desc struct {
	Slot      models.CapSlot
	Paddr     models.Paddr
	SizeBits  uint8
	IsDevice  bool
	Watermark uint64
}

func (d *Desc) Size() uint64 { return 1 << d.SizeBits }

func (d *Desc) Remaining() uint64 {
	if d.Watermark >= d.Size() {
		return 0
	}
	return d.Size() - d.Watermark
}

func (d *Desc) Contains(p models.Paddr) bool {
	return p >= d.Paddr && uint64(p-d.Paddr) < d.Size()
}

func (d *Desc) String() string {
	kind := "ram"
	if d.IsDevice {
		kind = "dev"
	}
	return fmt.Sprintf("%s %#x-%#x %s used %#x", d.Slot, uint64(d.Paddr), uint64(d.Paddr)+d.Size(), kind, d.Watermark)
}

// aligned returns the offset an object of 2^sizeBits would start at, and
// whether it fits.
func (d *Desc) aligned(sizeBits uint8) (uint64, bool) {
	if sizeBits >= 64 {
		return 0, false
	}
	obj := uint64(1) << sizeBits
	off := (d.Watermark + obj - 1) &^ (obj - 1)
	if off < d.Watermark || off+obj < off || off+obj > d.Size() {
		return 0, false
	}
	return off, true
}

func (d *Desc) CanAllocate(sizeBits uint8) bool {
	_, ok := d.aligned(sizeBits)
	return ok
}

// Allocate reserves 2^sizeBits bytes, aligning the watermark up first.
func (d *Desc) Allocate(sizeBits uint8) (models.Paddr, bool) {
	off, ok := d.aligned(sizeBits)
	if !ok {
		return 0, false
	}
	d.Watermark = off + 1<<sizeBits
	assert.LessOrEqual(d.Watermark, d.Size(), "watermark past end of extent")
	return d.Paddr.Add(off), true
}

// Allocation is the result of Allocator.Allocate: the untyped to retype from,
// the slot to retype into, and the physical address the object will occupy.
type Allocation struct {
	Untyped models.CapSlot
	Dest    models.CapSlot
	Paddr   models.Paddr
}

type Allocator struct {
	descs []Desc
	log   *slog.Logger
}

func New() *Allocator {
	return &Allocator{
		descs: make([]Desc, 0, MaxUntypeds),
		log:   slog.Default().With("src", "untyped"),
	}
}

// FromBootInfo ingests the boot inventory, stopping silently at capacity,
// and sorts the catalog.
func FromBootInfo(bi *models.BootInfo) *Allocator {
	a := New()
	for _, ut := range bi.Untypeds {
		if err := a.Add(Desc{Slot: ut.Slot, Paddr: ut.Paddr, SizeBits: ut.SizeBits, IsDevice: ut.IsDevice}); err != nil {
			a.log.Warn("dropping untyped", "slot", ut.Slot, "err", err)
			break
		}
	}
	a.SortBySize()
	return a
}

func (a *Allocator) Add(d Desc) error {
	if len(a.descs) >= MaxUntypeds {
		return errors.WithStack(ErrFull)
	}
	a.descs = append(a.descs, d)
	return nil
}

// SortBySize orders the catalog largest first. Insertion sort keeps equal
// sizes in insertion order.
func (a *Allocator) SortBySize() {
	for i := 1; i < len(a.descs); i++ {
		for j := i; j > 0 && a.descs[j-1].SizeBits < a.descs[j].SizeBits; j-- {
			a.descs[j-1], a.descs[j] = a.descs[j], a.descs[j-1]
		}
	}
}

func (a *Allocator) findFit(sizeBits uint8, isDevice bool) *Desc {
	for i := range a.descs {
		d := &a.descs[i]
		if d.IsDevice == isDevice && d.CanAllocate(sizeBits) {
			return d
		}
	}
	return nil
}

// Allocate reserves an object of 2^sizeBits bytes from the first matching
// extent in catalog order and a destination slot for it. Neither the
// catalog nor the slot allocator changes on failure.
func (a *Allocator) Allocate(sizeBits uint8, sl *slots.Allocator, isDevice bool) (Allocation, error) {
	d := a.findFit(sizeBits, isDevice)
	if d == nil {
		return Allocation{}, errors.Wrapf(ErrNoFit, "size bits %d device %v", sizeBits, isDevice)
	}
	dest, err := sl.Alloc()
	if err != nil {
		return Allocation{}, err
	}
	paddr, _ := d.Allocate(sizeBits)
	return Allocation{Untyped: d.Slot, Dest: dest, Paddr: paddr}, nil
}

// AllocateFrom is Allocate restricted to the extent in slot src.
func (a *Allocator) AllocateFrom(src models.CapSlot, sizeBits uint8, sl *slots.Allocator) (Allocation, error) {
	var d *Desc
	for i := range a.descs {
		if a.descs[i].Slot == src {
			d = &a.descs[i]
			break
		}
	}
	if d == nil || !d.CanAllocate(sizeBits) {
		return Allocation{}, errors.Wrapf(ErrNoFit, "size bits %d from %s", sizeBits, src)
	}
	dest, err := sl.Alloc()
	if err != nil {
		return Allocation{}, err
	}
	paddr, _ := d.Allocate(sizeBits)
	return Allocation{Untyped: d.Slot, Dest: dest, Paddr: paddr}, nil
}

// FindDevice returns the device extent containing paddr.
func (a *Allocator) FindDevice(paddr models.Paddr) *Desc {
	for i := range a.descs {
		if a.descs[i].IsDevice && a.descs[i].Contains(paddr) {
			return &a.descs[i]
		}
	}
	return nil
}

// TotalFree sums the remaining bytes of general-memory extents.
func (a *Allocator) TotalFree() uint64 {
	var total uint64
	for i := range a.descs {
		if !a.descs[i].IsDevice {
			total += a.descs[i].Remaining()
		}
	}
	return total
}

func (a *Allocator) Len() int { return len(a.descs) }

// Descs returns a copy of the catalog in its current order.
func (a *Allocator) Descs() []Desc {
	return append([]Desc(nil), a.descs...)
}
