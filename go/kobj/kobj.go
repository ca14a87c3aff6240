// Package kobj creates kernel objects out of untyped memory, pairing the
// manager's allocators with the kernel's retype operation.
package kobj

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/slots"
	"github.com/lonaos/lmm/go/untyped"
)

// maxDevicePadding bounds how many throwaway frames may be carved to reach a
// device address.
const maxDevicePadding = 512

type Factory struct {
	Kernel  models.Kernel
	Untyped *untyped.Allocator
	Slots   *slots.Allocator

	log *slog.Logger
}

func New(k models.Kernel, ut *untyped.Allocator, sl *slots.Allocator) *Factory {
	return &Factory{Kernel: k, Untyped: ut, Slots: sl, log: slog.Default().With("src", "kobj")}
}

// allocFailure maps an allocator error onto the manager's error kinds.
func allocFailure(op string, err error) error {
	switch errors.Cause(err) {
	case slots.ErrExhausted:
		return models.Fail(models.ErrOutOfSlots, op, err)
	case untyped.ErrNoFit:
		return models.Fail(models.ErrOutOfMemory, op, err)
	}
	return models.Fail(models.ErrUnknown, op, err)
}

// Create retypes one object of type obj into a fresh slot.
func (f *Factory) Create(obj models.ObjectType, param uint8) (models.CapSlot, error) {
	op := "create " + obj.String()
	bits, ok := models.ObjectSizeBits(f.Kernel.Arch(), obj, param)
	if !ok {
		return 0, models.Fail(models.ErrObjectCreation, op, errors.Errorf("no %s on %s", obj, f.Kernel.Arch()))
	}
	alloc, err := f.Untyped.Allocate(bits, f.Slots, false)
	if err != nil {
		return 0, allocFailure(op, err)
	}
	if err := f.Kernel.Retype(alloc.Untyped, obj, param, alloc.Dest); err != nil {
		return 0, models.Fail(models.ErrObjectCreation, op, err)
	}
	f.log.Debug("created", "type", obj, "slot", alloc.Dest, "paddr", alloc.Paddr)
	return alloc.Dest, nil
}

// DeviceFrame creates a frame over the device page at paddr. Device extents
// are carved in order, so any gap below paddr is consumed with frames that
// are never used.
func (f *Factory) DeviceFrame(paddr models.Paddr) (models.CapSlot, error) {
	const op = "create device frame"
	if aligned, _ := paddr.IsAligned(models.PageSize); !aligned {
		return 0, models.Fail(models.ErrObjectCreation, op, errors.Errorf("%s not page aligned", paddr))
	}
	d := f.Untyped.FindDevice(paddr)
	if d == nil {
		return 0, models.Fail(models.ErrOutOfMemory, op, errors.Errorf("no device untyped covers %s", paddr))
	}
	src, target := d.Slot, paddr.Diff(d.Paddr)
	if d.Watermark > target {
		return 0, models.Fail(models.ErrOutOfMemory, op, errors.Errorf("%s already consumed", paddr))
	}
	for pad := 0; ; pad++ {
		if pad > maxDevicePadding {
			return 0, models.Fail(models.ErrOutOfMemory, op, errors.Errorf("%s needs more than %d padding frames", paddr, maxDevicePadding))
		}
		alloc, err := f.Untyped.AllocateFrom(src, models.PageShift, f.Slots)
		if err != nil {
			return 0, allocFailure(op, err)
		}
		if err := f.Kernel.Retype(alloc.Untyped, models.ObjFrame, 0, alloc.Dest); err != nil {
			return 0, models.Fail(models.ErrObjectCreation, op, err)
		}
		if alloc.Paddr == paddr {
			if pad > 0 {
				f.log.Debug("padded device untyped", "paddr", paddr, "frames", pad)
			}
			return alloc.Dest, nil
		}
	}
}
