package untyped

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/slots"
)

func TestDescAllocate(t *testing.T) {
	d := &Desc{Slot: 1, Paddr: 0x1000, SizeBits: 14}
	steps := []struct {
		bits uint8
		want models.Paddr
		ok   bool
	}{
		{12, 0x1000, true},
		{12, 0x2000, true},
		{13, 0x3000, true}, // offset 0x2000 is already 8K aligned
		{12, 0, false},
	}
	for i, s := range steps {
		got, ok := d.Allocate(s.bits)
		if ok != s.ok || got != s.want {
			t.Fatalf("step %d: Allocate(%d) = %#x, %v; want %#x, %v", i, s.bits, got, ok, s.want, s.ok)
		}
	}
	if d.Remaining() != 0 {
		t.Errorf("Remaining() = %#x, want 0", d.Remaining())
	}
}

func TestDescWatermarkMonotonic(t *testing.T) {
	d := &Desc{Paddr: 0x40000000, SizeBits: 16}
	last := d.Watermark
	for _, bits := range []uint8{4, 12, 5, 13, 12, 15, 4, 16, 12} {
		d.Allocate(bits)
		if d.Watermark < last {
			t.Fatalf("watermark decreased: %#x -> %#x", last, d.Watermark)
		}
		if d.Watermark > d.Size() {
			t.Fatalf("watermark %#x past size %#x", d.Watermark, d.Size())
		}
		last = d.Watermark
	}
}

func TestDescOversize(t *testing.T) {
	d := &Desc{SizeBits: 12}
	if d.CanAllocate(13) {
		t.Fatal("2^13 object cannot fit a 2^12 extent")
	}
	if d.CanAllocate(64) {
		t.Fatal("size bits 64 must not fit")
	}
	if !d.CanAllocate(12) {
		t.Fatal("whole-extent allocation should fit")
	}
}

func TestSortPrefersLargest(t *testing.T) {
	a := New()
	a.Add(Desc{Slot: 10, Paddr: 0x1000, SizeBits: 12})
	a.Add(Desc{Slot: 11, Paddr: 0x100000, SizeBits: 20})
	a.SortBySize()
	res, err := a.Allocate(12, slots.New(100, 200), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Untyped != 11 || res.Paddr != 0x100000 || res.Dest != 100 {
		t.Fatalf("got %+v, want untyped 11 at 0x100000 into slot 100", res)
	}
}

func TestDeviceSeparation(t *testing.T) {
	a := New()
	a.Add(Desc{Slot: 20, Paddr: 0x9000000, SizeBits: 16, IsDevice: true})
	a.Add(Desc{Slot: 21, Paddr: 0x40000000, SizeBits: 16})
	sl := slots.New(100, 200)

	res, err := a.Allocate(12, sl, false)
	if err != nil || res.Untyped != 21 {
		t.Fatalf("general request: %+v, %v", res, err)
	}
	res, err = a.Allocate(12, sl, true)
	if err != nil || res.Untyped != 20 {
		t.Fatalf("device request: %+v, %v", res, err)
	}
	if _, err := a.Allocate(17, sl, true); errors.Cause(err) != ErrNoFit {
		t.Fatalf("oversized device request: %v", err)
	}
	if total := a.TotalFree(); total != 1<<16-1<<12 {
		t.Errorf("TotalFree() = %#x counts device memory", total)
	}
}

func TestSlotsExhaustedLeavesCatalog(t *testing.T) {
	a := New()
	a.Add(Desc{Slot: 1, SizeBits: 16})
	sl := slots.New(5, 5)
	if _, err := a.Allocate(12, sl, false); errors.Cause(err) != slots.ErrExhausted {
		t.Fatalf("expected slot exhaustion, got %v", err)
	}
	if a.Descs()[0].Watermark != 0 {
		t.Fatal("watermark advanced on failed allocation")
	}
}

func TestCatalogCapacity(t *testing.T) {
	a := New()
	for i := 0; i < MaxUntypeds; i++ {
		if err := a.Add(Desc{Slot: models.CapSlot(i), SizeBits: 12}); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if err := a.Add(Desc{SizeBits: 12}); errors.Cause(err) != ErrFull {
		t.Fatalf("Add past capacity: %v", err)
	}
	if a.Len() != MaxUntypeds {
		t.Errorf("Len() = %d", a.Len())
	}
}

func TestFromBootInfo(t *testing.T) {
	bi := &models.BootInfo{Untypeds: []models.UntypedInfo{
		{Slot: 30, Paddr: 0x1000, SizeBits: 12},
		{Slot: 31, Paddr: 0x9000000, SizeBits: 12, IsDevice: true},
		{Slot: 32, Paddr: 0x80000000, SizeBits: 24},
	}}
	a := FromBootInfo(bi)
	descs := a.Descs()
	if descs[0].Slot != 32 {
		t.Fatalf("catalog not sorted: first is %s", descs[0].Slot)
	}
	if d := a.FindDevice(0x9000800); d == nil || d.Slot != 31 {
		t.Fatalf("FindDevice = %v", d)
	}
	if a.FindDevice(0x1000) != nil {
		t.Error("FindDevice matched general memory")
	}
}
