package models

import (
	"testing"

	"github.com/pkg/errors"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		addr, align uint64
		up, down    uint64
		ok          bool
	}{
		{0x1001, 0x1000, 0x2000, 0x1000, true},
		{0x1000, 0x1000, 0x1000, 0x1000, true},
		{0, 0x1000, 0, 0, true},
		{0x1234, 1, 0x1234, 0x1234, true},
		{0x1234, 0, 0, 0, false},
		{0x1234, 0x1800, 0, 0, false},
	}
	for _, test := range tests {
		up, ok := Vaddr(test.addr).AlignUp(test.align)
		if ok != test.ok || (ok && uint64(up) != test.up) {
			t.Errorf("Vaddr(%#x).AlignUp(%#x) = %s, %v", test.addr, test.align, up, ok)
		}
		down, ok := Paddr(test.addr).AlignDown(test.align)
		if ok != test.ok || (ok && uint64(down) != test.down) {
			t.Errorf("Paddr(%#x).AlignDown(%#x) = %s, %v", test.addr, test.align, down, ok)
		}
		aligned, ok := Vaddr(test.addr).IsAligned(test.align)
		if ok != test.ok || (ok && aligned != (test.addr == test.down)) {
			t.Errorf("Vaddr(%#x).IsAligned(%#x) = %v, %v", test.addr, test.align, aligned, ok)
		}
	}
	if v := Vaddr(0x1fff).PageAlignDown(); v != 0x1000 {
		t.Errorf("PageAlignDown = %s", v)
	}
}

func TestAddrArithmetic(t *testing.T) {
	if v := Vaddr(^uint64(0) - 1).SaturatingAdd(5); v != Vaddr(^uint64(0)) {
		t.Errorf("SaturatingAdd did not clamp: %s", v)
	}
	if v := Vaddr(0x1000).SaturatingAdd(0x1000); v != 0x2000 {
		t.Errorf("SaturatingAdd = %s", v)
	}
	if p := Paddr(^uint64(0) - 0x10).SaturatingAdd(0x1000); p != Paddr(^uint64(0)) {
		t.Errorf("Paddr SaturatingAdd did not clamp: %s", p)
	}
	if p := Paddr(0x4000_0000).SaturatingAdd(0x1000); p != 0x4000_1000 {
		t.Errorf("Paddr SaturatingAdd = %s", p)
	}
	if d := Paddr(0x5000).Diff(0x3000); d != 0x2000 {
		t.Errorf("Diff = %#x", d)
	}
	if p := Paddr(0x1000).Add(0x10).Sub(0x20); p != 0xff0 {
		t.Errorf("Add/Sub = %s", p)
	}
	if !Vaddr(0).IsNull() || Paddr(1).IsNull() {
		t.Error("IsNull")
	}
	if s := Vaddr(0x2000).String(); s != "0x2000" {
		t.Errorf("String = %q", s)
	}
}

func TestLayout(t *testing.T) {
	if WorkerStackBase(0) != WorkerStacksBase+PageSize {
		t.Errorf("worker 0 stack at %#x", WorkerStackBase(0))
	}
	if WorkerIPCBuffer(1) != WorkerStackBase(1)+WorkerStackSize+PageSize {
		t.Errorf("worker 1 ipc buffer at %#x", WorkerIPCBuffer(1))
	}
	if AncestorBinaryBase(2) != InheritedBase+2*AncestorSlotSize+AncestorCodeSize {
		t.Errorf("ancestor 2 binary at %#x", AncestorBinaryBase(2))
	}
	if MaxAncestors != 12 {
		t.Errorf("MaxAncestors = %d", MaxAncestors)
	}
	tests := []struct {
		addr uint64
		typ  RegionType
		name string
	}{
		{ProcessPoolBase + 0x10, RegionProcessPool, "process pool"},
		{RealmBinaryBase, RegionRealmBinary, "realm binary"},
		{RealmLocalBase + RealmLocalSize - 1, RegionRealmLocal, "realm local"},
		{InheritedBase, RegionInherited, "inherited"},
		{WorkerStacksBase + 3*WorkerSlotSize, RegionWorkerStack, "worker stack"},
		{0x10, RegionGuard, "invalid"},
		{MMIOBase, RegionGuard, "invalid"},
	}
	for _, test := range tests {
		r := FaultRegionOf(test.addr)
		if r.Type != test.typ || r.String() != test.name {
			t.Errorf("FaultRegionOf(%#x) = %v %q", test.addr, r.Type, r)
		}
	}
	if w := FaultRegionOf(WorkerStacksBase + 3*WorkerSlotSize).Worker; w != 3 {
		t.Errorf("worker = %d", w)
	}
	if IsInherited(InheritedBase+InheritedSize) || !IsInherited(InheritedBase+InheritedSize-1) {
		t.Error("IsInherited bounds")
	}
}

func TestObjectSizes(t *testing.T) {
	tests := []struct {
		arch  Arch
		obj   ObjectType
		param uint8
		bits  uint8
		ok    bool
	}{
		{ArchAArch64, ObjFrame, 0, 12, true},
		{ArchAArch64, ObjPDPT, 0, 0, false},
		{ArchX86_64, ObjPDPT, 0, 12, true},
		{ArchX86_64, ObjCNode, 8, 13, true},
		{ArchX86_64, ObjCNode, 0, 0, false},
		{ArchAArch64, ObjSchedContext, 12, 12, true},
		{ArchAArch64, ObjSchedContext, 7, 0, false},
		{ArchAArch64, ObjTCB, 0, 11, true},
		{ArchAArch64, ObjIOPort, 0, 0, false},
	}
	for _, test := range tests {
		bits, ok := ObjectSizeBits(test.arch, test.obj, test.param)
		if ok != test.ok || bits != test.bits {
			t.Errorf("ObjectSizeBits(%s, %s, %d) = %d, %v", test.arch, test.obj, test.param, bits, ok)
		}
	}
	if TableLevel(ArchX86_64, ObjPageDirectory) != 2 || TableLevel(ArchAArch64, ObjPageTable) != 0 || TableLevel(ArchAArch64, ObjFrame) != -1 {
		t.Error("TableLevel")
	}
}

func TestErrors(t *testing.T) {
	lookup := errors.Wrap(&KernelError{Op: "map frame", Code: KERR_FAILED_LOOKUP, Level: 2}, "mapping")
	if !IsFailedLookup(lookup) || IsDeleteFirst(lookup) {
		t.Error("failed lookup not classified")
	}
	if lookup.Error() != "mapping: map frame: failed lookup at level 2" {
		t.Errorf("got %q", lookup)
	}
	if IsDeleteFirst(errors.New("delete first")) {
		t.Error("plain error classified as kernel error")
	}
	err := errors.Wrap(Fail(ErrOutOfSlots, "create tcb", errors.New("exhausted")), "realm 1")
	if KindOf(err) != ErrOutOfSlots {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if KindOf(lookup) != ErrUnknown {
		t.Error("kernel error has a kind")
	}
	if s := Fail(ErrNoBootImage, "find boot image", nil).Error(); s != "find boot image: no boot image" {
		t.Errorf("got %q", s)
	}
}

func TestBootFlags(t *testing.T) {
	f := BootIsInitRealm | BootHasUART
	if !f.Has(BootHasUART) || f.Has(BootHasFramebuffer) {
		t.Errorf("flags %#x", uint64(f))
	}
	fault := VMFault{IP: 1, Addr: 2, Prefetch: true, FSR: 4}
	if VMFaultFromMRs(fault.MRs()) != fault {
		t.Error("vm fault register image")
	}
}
