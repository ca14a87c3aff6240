package ipc

import (
	"testing"

	"github.com/lonaos/lmm/go/models"
)

func TestTagClassification(t *testing.T) {
	if !TagAllocPages.IsRequest() || TagAllocPages.IsResponse() {
		t.Fatal("AllocPages should be a request")
	}
	for _, tag := range []Tag{TagSuccess, TagErrorOutOfMemory, TagErrorInvalidRequest} {
		if !tag.IsResponse() {
			t.Errorf("%s should be a response", tag)
		}
	}
	if !TagErrorOutOfMemory.IsError() || TagSuccess.IsError() {
		t.Fatal("error classification is wrong")
	}
	if _, ok := TagFromU64(2); ok {
		t.Fatal("tag 2 should not decode")
	}
	if _, ok := RegionFromU64(0); ok {
		t.Fatal("region 0 should not decode")
	}
	if _, ok := RegionFromU64(4); ok {
		t.Fatal("region 4 should not decode")
	}
}

func TestValidateHint(t *testing.T) {
	base, limit := RegionProcessPool.Bounds()
	tests := []struct {
		hint  uint64
		pages uint64
		ok    bool
	}{
		{base, 1, true},
		{base + 0x1000, 16, true},
		{base + 0x800, 1, false},
		{base - models.PageSize, 1, false},
		{limit - models.PageSize, 1, true},
		{limit - models.PageSize, 2, false},
		{base, 1 << 60, false},
		{^uint64(0) &^ 0xfff, 2, false},
	}
	for _, test := range tests {
		if got := RegionProcessPool.ValidateHint(models.Vaddr(test.hint), test.pages); got != test.ok {
			t.Errorf("ValidateHint(%#x, %d) = %v, want %v", test.hint, test.pages, got, test.ok)
		}
	}
}

func TestAdvancePointer(t *testing.T) {
	base, _ := RegionRealmLocal.Bounds()
	cur := base + 0x4000
	if got := RegionRealmLocal.AdvancePointer(cur, models.Vaddr(base), 1); got != cur {
		t.Errorf("hint below pointer moved it to %#x", got)
	}
	if got := RegionRealmLocal.AdvancePointer(cur, models.Vaddr(base+0x8000), 2); got != base+0xa000 {
		t.Errorf("AdvancePointer = %#x, want %#x", got, base+0xa000)
	}
	if got := RegionRealmLocal.AdvancePointer(cur, models.Vaddr(^uint64(0)&^0xfff), 4); got != ^uint64(0) {
		t.Errorf("AdvancePointer should saturate, got %#x", got)
	}
}

func TestAllocateCheck(t *testing.T) {
	base, limit := RegionRealmBinary.Bounds()
	next, ok := RegionRealmBinary.AllocateCheck(base, 3)
	if !ok || next != base+3*models.PageSize {
		t.Fatalf("AllocateCheck(base, 3) = %#x, %v", next, ok)
	}
	if _, ok := RegionRealmBinary.AllocateCheck(limit-models.PageSize, 1); !ok {
		t.Fatal("allocation ending at the limit should fit")
	}
	if _, ok := RegionRealmBinary.AllocateCheck(limit, 1); ok {
		t.Fatal("allocation past the limit should fail")
	}
	if _, ok := RegionRealmBinary.AllocateCheck(base, ^uint64(0)); ok {
		t.Fatal("overflowing page count should fail")
	}
}
