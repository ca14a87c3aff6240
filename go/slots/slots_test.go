package slots

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

func TestAlloc(t *testing.T) {
	a := New(100, 103)
	for want := models.CapSlot(100); want < 103; want++ {
		got, err := a.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Alloc() = %d, want %d", got, want)
		}
	}
	if !a.IsExhausted() {
		t.Fatal("allocator should be exhausted")
	}
	if _, err := a.Alloc(); errors.Cause(err) != ErrExhausted {
		t.Fatalf("Alloc() past end: got %v", err)
	}
	if a.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", a.Remaining())
	}
}

func TestAllocRange(t *testing.T) {
	a := New(10, 20)
	first, err := a.AllocRange(4)
	if err != nil {
		t.Fatal(err)
	}
	if first != 10 || a.Next() != 14 {
		t.Fatalf("AllocRange(4) = %d, next %d", first, a.Next())
	}
	if _, err := a.AllocRange(7); err == nil {
		t.Fatal("AllocRange(7) should fail with 6 remaining")
	}
	if a.Next() != 14 || a.Remaining() != 6 {
		t.Fatalf("failed AllocRange mutated state: next %d remaining %d", a.Next(), a.Remaining())
	}
	first, err = a.AllocRange(6)
	if err != nil || first != 14 {
		t.Fatalf("AllocRange(6) = %d, %v", first, err)
	}
	if !a.IsExhausted() {
		t.Error("allocator should be exhausted")
	}
}

func TestAllocRangeZero(t *testing.T) {
	a := New(5, 6)
	for i := 0; i < 3; i++ {
		first, err := a.AllocRange(0)
		if err != nil || first != 5 {
			t.Fatalf("AllocRange(0) = %d, %v", first, err)
		}
	}
	if a.Remaining() != 1 {
		t.Errorf("AllocRange(0) reserved slots: remaining %d", a.Remaining())
	}
}

func TestAllocRangeOverflow(t *testing.T) {
	a := New(10, 20)
	if _, err := a.AllocRange(^uint64(0)); err == nil {
		t.Fatal("overflowing range should fail")
	}
	if a.Next() != 10 {
		t.Errorf("next moved to %d", a.Next())
	}
}

func TestInvertedRange(t *testing.T) {
	a := New(20, 10)
	if !a.IsExhausted() || a.Remaining() != 0 {
		t.Fatal("inverted range should be empty")
	}
}

// every non-zero AllocRange either hands out exactly count fresh slots or
// leaves the allocator unchanged
func TestAllocRangeProperty(t *testing.T) {
	counts := []uint64{1, 3, 0, 7, 2, 50, 1, 1, 4}
	a := New(0, 16)
	seen := make(map[models.CapSlot]bool)
	for _, count := range counts {
		before := a.Next()
		first, err := a.AllocRange(count)
		if err != nil {
			if a.Next() != before {
				t.Fatalf("failed AllocRange(%d) moved cursor", count)
			}
			continue
		}
		if count == 0 {
			continue
		}
		for s := first; s < first+models.CapSlot(count); s++ {
			if seen[s] {
				t.Fatalf("slot %d issued twice", s)
			}
			seen[s] = true
		}
		if a.Next() != before+models.CapSlot(count) {
			t.Fatalf("AllocRange(%d) advanced by %d", count, a.Next()-before)
		}
	}
}
