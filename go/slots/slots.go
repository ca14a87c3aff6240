// Package slots hands out capability-table indices from a contiguous range.
package slots

import (
	"github.com/negrel/assert"
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

var ErrExhausted = errors.New("capability slots exhausted")

// Allocator issues slots from the half-open range [next, end).
type Allocator struct {
	next, end models.CapSlot
}

func New(start, end models.CapSlot) *Allocator {
	if end < start {
		end = start
	}
	return &Allocator{next: start, end: end}
}

func FromBootInfo(bi *models.BootInfo) *Allocator {
	return New(bi.EmptyStart, bi.EmptyEnd)
}

func (a *Allocator) Alloc() (models.CapSlot, error) {
	if a.next >= a.end {
		return 0, errors.WithStack(ErrExhausted)
	}
	slot := a.next
	a.next++
	return slot, nil
}

// AllocRange reserves count consecutive slots and returns the first. A count
// of zero reserves nothing and returns the current cursor. State is left
// untouched on failure.
func (a *Allocator) AllocRange(count uint64) (models.CapSlot, error) {
	if count == 0 {
		return a.next, nil
	}
	end := uint64(a.next) + count
	if end < uint64(a.next) || end > uint64(a.end) {
		return 0, errors.Wrapf(ErrExhausted, "range of %d", count)
	}
	first := a.next
	a.next = models.CapSlot(end)
	assert.LessOrEqual(a.next, a.end, "slot cursor past end of range")
	return first, nil
}

func (a *Allocator) Remaining() uint64 {
	if a.next >= a.end {
		return 0
	}
	return uint64(a.end - a.next)
}

func (a *Allocator) IsExhausted() bool { return a.next >= a.end }

// Next returns the slot the next Alloc would return.
func (a *Allocator) Next() models.CapSlot { return a.next }
