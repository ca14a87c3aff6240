// Package pool is the realm-side bump allocator for the process pool. When
// it runs dry it asks the memory manager for more pages right after its
// current limit.
package pool

import (
	"context"
	"log/slog"

	"github.com/negrel/assert"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
)

// Requester is the manager's memory-growth service, normally an *ipc.Client.
type Requester interface {
	RequestPages(ctx context.Context, region ipc.Region, pages uint64, hint models.Vaddr) (models.Vaddr, error)
}

// Pool hands out [base, limit) front to back. base <= next <= limit always
// holds; growth only moves limit.
type Pool struct {
	base, next, limit uint64

	Requester Requester
	log       *slog.Logger
}

// New covers size bytes from base, clamped at the top of the address space.
func New(base, size uint64) *Pool {
	limit := uint64(models.Vaddr(base).SaturatingAdd(size))
	return &Pool{base: base, next: base, limit: limit, log: slog.Default().With("src", "pool")}
}

// NewInit is the pool every worker starts with: the initial heap the
// manager mapped at the process pool base.
func NewInit(req Requester) *Pool {
	p := New(models.ProcessPoolBase, models.InitHeapSize)
	p.Requester = req
	return p
}

func (p *Pool) Base() uint64  { return p.base }
func (p *Pool) Next() uint64  { return p.next }
func (p *Pool) Limit() uint64 { return p.limit }

func (p *Pool) Remaining() uint64 { return p.limit - p.next }

func (p *Pool) check() {
	assert.LessOrEqual(p.base, p.next, "pool cursor below base")
	assert.LessOrEqual(p.next, p.limit, "pool cursor past limit")
}

// AllocateProcessMemory reserves a young and an old area back to back.
// Nothing changes when they do not fit.
func (p *Pool) AllocateProcessMemory(youngSize, oldSize uint64) (youngBase, oldBase uint64, ok bool) {
	total := youngSize + oldSize
	if total < youngSize || total > p.Remaining() {
		return 0, 0, false
	}
	youngBase = p.next
	oldBase = youngBase + youngSize
	p.next += total
	p.check()
	return youngBase, oldBase, true
}

// Extend raises limit by n bytes, saturating.
func (p *Pool) Extend(n uint64) {
	p.limit = uint64(models.Vaddr(p.limit).SaturatingAdd(n))
	p.check()
}

// TryGrow asks for enough whole pages to cover minBytes directly after the
// current limit. Pages granted anywhere else cannot extend the pool and
// count as no growth.
func (p *Pool) TryGrow(ctx context.Context, minBytes uint64) bool {
	if p.Requester == nil || minBytes == 0 {
		return false
	}
	hint, ok := models.Vaddr(p.limit).AlignUp(models.PageSize)
	if !ok || hint < models.Vaddr(p.limit) {
		return false
	}
	pages := minBytes / models.PageSize
	if minBytes%models.PageSize != 0 {
		pages++
	}
	got, err := p.Requester.RequestPages(ctx, ipc.RegionProcessPool, pages, hint)
	if err != nil {
		p.log.Debug("growth refused", "pages", pages, "hint", hint, "err", err)
		return false
	}
	if got != hint {
		p.log.Warn("growth not contiguous", "want", hint, "got", got)
		return false
	}
	p.Extend(uint64(hint) - p.limit + pages*models.PageSize)
	p.log.Debug("grew", "pages", pages, "limit", models.Vaddr(p.limit))
	return true
}

// AllocateProcessMemoryWithGrowth falls back to one growth attempt for the
// shortfall before giving up.
func (p *Pool) AllocateProcessMemoryWithGrowth(ctx context.Context, youngSize, oldSize uint64) (uint64, uint64, bool) {
	if y, o, ok := p.AllocateProcessMemory(youngSize, oldSize); ok {
		return y, o, true
	}
	total := youngSize + oldSize
	if total < youngSize {
		return 0, 0, false
	}
	if !p.TryGrow(ctx, total-p.Remaining()) {
		return 0, 0, false
	}
	return p.AllocateProcessMemory(youngSize, oldSize)
}
