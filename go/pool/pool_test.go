package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
)

type fakeRequester struct {
	calls  int
	region ipc.Region
	pages  uint64
	hint   models.Vaddr
	grant  func(hint models.Vaddr) (models.Vaddr, error)
}

func (f *fakeRequester) RequestPages(ctx context.Context, region ipc.Region, pages uint64, hint models.Vaddr) (models.Vaddr, error) {
	f.calls++
	f.region, f.pages, f.hint = region, pages, hint
	return f.grant(hint)
}

func atHint(hint models.Vaddr) (models.Vaddr, error) { return hint, nil }

func TestAllocate(t *testing.T) {
	const base = 0x20_0000_0000
	p := New(base, 1024)
	young, old, ok := p.AllocateProcessMemory(512, 256)
	require.True(t, ok)
	assert.Equal(t, uint64(base), young)
	assert.Equal(t, uint64(base+512), old)
	assert.Equal(t, uint64(256), p.Remaining())

	_, _, ok = p.AllocateProcessMemory(200, 57)
	assert.False(t, ok)
	assert.Equal(t, uint64(base+768), p.Next())
	assert.Equal(t, uint64(256), p.Remaining())

	p.Extend(4096)
	assert.Equal(t, uint64(base+1024+4096), p.Limit())
	assert.Equal(t, uint64(base), p.Base())
}

func TestAllocateOverflow(t *testing.T) {
	p := New(0x1000, 0x1000)
	_, _, ok := p.AllocateProcessMemory(^uint64(0), 2)
	assert.False(t, ok)
	assert.Equal(t, uint64(0x1000), p.Next())
}

func TestNewSaturates(t *testing.T) {
	p := New(^uint64(0)-10, 100)
	assert.Equal(t, ^uint64(0), p.Limit())
	p.Extend(100)
	assert.Equal(t, ^uint64(0), p.Limit())
}

func TestTryGrow(t *testing.T) {
	req := &fakeRequester{grant: atHint}
	p := NewInit(req)
	limit := p.Limit()
	require.True(t, p.TryGrow(context.Background(), 5000))
	assert.Equal(t, ipc.RegionProcessPool, req.region)
	assert.Equal(t, uint64(2), req.pages)
	assert.Equal(t, models.Vaddr(limit), req.hint)
	assert.Equal(t, limit+2*models.PageSize, p.Limit())

	req.grant = func(models.Vaddr) (models.Vaddr, error) { return models.ProcessPoolBase + models.GB, nil }
	assert.False(t, p.TryGrow(context.Background(), 1))
	assert.Equal(t, limit+2*models.PageSize, p.Limit())

	req.grant = func(models.Vaddr) (models.Vaddr, error) { return 0, ipc.LmmOutOfMemory }
	assert.False(t, p.TryGrow(context.Background(), 1))

	assert.False(t, New(0, 0).TryGrow(context.Background(), 1), "no requester")
}

func TestAllocateWithGrowth(t *testing.T) {
	req := &fakeRequester{grant: atHint}
	p := NewInit(req)
	young, old, ok := p.AllocateProcessMemoryWithGrowth(context.Background(), models.InitHeapSize, models.PageSize)
	require.True(t, ok)
	assert.Equal(t, uint64(models.ProcessPoolBase), young)
	assert.Equal(t, uint64(models.ProcessPoolBase+models.InitHeapSize), old)
	assert.Equal(t, 1, req.calls)
	assert.Equal(t, uint64(1), req.pages)
	assert.Equal(t, uint64(0), p.Remaining())

	// no growth needed
	p.Extend(64)
	_, _, ok = p.AllocateProcessMemoryWithGrowth(context.Background(), 32, 32)
	require.True(t, ok)
	assert.Equal(t, 1, req.calls)

	req.grant = func(models.Vaddr) (models.Vaddr, error) { return 0, ipc.LmmOutOfMemory }
	next := p.Next()
	_, _, ok = p.AllocateProcessMemoryWithGrowth(context.Background(), 1, 1)
	assert.False(t, ok)
	assert.Equal(t, next, p.Next())
}
