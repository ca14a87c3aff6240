package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/pagetable"
	"github.com/lonaos/lmm/go/pool"
	"github.com/lonaos/lmm/go/realm"
	"github.com/lonaos/lmm/go/sim"
	"github.com/lonaos/lmm/go/slots"
	"github.com/lonaos/lmm/go/untyped"
)

type image struct{ arch models.Arch }

func (i image) Arch() models.Arch { return i.arch }
func (i image) Entry() uint64     { return models.RealmBinaryBase }
func (i image) Segments() ([]models.Segment, error) {
	return []models.Segment{{Vaddr: models.RealmBinaryBase, MemSize: models.PageSize, Data: []byte{0xd6, 0x5f, 0x03, 0xc0}, Prot: models.PROT_READ | models.PROT_EXEC}}, nil
}

type harness struct {
	k      *sim.Kernel
	m      *Manager
	entry  *Entry
	r      *realm.Realm
	thread *sim.Thread
	client *ipc.Client
}

func boot(t *testing.T, arch models.Arch, ramBits uint8) *harness {
	k, err := sim.New(sim.Config{
		Arch:       arch,
		EmptyStart: 64,
		EmptyEnd:   1 << 16,
		Untypeds: []sim.UntypedSpec{
			{Paddr: 0x4000_0000, SizeBits: ramBits},
			{Paddr: 0x0900_0000, SizeBits: 12, Device: true},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	bi := k.BootInfo()
	f := kobj.New(k, untyped.FromBootInfo(bi), slots.FromBootInfo(bi))
	mat, err := pagetable.New(f)
	require.NoError(t, err)
	mapper := pagetable.NewMapper(f, mat, bi.RootVSpace)
	c := realm.NewConstructor(mapper)
	r, err := c.Create(models.RealmInit, image{arch})
	require.NoError(t, err)
	require.NoError(t, c.StartWorker(r, 0))

	m := New(k, k, mapper)
	e, err := m.Register(r)
	require.NoError(t, err)
	th, err := k.Thread(r.TCB)
	require.NoError(t, err)
	return &harness{k: k, m: m, entry: e, r: r, thread: th, client: ipc.NewClient(th)}
}

// serve handles exactly one message on the test goroutine.
func (h *harness) serve(t *testing.T) *models.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := h.k.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, h.m.Handle(msg))
	return msg
}

type result struct {
	vaddr models.Vaddr
	err   error
}

func (h *harness) request(t *testing.T, region ipc.Region, pages uint64, hint models.Vaddr) (models.Vaddr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan result, 1)
	go func() {
		v, err := h.client.RequestPages(ctx, region, pages, hint)
		done <- result{v, err}
	}()
	h.serve(t)
	res := <-done
	return res.vaddr, res.err
}

func TestAllocPagesBump(t *testing.T) {
	for _, arch := range []models.Arch{models.ArchAArch64, models.ArchX86_64} {
		t.Run(string(arch), func(t *testing.T) {
			h := boot(t, arch, 23)
			first := models.Vaddr(models.ProcessPoolBase + models.InitHeapSize)
			vaddr, err := h.request(t, ipc.RegionProcessPool, 2, 0)
			require.NoError(t, err)
			assert.Equal(t, first, vaddr)
			assert.True(t, h.k.Mapped(h.r.VSpace, first))
			assert.True(t, h.k.Mapped(h.r.VSpace, first+models.PageSize))

			vaddr, err = h.request(t, ipc.RegionProcessPool, 1, 0)
			require.NoError(t, err)
			assert.Equal(t, first+2*models.PageSize, vaddr)
			assert.Equal(t, uint64(3), h.entry.PagesAllocated)

			// the new pages are usable from the realm
			require.NoError(t, h.thread.Write(first, []byte("grown")))
			p, err := h.thread.Read(first, 5)
			require.NoError(t, err)
			assert.Equal(t, "grown", string(p))
		})
	}
}

func TestAllocPagesHint(t *testing.T) {
	h := boot(t, models.ArchAArch64, 23)
	hint := models.Vaddr(models.RealmLocalBase + 0x10000)
	vaddr, err := h.request(t, ipc.RegionRealmLocal, 2, hint)
	require.NoError(t, err)
	assert.Equal(t, hint, vaddr)
	assert.Equal(t, uint64(hint)+2*models.PageSize, h.entry.Next(ipc.RegionRealmLocal))

	// a hint below the pointer does not move it back
	vaddr, err = h.request(t, ipc.RegionRealmLocal, 1, models.RealmLocalBase)
	require.NoError(t, err)
	assert.Equal(t, models.Vaddr(models.RealmLocalBase), vaddr)
	assert.Equal(t, uint64(hint)+2*models.PageSize, h.entry.Next(ipc.RegionRealmLocal))

	_, err = h.request(t, ipc.RegionRealmLocal, 1, hint+0x10)
	assert.Equal(t, ipc.LmmInvalidRequest, err)
	_, err = h.request(t, ipc.RegionRealmLocal, 1, models.ProcessPoolBase)
	assert.Equal(t, ipc.LmmInvalidRequest, err)
	_, err = h.request(t, ipc.RegionRealmBinary, 1<<40, 0)
	assert.Equal(t, ipc.LmmInvalidRequest, err)
}

func TestAllocPagesOutOfMemory(t *testing.T) {
	h := boot(t, models.ArchAArch64, 20)
	before := h.entry.PagesAllocated
	_, err := h.request(t, ipc.RegionProcessPool, 1024, 0)
	assert.Equal(t, ipc.LmmOutOfMemory, err)
	// partial progress is kept
	assert.Greater(t, h.entry.PagesAllocated, before)
	assert.Less(t, h.entry.PagesAllocated, before+1024)
}

func TestInheritedFault(t *testing.T) {
	h := boot(t, models.ArchAArch64, 23)
	addr := uint64(models.InheritedBase + 0x1234)
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errc := make(chan error, 1)
		go func() { errc <- h.thread.Fault(ctx, models.VMFault{IP: models.RealmBinaryBase, Addr: addr}) }()
		h.serve(t)
		require.NoError(t, <-errc)
		cancel()
	}
	assert.True(t, h.k.Mapped(h.r.VSpace, models.InheritedBase+0x1000))
	assert.Equal(t, uint64(1), h.entry.PagesAllocated)
	assert.Equal(t, 2, h.entry.Faults)
}

func TestFatalFaultLeavesThreadBlocked(t *testing.T) {
	for _, addr := range []uint64{models.ProcessPoolBase + models.GB, models.WorkerStacksBase, 0x10} {
		h := boot(t, models.ArchAArch64, 23)
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- h.thread.Fault(ctx, models.VMFault{Addr: addr}) }()
		msg := h.serve(t)
		assert.Equal(t, uint64(models.LabelVMFault), msg.Label)
		assert.Equal(t, 1, h.k.Pending(), "no reply for %#x", addr)
		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)
		assert.False(t, h.k.Mapped(h.r.VSpace, models.Vaddr(addr)))
	}
}

func TestTimeout(t *testing.T) {
	h := boot(t, models.ArchAArch64, 23)
	before, _ := h.k.Sched(h.r.SchedContext)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.thread.Timeout(ctx, models.RealmBinaryBase, models.InheritedBase+0x5000) }()
	h.serve(t)
	require.NoError(t, <-errc)
	after, _ := h.k.Sched(h.r.SchedContext)
	assert.Equal(t, before.Refills+1, after.Refills)
	assert.True(t, h.k.Mapped(h.r.VSpace, models.InheritedBase+0x5000))

	// non-inherited address: still resumed, nothing mapped
	go func() { errc <- h.thread.Timeout(ctx, models.RealmBinaryBase, models.ProcessPoolBase+models.GB) }()
	h.serve(t)
	require.NoError(t, <-errc)
	assert.Equal(t, 2, h.entry.Timeouts)
	assert.Equal(t, uint64(1), h.entry.PagesAllocated)
}

func TestRun(t *testing.T) {
	h := boot(t, models.ArchAArch64, 23)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- h.m.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	for i := 0; i < 3; i++ {
		_, err := h.client.RequestPages(reqCtx, ipc.RegionRealmLocal, 1, 0)
		require.NoError(t, err)
	}
	cancel()
	assert.NoError(t, <-stopped)
}

func TestPoolGrowth(t *testing.T) {
	h := boot(t, models.ArchX86_64, 23)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.m.Run(ctx)

	p := pool.NewInit(h.client)
	_, _, ok := p.AllocateProcessMemory(64*models.KB, 64*models.KB)
	require.True(t, ok)
	young, old, ok := p.AllocateProcessMemoryWithGrowth(ctx, 8*models.KB, 3*models.PageSize)
	require.True(t, ok)
	assert.Equal(t, uint64(models.ProcessPoolBase+models.InitHeapSize), young)
	assert.Equal(t, young+8*models.KB, old)
	assert.Equal(t, uint64(models.ProcessPoolBase+models.InitHeapSize+5*models.PageSize), p.Limit())
	for va := young; va < p.Limit(); va += models.PageSize {
		assert.True(t, h.k.Mapped(h.r.VSpace, models.Vaddr(va)), "%#x", va)
	}
}

type recorder struct {
	replies map[*models.Message][]uint64
}

func (r *recorder) Recv(ctx context.Context) (*models.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *recorder) Reply(msg *models.Message, mrs []uint64) error {
	r.replies[msg] = mrs
	return nil
}

func TestHandleMalformed(t *testing.T) {
	rec := &recorder{replies: make(map[*models.Message][]uint64)}
	m := New(nil, rec, nil)
	_, err := m.Register(&realm.Realm{ID: 1, Endpoint: 70})
	require.NoError(t, err)

	invalid := ipc.ErrorInvalidRequest().MRs()
	tests := []*models.Message{
		{Endpoint: 70, Label: models.LabelCall, MRs: [4]uint64{7, 1, 1, 0}, Length: 4},
		{Endpoint: 70, Label: models.LabelCall, MRs: [4]uint64{uint64(ipc.TagSuccess), 1, 1, 0}, Length: 4},
		{Endpoint: 70, Label: models.LabelCall, MRs: [4]uint64{1, 9, 1, 0}, Length: 4},
		{Endpoint: 70, Label: models.LabelCall, MRs: [4]uint64{1, 1, 1, 0}, Length: 2},
		{Endpoint: 71, Label: models.LabelCall, MRs: [4]uint64{1, 1, 1, 0}, Length: 4},
	}
	for i, msg := range tests {
		require.NoError(t, m.Handle(msg))
		assert.Equal(t, invalid[:], rec.replies[msg], "message %d", i)
	}

	// unknown labels and faults from unknown endpoints get no reply
	for _, msg := range []*models.Message{
		{Endpoint: 70, Label: 3},
		{Endpoint: 71, Label: models.LabelVMFault, MRs: [4]uint64{0, models.InheritedBase}},
		{Endpoint: 71, Label: models.LabelTimeout},
	} {
		require.NoError(t, m.Handle(msg))
		_, replied := rec.replies[msg]
		assert.False(t, replied, "label %d", msg.Label)
	}
}

func TestRegisterLimit(t *testing.T) {
	m := New(nil, nil, nil)
	for i := 0; i < MaxRealms; i++ {
		_, err := m.Register(&realm.Realm{ID: models.RealmID(i + 1), Endpoint: models.CapSlot(100 + i)})
		require.NoError(t, err)
	}
	_, err := m.Register(&realm.Realm{ID: 99, Endpoint: 999})
	assert.ErrorIs(t, err, ErrTooManyRealms)

	m = New(nil, nil, nil)
	m.Limit = 1
	_, err = m.Register(&realm.Realm{ID: 1, Endpoint: 100})
	require.NoError(t, err)
	_, err = m.Register(&realm.Realm{ID: 2, Endpoint: 100})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = m.Register(&realm.Realm{ID: 1, Endpoint: 101})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = m.Register(&realm.Realm{ID: 2, Endpoint: 101})
	assert.ErrorIs(t, err, ErrTooManyRealms)
	assert.Len(t, m.Realms(), 1)
}
