package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lonaos/lmm/go/models"
)

// startThread builds a resumed thread whose table holds the endpoint at
// SlotLMMEndpoint and whose fault endpoint is the same object.
func startThread(t *testing.T, k *Kernel) *Thread {
	require.NoError(t, k.Retype(16, models.ObjTCB, 0, 100))
	require.NoError(t, k.Retype(16, models.ObjCNode, 8, 101))
	require.NoError(t, k.Retype(16, models.ObjVSpace, 0, 102))
	require.NoError(t, k.Retype(16, models.ObjFrame, 0, 103))
	require.NoError(t, k.Retype(16, models.ObjSchedContext, 12, 104))
	require.NoError(t, k.Retype(16, models.ObjEndpoint, 0, 105))
	require.NoError(t, k.ConfigureSched(104, 10_000, 10_000))
	require.NoError(t, k.ConfigureTCB(100, 101, 102, 0x1000_0000, 103))
	require.NoError(t, k.SetSchedParams(100, 254, 104, 105))
	require.NoError(t, k.CopyCap(105, 101, models.SlotLMMEndpoint))

	_, err := k.Thread(100)
	require.Error(t, err, "thread is not resumed yet")
	require.NoError(t, k.Resume(100))
	th, err := k.Thread(100)
	require.NoError(t, err)
	return th
}

func TestCallReply(t *testing.T) {
	k := newKernel(t, models.ArchAArch64)
	th := startThread(t, k)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan []uint64, 1)
	go func() {
		reply, err := th.Call(ctx, models.SlotLMMEndpoint, models.LabelCall, []uint64{1, 1, 2, 0})
		assert.NoError(t, err)
		done <- reply
	}()
	msg, err := k.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CapSlot(105), msg.Endpoint)
	assert.Equal(t, uint64(models.LabelCall), msg.Label)
	assert.Equal(t, 4, msg.Length)
	assert.Equal(t, [4]uint64{1, 1, 2, 0}, msg.MRs)

	require.NoError(t, k.Reply(msg, []uint64{128, 0x20_0000_0000, 2}))
	assert.Equal(t, []uint64{128, 0x20_0000_0000, 2}, <-done)
	assert.Error(t, k.Reply(msg, nil), "second reply")
}

func TestCallWrongSlot(t *testing.T) {
	k := newKernel(t, models.ArchAArch64)
	th := startThread(t, k)
	_, err := th.Call(context.Background(), models.SlotIOPortUART, 0, nil)
	assert.Error(t, err)
}

func TestFaultWithoutReplyBlocks(t *testing.T) {
	k := newKernel(t, models.ArchAArch64)
	th := startThread(t, k)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- th.Fault(ctx, models.VMFault{IP: 0x400000, Addr: 0x20_0000_1000})
	}()
	msg, err := k.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(models.LabelVMFault), msg.Label)
	assert.Equal(t, uint64(0x20_0000_1000), models.VMFaultFromMRs(msg.MRs).Addr)
	assert.Equal(t, 1, k.Pending())

	select {
	case <-errc:
		t.Fatal("faulting thread resumed without a reply")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, k.Pending())
}
