package sim

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
)

type delivery struct {
	msg   *models.Message
	reply chan []uint64
}

// Recv blocks until a thread calls or faults on any endpoint.
func (k *Kernel) Recv(ctx context.Context) (*models.Message, error) {
	select {
	case d := <-k.inbox:
		return d.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *Kernel) Reply(msg *models.Message, mrs []uint64) error {
	if len(mrs) > ipc.MaxMRs {
		return kerr("reply", models.KERR_TRUNCATED_MESSAGE)
	}
	k.mu.Lock()
	ch, ok := k.pending[msg]
	delete(k.pending, msg)
	k.mu.Unlock()
	if !ok {
		return errors.New("reply: no thread is waiting on this message")
	}
	ch <- append([]uint64(nil), mrs...)
	return nil
}

// Pending is the number of senders blocked waiting for a reply.
func (k *Kernel) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pending)
}

// Thread is a resumed simulated thread. It stands in for code running in a
// realm and can only reach endpoints through its own capability table.
type Thread struct {
	k   *Kernel
	tcb *object
}

func (k *Kernel) Thread(tcb models.CapSlot) (*Thread, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.lookup("thread", tcb, models.ObjTCB)
	if err != nil {
		return nil, err
	}
	if !t.tcb.Resumed || t.tcb.ipcFrame == nil {
		return nil, kerr("thread", models.KERR_ILLEGAL_OPERATION)
	}
	return &Thread{k: k, tcb: t}, nil
}

// Call sends mrs to the endpoint at ep in the thread's own table and waits
// for the reply.
func (t *Thread) Call(ctx context.Context, ep models.CapSlot, label uint64, mrs []uint64) ([]uint64, error) {
	t.k.mu.Lock()
	obj, ok := t.tcb.tcb.cnode.cnode.slots[ep]
	t.k.mu.Unlock()
	if !ok || obj.typ != models.ObjEndpoint {
		return nil, kerr("call", models.KERR_INVALID_CAPABILITY)
	}
	return t.send(ctx, obj, label, mrs)
}

// Fault raises a VM fault on the thread's fault endpoint and waits until the
// handler replies.
func (t *Thread) Fault(ctx context.Context, f models.VMFault) error {
	mrs := f.MRs()
	_, err := t.send(ctx, t.tcb.tcb.faultEP, models.LabelVMFault, mrs[:])
	return err
}

// Timeout reports budget exhaustion at ip while touching addr.
func (t *Thread) Timeout(ctx context.Context, ip, addr uint64) error {
	_, err := t.send(ctx, t.tcb.tcb.faultEP, models.LabelTimeout, []uint64{ip, addr})
	return err
}

// Read reads from the thread's address space.
func (t *Thread) Read(addr models.Vaddr, n int) ([]byte, error) {
	return t.k.Read(t.tcb.tcb.VSpace, addr, n)
}

func (t *Thread) Write(addr models.Vaddr, p []byte) error {
	return t.k.Write(t.tcb.tcb.VSpace, addr, p)
}

// send stages the message in the IPC buffer frame, as the kernel would
// transfer it, and blocks for the reply.
func (t *Thread) send(ctx context.Context, ep *object, label uint64, mrs []uint64) ([]uint64, error) {
	if ep == nil || ep.typ != models.ObjEndpoint {
		return nil, kerr("send", models.KERR_INVALID_CAPABILITY)
	}
	out, err := ipc.NewMessage(label, mrs)
	if err != nil {
		return nil, kerr("send", models.KERR_TRUNCATED_MESSAGE)
	}
	buf := t.tcb.tcb.ipcFrame.frame.data
	raw, err := out.Bytes()
	if err != nil {
		return nil, err
	}
	copy(buf, raw)
	in, err := ipc.UnpackMessage(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	msg := &models.Message{Endpoint: ep.slot, Label: in.Label, Length: int(in.Length)}
	copy(msg.MRs[:], in.MRs)

	d := &delivery{msg: msg, reply: make(chan []uint64, 1)}
	t.k.mu.Lock()
	t.k.pending[msg] = d.reply
	t.k.mu.Unlock()
	abandon := func() {
		t.k.mu.Lock()
		delete(t.k.pending, msg)
		t.k.mu.Unlock()
	}
	select {
	case t.k.inbox <- d:
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
	select {
	case reply := <-d.reply:
		back, err := ipc.NewMessage(0, reply)
		if err != nil {
			return nil, err
		}
		raw, err := back.Bytes()
		if err != nil {
			return nil, err
		}
		copy(buf, raw)
		return back.Used(), nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
