package sim

import "github.com/lonaos/lmm/go/models"

// Mappings returns a copy of the pages mapped in vspace, sorted by address.
func (k *Kernel) Mappings(vspace models.CapSlot) Pages {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[vspace]
	if !ok || obj.space == nil {
		return nil
	}
	out := make(Pages, len(obj.space.pages))
	for i, p := range obj.space.pages {
		cp := *p
		out[i] = &cp
	}
	return out
}

// Mapped reports whether vaddr is mapped in vspace.
func (k *Kernel) Mapped(vspace models.CapSlot, vaddr models.Vaddr) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[vspace]
	return ok && obj.space != nil && obj.space.pages.Find(uint64(vaddr)) != nil
}

func (k *Kernel) Read(vspace models.CapSlot, vaddr models.Vaddr, n int) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[vspace]
	if !ok || obj.space == nil {
		return nil, kerr("read", models.KERR_INVALID_CAPABILITY)
	}
	p := make([]byte, n)
	if err := obj.space.read(uint64(vaddr), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (k *Kernel) Write(vspace models.CapSlot, vaddr models.Vaddr, p []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[vspace]
	if !ok || obj.space == nil {
		return kerr("write", models.KERR_INVALID_CAPABILITY)
	}
	return obj.space.write(uint64(vaddr), p)
}

// TableCount is the number of translation tables installed below the root of vspace.
func (k *Kernel) TableCount(vspace models.CapSlot) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[vspace]
	if !ok || obj.space == nil {
		return 0
	}
	return obj.space.tableCount()
}

func (k *Kernel) TCB(slot models.CapSlot) (TCBState, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[slot]
	if !ok || obj.tcb == nil {
		return TCBState{}, false
	}
	return *obj.tcb, true
}

func (k *Kernel) Sched(slot models.CapSlot) (SchedState, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[slot]
	if !ok || obj.sched == nil {
		return SchedState{}, false
	}
	return *obj.sched, true
}

// ObjectType returns the type of the object in slot.
func (k *Kernel) ObjectType(slot models.CapSlot) (models.ObjectType, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[slot]
	if !ok {
		return 0, false
	}
	return obj.typ, true
}

// CNodeEntry returns the type of the object copied to index idx of cnode.
func (k *Kernel) CNodeEntry(cnode, idx models.CapSlot) (models.ObjectType, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[cnode]
	if !ok || obj.cnode == nil {
		return 0, false
	}
	e, ok := obj.cnode.slots[idx]
	if !ok {
		return 0, false
	}
	return e.typ, true
}

// Watermark returns how many bytes of the untyped in slot have been consumed.
func (k *Kernel) Watermark(slot models.CapSlot) (uint64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[slot]
	if !ok || obj.untyped == nil {
		return 0, false
	}
	return obj.untyped.watermark, true
}

// Paddr returns the physical address of the object in slot.
func (k *Kernel) Paddr(slot models.CapSlot) (models.Paddr, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.slots[slot]
	if !ok {
		return 0, false
	}
	return obj.paddr, true
}

// Resident is the number of physical pages backing frames so far.
func (k *Kernel) Resident() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mem.Resident()
}
