package models

import "context"

// Kernel is the narrow set of capability operations the manager performs.
// Every slot argument is an index into the manager's own capability table.
type Kernel interface {
	Arch() Arch

	// Retype creates one object of type obj from the untyped at src into the
	// empty slot dest. param is the object's size parameter where the type
	// takes one (CNode radix, scheduling context size bits), otherwise 0.
	Retype(src CapSlot, obj ObjectType, param uint8, dest CapSlot) error
	AssignASID(vspace CapSlot) error

	MapFrame(frame, vspace CapSlot, vaddr Vaddr, prot int, attrs int) error
	UnmapFrame(frame CapSlot) error
	// MapTable installs the translation structure in slot table on the path to vaddr.
	MapTable(table, vspace CapSlot, vaddr Vaddr) error

	// Store writes into the manager's own address space.
	Store(vaddr Vaddr, p []byte) error

	ConfigureSched(sc CapSlot, budgetUS, periodUS uint64) error
	ConfigureTCB(tcb, cspace, vspace CapSlot, ipcBuffer Vaddr, ipcFrame CapSlot) error
	WriteRegisters(tcb CapSlot, regs UserContext) error
	SetSchedParams(tcb CapSlot, priority uint8, sc, faultEP CapSlot) error
	Resume(tcb CapSlot) error

	// CopyCap copies src into index dstIndex of the capability table in cnode.
	CopyCap(src, cnode CapSlot, dstIndex CapSlot) error
	IssueIOPort(dest CapSlot, first, last uint16) error
}

// Message is one delivery on an endpoint the manager listens on.
type Message struct {
	Endpoint CapSlot
	Label    uint64
	MRs      [4]uint64
	Length   int
}

// Receiver is the manager side of its endpoints.
type Receiver interface {
	Recv(ctx context.Context) (*Message, error)
	// Reply resumes the sender of msg with mrs. A message that is never
	// replied to leaves its sender blocked.
	Reply(msg *Message, mrs []uint64) error
}

// Caller is a realm's view of its capability table for IPC.
type Caller interface {
	Call(ctx context.Context, ep CapSlot, label uint64, mrs []uint64) ([]uint64, error)
}

// UntypedInfo describes one untyped extent handed over at boot.
type UntypedInfo struct {
	Slot     CapSlot
	Paddr    Paddr
	SizeBits uint8
	IsDevice bool
}

// BootInfo is the initial inventory the kernel gives the manager.
type BootInfo struct {
	RootCNode     CapSlot
	RootVSpace    CapSlot
	RootTCB       CapSlot
	ASIDPool      CapSlot
	SchedControl  CapSlot
	IOPortControl CapSlot

	EmptyStart, EmptyEnd CapSlot
	Untypeds             []UntypedInfo
}
