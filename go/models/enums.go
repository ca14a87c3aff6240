package models

// Arch names the target translation hierarchy.
type Arch string

const (
	ArchAArch64 Arch = "aarch64"
	ArchX86_64  Arch = "x86_64"
)

func (a Arch) Valid() bool { return a == ArchAArch64 || a == ArchX86_64 }

// ObjectType is a kernel object blueprint that untyped memory can be retyped into.
type ObjectType int

const (
	ObjUntyped ObjectType = iota
	ObjFrame
	ObjVSpace
	ObjPageTable
	ObjPDPT
	ObjPageDirectory
	ObjCNode
	ObjEndpoint
	ObjReply
	ObjSchedContext
	ObjTCB
	ObjIOPort
)

var objectNames = map[ObjectType]string{
	ObjUntyped:       "untyped",
	ObjFrame:         "frame",
	ObjVSpace:        "vspace",
	ObjPageTable:     "page table",
	ObjPDPT:          "pdpt",
	ObjPageDirectory: "page directory",
	ObjCNode:         "cnode",
	ObjEndpoint:      "endpoint",
	ObjReply:         "reply",
	ObjSchedContext:  "sched context",
	ObjTCB:           "tcb",
	ObjIOPort:        "ioport",
}

func (o ObjectType) String() string {
	if name, ok := objectNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsTable reports whether o is an intermediate translation structure.
func (o ObjectType) IsTable() bool {
	return o == ObjPageTable || o == ObjPDPT || o == ObjPageDirectory
}

// these constants are used for frame mapping rights
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// VM attributes passed alongside rights.
const (
	ATTR_DEFAULT        = 0
	ATTR_EXECUTE_NEVER  = 1
	ATTR_DEVICE_UNCACHE = 2
)

// Fault labels delivered on a realm's fault endpoint. Label 0 is an ordinary call.
const (
	LabelCall    = 0
	LabelVMFault = 5
	LabelTimeout = 6
)

// BootFlags are passed to a worker's entry point.
type BootFlags uint64

const (
	BootIsInitRealm    BootFlags = 1 << 0
	BootHasUART        BootFlags = 1 << 1
	BootHasFramebuffer BootFlags = 1 << 2
)

func (f BootFlags) Has(flag BootFlags) bool { return f&flag != 0 }
