package models

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

const (
	PageShift      = 12
	PageSize       = 1 << PageShift
	LargePageShift = 21
	LargePageSize  = 1 << LargePageShift
)

// Virtual address layout shared by every realm.
const (
	NullGuardBase = 0x0000_0000_0000_0000
	NullGuardSize = PageSize

	WorkerStacksBase    = 0x0000_0000_1000_0000
	WorkerStacksSize    = 256 * MB
	WorkerStackSize     = 256 * KB
	WorkerIPCBufferSize = PageSize
	WorkerSlotSize      = WorkerStackSize + WorkerIPCBufferSize + 2*PageSize

	SharedCodeBase = 0x0000_0001_0000_0000
	SharedCodeSize = 4 * GB

	InheritedBase      = 0x0000_0002_0000_0000
	InheritedSize      = 64 * GB
	AncestorSlotSize   = 5 * GB
	AncestorCodeSize   = GB
	AncestorBinarySize = 4 * GB
	MaxAncestors       = InheritedSize / AncestorSlotSize

	RealmLocalBase = 0x0000_0012_0000_0000
	RealmLocalSize = 4 * GB

	RealmBinaryBase = 0x0000_0013_0000_0000
	RealmBinarySize = 16 * GB

	ProcessPoolBase = 0x0000_0020_0000_0000
	ProcessPoolSize = 240 * GB

	MMIOBase = 0x0000_00F0_0000_0000
	MMIOSize = 16 * GB

	UARTVaddr    = MMIOBase
	InitHeapSize = 128 * KB
)

type RegionType uint8

const (
	RegionGuard RegionType = iota
	RegionSharedCode
	RegionSharedData
	RegionInherited
	RegionRealmLocal
	RegionRealmBinary
	RegionProcessPool
	RegionWorkerStack
	RegionMMIO
)

type Permissions uint8

const (
	PermNone Permissions = iota
	PermReadOnly
	PermReadWrite
	PermReadExecute
)

func (p Permissions) CanRead() bool    { return p != PermNone }
func (p Permissions) CanWrite() bool   { return p == PermReadWrite }
func (p Permissions) CanExecute() bool { return p == PermReadExecute }

func AncestorCodeBase(level uint8) uint64 {
	return InheritedBase + uint64(level)*AncestorSlotSize
}

func AncestorBinaryBase(level uint8) uint64 {
	return AncestorCodeBase(level) + AncestorCodeSize
}

// WorkerStackBase returns the lowest address of worker i's stack. Each
// worker slot starts with a guard page.
func WorkerStackBase(i WorkerID) uint64 {
	return WorkerStacksBase + uint64(i)*WorkerSlotSize + PageSize
}

// WorkerIPCBuffer sits one guard page above the stack.
func WorkerIPCBuffer(i WorkerID) uint64 {
	return WorkerStacksBase + uint64(i)*WorkerSlotSize + PageSize + WorkerStackSize + PageSize
}

func IsInherited(addr uint64) bool {
	return addr >= InheritedBase && addr < InheritedBase+InheritedSize
}

// FaultRegion classifies a faulting address for diagnostics.
type FaultRegion struct {
	Type   RegionType
	Worker WorkerID
}

func (f FaultRegion) String() string {
	switch f.Type {
	case RegionProcessPool:
		return "process pool"
	case RegionRealmBinary:
		return "realm binary"
	case RegionRealmLocal:
		return "realm local"
	case RegionWorkerStack:
		return "worker stack"
	case RegionInherited:
		return "inherited"
	}
	return "invalid"
}

func FaultRegionOf(addr uint64) FaultRegion {
	switch {
	case addr >= ProcessPoolBase && addr < ProcessPoolBase+ProcessPoolSize:
		return FaultRegion{Type: RegionProcessPool}
	case addr >= RealmBinaryBase && addr < RealmBinaryBase+RealmBinarySize:
		return FaultRegion{Type: RegionRealmBinary}
	case addr >= RealmLocalBase && addr < RealmLocalBase+RealmLocalSize:
		return FaultRegion{Type: RegionRealmLocal}
	case IsInherited(addr):
		return FaultRegion{Type: RegionInherited}
	case addr >= WorkerStacksBase && addr < WorkerStacksBase+WorkerStacksSize:
		return FaultRegion{Type: RegionWorkerStack, Worker: WorkerID((addr - WorkerStacksBase) / WorkerSlotSize)}
	}
	return FaultRegion{Type: RegionGuard}
}
