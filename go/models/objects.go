package models

// CNode slots are 2^5 bytes on 64-bit kernels.
const SlotBits = 5

// ObjectSizeBits returns log2 of the untyped memory an object of type obj
// consumes on arch. param is the CNode radix or scheduling context size.
func ObjectSizeBits(arch Arch, obj ObjectType, param uint8) (uint8, bool) {
	switch obj {
	case ObjFrame, ObjVSpace, ObjPageTable:
		return PageShift, true
	case ObjPDPT, ObjPageDirectory:
		if arch != ArchX86_64 {
			return 0, false
		}
		return PageShift, true
	case ObjCNode:
		if param == 0 {
			return 0, false
		}
		return param + SlotBits, true
	case ObjEndpoint:
		return 4, true
	case ObjReply:
		return 5, true
	case ObjTCB:
		return 11, true
	case ObjSchedContext:
		if param < 8 {
			return 0, false
		}
		return param, true
	case ObjUntyped:
		if param < 4 {
			return 0, false
		}
		return param, true
	}
	return 0, false
}

// TableLevel returns the translation level a table type occupies on arch.
// Level 0 is the address-space root and level 3 holds frames. Uniform
// hierarchies report 0 for ObjPageTable because it fits at any level.
func TableLevel(arch Arch, obj ObjectType) int {
	if arch == ArchX86_64 {
		switch obj {
		case ObjPDPT:
			return 1
		case ObjPageDirectory:
			return 2
		case ObjPageTable:
			return 3
		}
		return -1
	}
	if obj == ObjPageTable {
		return 0
	}
	return -1
}
