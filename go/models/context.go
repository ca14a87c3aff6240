package models

import "fmt"

// UserContext is the register image written before a worker is resumed.
// Args are the first five integer argument registers of the platform ABI.
type UserContext struct {
	PC   uint64
	SP   uint64
	Args [5]uint64
}

func (u UserContext) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x args=[%#x %#x %#x %#x %#x]",
		u.PC, u.SP, u.Args[0], u.Args[1], u.Args[2], u.Args[3], u.Args[4])
}

// VMFault is the message-register image of a kernel VM fault.
type VMFault struct {
	IP       uint64
	Addr     uint64
	Prefetch bool
	FSR      uint64
}

func VMFaultFromMRs(mrs [4]uint64) VMFault {
	return VMFault{IP: mrs[0], Addr: mrs[1], Prefetch: mrs[2] != 0, FSR: mrs[3]}
}

func (f VMFault) MRs() [4]uint64 {
	var prefetch uint64
	if f.Prefetch {
		prefetch = 1
	}
	return [4]uint64{f.IP, f.Addr, prefetch, f.FSR}
}
