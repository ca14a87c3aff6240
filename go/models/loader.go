package models

// Segment is one loadable piece of a boot image. Data may be shorter than
// MemSize; the remainder is zero-filled.
type Segment struct {
	Vaddr   uint64
	MemSize uint64
	Data    []byte
	Prot    int
}

func (s *Segment) ContainsVirt(addr uint64) bool {
	return s.Vaddr <= addr && addr < s.Vaddr+s.MemSize
}

func (s *Segment) ProtString() string {
	return protString(s.Prot)
}

func protString(prot int) string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	out := ""
	for i := range prots {
		if prot&prots[i] != 0 {
			out += chars[i]
		} else {
			out += "-"
		}
	}
	return out
}

type Loader interface {
	Arch() Arch
	Entry() uint64
	Segments() ([]Segment, error)
}
