package sim

import (
	"fmt"
	"strings"

	"github.com/lonaos/lmm/go/models"
)

// Page is one frame mapping in a simulated address space.
type Page struct {
	Addr  uint64
	Size  uint64
	Prot  int
	Data  []byte
	Frame models.CapSlot
	Paddr models.Paddr

	Desc string
}

func (p *Page) String() string {
	// add prot
	prots := []int{models.PROT_READ, models.PROT_WRITE, models.PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := ""
	for i := range prots {
		if p.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%x-0x%x %s %s@%s", p.Addr, p.Addr+p.Size, prot, p.Frame, p.Paddr)
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search to find index of the page containing addr, if any, else -1
func (p Pages) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	i := p.bsearch(addr)
	if i >= 0 {
		return p[i]
	}
	return nil
}

// remove drops the page starting at addr.
func (p Pages) remove(addr uint64) Pages {
	i := p.bsearch(addr)
	if i < 0 {
		return p
	}
	return append(p[:i], p[i+1:]...)
}

// rangeValid checks that [addr, addr+size) is fully mapped, and that every
// page carries all of prot.
func (p Pages) rangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	first := p.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, mm := range p[first:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && mm.Prot&prot != prot {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}
