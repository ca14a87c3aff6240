package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

// Section is one PT_LOAD segment for BuildElf.
type Section struct {
	Vaddr uint64
	MemSz uint64
	Data  []byte
	Flags elf.ProgFlag
}

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type progHeader struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	ehdrSize = 64
	phdrSize = 56
)

// BuildElf assembles a static little-endian ELF64 image with no sections.
func BuildElf(typ elf.Type, machine elf.Machine, entry uint64, segs []Section) []byte {
	hdr := elfHeader{
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, hdr)
	off := uint64(ehdrSize + phdrSize*len(segs))
	for _, s := range segs {
		binary.Write(&buf, binary.LittleEndian, progHeader{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  s.MemSz,
			Align:  models.PageSize,
		})
		off += uint64(len(s.Data))
	}
	for _, s := range segs {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

var spinCode = map[models.Arch]struct {
	machine elf.Machine
	code    []byte
}{
	// b .
	models.ArchAArch64: {elf.EM_AARCH64, []byte{0x00, 0x00, 0x00, 0x14}},
	// jmp $
	models.ArchX86_64: {elf.EM_X86_64, []byte{0xeb, 0xfe}},
}

// SpinImage is a one-page executable whose entry point loops forever. It
// stands in for a realm binary when none is configured.
func SpinImage(arch models.Arch) ([]byte, error) {
	spin, ok := spinCode[arch]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedArch, "%s", arch)
	}
	return BuildElf(elf.ET_EXEC, spin.machine, models.RealmBinaryBase, []Section{
		{Vaddr: models.RealmBinaryBase, MemSz: models.PageSize, Data: spin.code, Flags: elf.PF_R | elf.PF_X},
	}), nil
}
