package loader

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

var machineMap = map[elf.Machine]models.Arch{
	elf.EM_X86_64:  models.ArchX86_64,
	elf.EM_AARCH64: models.ArchAArch64,
}

var (
	ErrNot64Bit         = errors.New("not a 64-bit ELF")
	ErrNotLittleEndian  = errors.New("not a little-endian ELF")
	ErrNotExecutable    = errors.New("not an executable ELF")
	ErrUnsupportedArch  = errors.New("unsupported ELF machine")
	ErrSegmentTruncated = errors.New("segment data truncated")
)

type ElfLoader struct {
	LoaderHeader
	file *elf.File
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

func MatchElf(r io.ReaderAt) bool {
	magic := make([]byte, 4)
	n, _ := r.ReadAt(magic, 0)
	return n == 4 && bytes.Equal(magic, elfMagic)
}

// NewElfLoader accepts only static 64-bit little-endian executables for a
// supported architecture.
func NewElfLoader(p []byte) (*ElfLoader, error) {
	file, err := elf.NewFile(bytes.NewReader(p))
	if err != nil {
		return nil, errors.Wrap(err, "parse elf")
	}
	if file.Class != elf.ELFCLASS64 {
		return nil, errors.WithStack(ErrNot64Bit)
	}
	if file.Data != elf.ELFDATA2LSB {
		return nil, errors.WithStack(ErrNotLittleEndian)
	}
	if file.Type != elf.ET_EXEC {
		return nil, errors.WithStack(ErrNotExecutable)
	}
	arch, ok := machineMap[file.Machine]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedArch, "%s", file.Machine)
	}
	return &ElfLoader{
		LoaderHeader: LoaderHeader{
			arch:   arch,
			entry:  file.Entry,
			size:   len(p),
			digest: xxhash.Sum64(p),
		},
		file: file,
	}, nil
}

func progProt(flags elf.ProgFlag) int {
	prot := models.PROT_NONE
	if flags&elf.PF_R != 0 {
		prot |= models.PROT_READ
	}
	if flags&elf.PF_W != 0 {
		prot |= models.PROT_WRITE
	}
	if flags&elf.PF_X != 0 {
		prot |= models.PROT_EXEC
	}
	return prot
}

// Segments returns the PT_LOAD segments with their file-backed bytes.
func (e *ElfLoader) Segments() ([]models.Segment, error) {
	ret := make([]models.Segment, 0, len(e.file.Progs))
	for _, prog := range e.file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, errors.Errorf("segment at %#x: file size %#x exceeds memory size %#x", prog.Vaddr, prog.Filesz, prog.Memsz)
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, errors.Wrapf(ErrSegmentTruncated, "segment at %#x", prog.Vaddr)
		}
		ret = append(ret, models.Segment{
			Vaddr:   prog.Vaddr,
			MemSize: prog.Memsz,
			Data:    data,
			Prot:    progProt(prog.Flags),
		})
	}
	return ret, nil
}
