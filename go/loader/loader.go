package loader

import (
	"fmt"

	"github.com/lonaos/lmm/go/models"
)

type LoaderHeader struct {
	arch   models.Arch
	entry  uint64
	size   int
	digest uint64
}

func (l *LoaderHeader) Arch() models.Arch {
	return l.arch
}

func (l *LoaderHeader) Entry() uint64 {
	return l.entry
}

// Digest is the xxhash of the whole image.
func (l *LoaderHeader) Digest() uint64 {
	return l.digest
}

func (l *LoaderHeader) Size() int {
	return l.size
}

func (l *LoaderHeader) String() string {
	return fmt.Sprintf("%s image, %d bytes, entry %#x, digest %016x", l.arch, l.size, l.entry, l.digest)
}
