package loader

import (
	"bytes"
	"os"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

var UnknownMagic = errors.New("Could not identify file magic.")

func Load(p []byte) (*ElfLoader, error) {
	if !MatchElf(bytes.NewReader(p)) {
		return nil, errors.WithStack(UnknownMagic)
	}
	return NewElfLoader(p)
}

func LoadFile(path string) (*ElfLoader, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Load(p)
}

// FindBootImage prefers an embedded image and falls back to path. Either
// source failing to yield a usable executable is reported as no boot image.
func FindBootImage(embedded []byte, path string) (*ElfLoader, error) {
	const op = "find boot image"
	if len(embedded) > 0 {
		l, err := Load(embedded)
		if err != nil {
			return nil, models.Fail(models.ErrNoBootImage, op, err)
		}
		return l, nil
	}
	if path == "" {
		return nil, models.Fail(models.ErrNoBootImage, op, errors.New("no embedded image and no path"))
	}
	l, err := LoadFile(path)
	if err != nil {
		return nil, models.Fail(models.ErrNoBootImage, op, err)
	}
	return l, nil
}
