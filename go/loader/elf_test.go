package loader

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/lonaos/lmm/go/models"
)

func testImage() []byte {
	return BuildElf(elf.ET_EXEC, elf.EM_AARCH64, 0x13_0000_0040, []Section{
		{0x13_0000_0000, 0x100, []byte("code"), elf.PF_R | elf.PF_X},
		{0x13_0000_1000, 0x3000, []byte("data"), elf.PF_R | elf.PF_W},
	})
}

func TestElfLoad(t *testing.T) {
	l, err := Load(testImage())
	if err != nil {
		t.Fatal(err)
	}
	if l.Arch() != models.ArchAArch64 || l.Entry() != 0x13_0000_0040 {
		t.Fatalf("got %s", l)
	}
	if l.Digest() == 0 || l.Size() != len(testImage()) {
		t.Fatalf("bad digest or size: %s", l)
	}
}

func TestElfSegments(t *testing.T) {
	l, err := Load(testImage())
	if err != nil {
		t.Fatal(err)
	}
	segments, err := l.Segments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments", len(segments))
	}
	if segments[0].ProtString() != "r-x" || segments[1].ProtString() != "rw-" {
		t.Fatalf("prots %s %s", segments[0].ProtString(), segments[1].ProtString())
	}
	if string(segments[1].Data) != "data" || segments[1].MemSize != 0x3000 {
		t.Fatalf("segment 1: %q size %#x", segments[1].Data, segments[1].MemSize)
	}
}

func TestElfRejects(t *testing.T) {
	tests := []struct {
		name string
		p    []byte
	}{
		{"not elf", []byte("#!/bin/sh\n")},
		{"shared object", BuildElf(elf.ET_DYN, elf.EM_X86_64, 0, nil)},
		{"wrong machine", BuildElf(elf.ET_EXEC, elf.EM_RISCV, 0, nil)},
	}
	for _, test := range tests {
		if _, err := Load(test.p); err == nil {
			t.Errorf("%s: expected error", test.name)
		}
	}
}

func TestFindBootImage(t *testing.T) {
	if _, err := FindBootImage(nil, ""); models.KindOf(err) != models.ErrNoBootImage {
		t.Fatalf("no sources: %v", err)
	}
	if _, err := FindBootImage([]byte("junk"), ""); models.KindOf(err) != models.ErrNoBootImage {
		t.Fatalf("bad embedded image: %v", err)
	}
	path := filepath.Join(t.TempDir(), "init.elf")
	if err := os.WriteFile(path, testImage(), 0644); err != nil {
		t.Fatal(err)
	}
	l, err := FindBootImage(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	if l.Arch() != models.ArchAArch64 {
		t.Fatalf("arch %s", l.Arch())
	}
	if _, err := FindBootImage(nil, path+".missing"); models.KindOf(err) != models.ErrNoBootImage {
		t.Fatalf("missing file: %v", err)
	}
}

func TestSpinImage(t *testing.T) {
	for _, arch := range []models.Arch{models.ArchAArch64, models.ArchX86_64} {
		p, err := SpinImage(arch)
		if err != nil {
			t.Fatal(err)
		}
		l, err := Load(p)
		if err != nil {
			t.Fatalf("%s: %v", arch, err)
		}
		segs, err := l.Segments()
		if err != nil {
			t.Fatal(err)
		}
		if l.Arch() != arch || l.Entry() != models.RealmBinaryBase || len(segs) != 1 {
			t.Errorf("%s: got %s with %d segments", arch, l, len(segs))
		}
		if segs[0].Prot != models.PROT_READ|models.PROT_EXEC {
			t.Errorf("%s: prot %s", arch, segs[0].ProtString())
		}
	}
	if _, err := SpinImage("mips"); err == nil {
		t.Error("built an image for an unknown arch")
	}
}
