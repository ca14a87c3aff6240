// Package config loads the boot inventory the host simulator presents to
// the memory manager.
package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"

	"github.com/lonaos/lmm/go/manager"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/realm"
	"github.com/lonaos/lmm/go/sim"
	"github.com/lonaos/lmm/go/untyped"
)

const FileName = "lmm.yaml"

const (
	minSizeBits = 4
	maxSizeBits = 47
)

type Untyped struct {
	Paddr    uint64 `yaml:"paddr"`
	SizeBits uint8  `yaml:"size_bits"`
	Device   bool   `yaml:"device,omitempty"`
}

type Config struct {
	Arch       models.Arch `yaml:"arch"`
	EmptyStart uint64      `yaml:"empty_start"`
	EmptyEnd   uint64      `yaml:"empty_end"`
	Untypeds   []Untyped   `yaml:"untypeds"`

	Image    string `yaml:"image,omitempty"`
	Trace    string `yaml:"trace,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`

	BudgetUS  uint64 `yaml:"budget_us"`
	PeriodUS  uint64 `yaml:"period_us"`
	MaxRealms int    `yaml:"max_realms"`

	// file the config was read from, if any
	Path string `yaml:"-"`
}

// Default is a 64 MiB machine with one device page for the UART.
func Default() *Config {
	c := &Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	if c.Arch == "" {
		c.Arch = models.ArchAArch64
	}
	if c.EmptyStart == 0 && c.EmptyEnd == 0 {
		c.EmptyStart, c.EmptyEnd = 64, 1<<16
	}
	if len(c.Untypeds) == 0 {
		c.Untypeds = []Untyped{
			{Paddr: 0x4000_0000, SizeBits: 26},
			{Paddr: uint64(realm.UARTPaddr), SizeBits: 12, Device: true},
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BudgetUS == 0 {
		c.BudgetUS = realm.DefaultBudgetUS
	}
	if c.PeriodUS == 0 {
		c.PeriodUS = realm.DefaultPeriodUS
	}
	if c.MaxRealms == 0 {
		c.MaxRealms = manager.MaxRealms
	}
}

func (c *Config) Validate() error {
	if !c.Arch.Valid() {
		return errors.Errorf("unknown arch %q", c.Arch)
	}
	if c.EmptyStart == 0 || c.EmptyEnd <= c.EmptyStart {
		return errors.Errorf("bad empty slot range [%d, %d)", c.EmptyStart, c.EmptyEnd)
	}
	if len(c.Untypeds) > untyped.MaxUntypeds {
		return errors.Errorf("%d untypeds exceed the catalog capacity of %d", len(c.Untypeds), untyped.MaxUntypeds)
	}
	for i, ut := range c.Untypeds {
		if ut.SizeBits < minSizeBits || ut.SizeBits > maxSizeBits {
			return errors.Errorf("untyped %d: size_bits %d outside [%d, %d]", i, ut.SizeBits, minSizeBits, maxSizeBits)
		}
		if ut.Paddr&(1<<ut.SizeBits-1) != 0 {
			return errors.Errorf("untyped %d: paddr %#x not aligned to its size", i, ut.Paddr)
		}
	}
	if c.BudgetUS > c.PeriodUS {
		return errors.Errorf("budget %dus exceeds period %dus", c.BudgetUS, c.PeriodUS)
	}
	if c.MaxRealms < 1 || c.MaxRealms > manager.MaxRealms {
		return errors.Errorf("max_realms %d outside [1, %d]", c.MaxRealms, manager.MaxRealms)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	return level, nil
}

// Sim converts the inventory for sim.New.
func (c *Config) Sim() sim.Config {
	cfg := sim.Config{
		Arch:       c.Arch,
		EmptyStart: models.CapSlot(c.EmptyStart),
		EmptyEnd:   models.CapSlot(c.EmptyEnd),
	}
	for _, ut := range c.Untypeds {
		cfg.Untypeds = append(cfg.Untypeds, sim.UntypedSpec{Paddr: models.Paddr(ut.Paddr), SizeBits: ut.SizeBits, Device: ut.Device})
	}
	return cfg
}

// Parse decodes p over the defaults. Unknown keys are rejected.
func Parse(p []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(p))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	c.fill()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Load(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c, err := Parse(p)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	c.Path = path
	// relative paths in the file are relative to the file
	dir := filepath.Dir(path)
	if c.Image != "" && !filepath.IsAbs(c.Image) {
		c.Image = filepath.Join(dir, c.Image)
	}
	return c, nil
}

// Find loads path if given, else the first lmm.yaml in the user or system
// config folders, else the defaults.
func Find(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	dirs := configdir.New("lonaos", "lmm")
	if folder := dirs.QueryFolderContainsFile(FileName); folder != nil {
		return Load(filepath.Join(folder.Path, FileName))
	}
	return Default(), nil
}

func (c *Config) Marshal() ([]byte, error) {
	p, err := yaml.Marshal(c)
	return p, errors.WithStack(err)
}
