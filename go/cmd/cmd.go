package cmd

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/config"
	"github.com/lonaos/lmm/go/kobj"
	"github.com/lonaos/lmm/go/loader"
	"github.com/lonaos/lmm/go/manager"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/pagetable"
	"github.com/lonaos/lmm/go/realm"
	"github.com/lonaos/lmm/go/sim"
	"github.com/lonaos/lmm/go/slots"
	"github.com/lonaos/lmm/go/trace"
	"github.com/lonaos/lmm/go/untyped"
)

// LmmCmd boots the simulated machine shared by the subcommands: one init
// realm built from the boot image, registered with a manager.
type LmmCmd struct {
	Config *config.Config
	Flags  *flag.FlagSet

	// Body runs after Boot. Its error is printed and turned into exit status 1.
	Body func() error

	Kernel  *sim.Kernel
	Untyped *untyped.Allocator
	Manager *manager.Manager
	Entry   *manager.Entry
	Tracer  *trace.Kernel

	configPath string
	image      string
	tracePath  string
	verbose    bool
	noColor    bool

	traceWriter *trace.TraceWriter
}

func NewLmmCmd(name string) *LmmCmd {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &LmmCmd{Flags: fs}
	fs.StringVar(&c.configPath, "config", "", "boot inventory (default: "+config.FileName+" in the user config folder)")
	fs.StringVar(&c.image, "image", "", "realm boot image, ELF64 executable (default: built-in spin loop)")
	fs.StringVar(&c.tracePath, "trace", "", "record kernel operations to this file")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
	fs.BoolVar(&c.noColor, "nocolor", false, "disable color output")
	return c
}

// Color reports whether terminal output should be colored.
func (c *LmmCmd) Color() bool {
	return !c.noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// SetupLogging installs the default logger. Call it before building any
// component, since each captures the default logger when created.
func SetupLogging(level slog.Level, color bool) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
	})))
}

func (c *LmmCmd) Parse(args []string) error {
	c.Flags.Parse(args[1:])
	cfg, err := config.Find(c.configPath)
	if err != nil {
		return err
	}
	if c.image != "" {
		cfg.Image = c.image
	}
	if c.tracePath != "" {
		cfg.Trace = c.tracePath
	}
	if c.verbose {
		cfg.LogLevel = "debug"
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	c.Config = cfg
	SetupLogging(level, !c.noColor && isatty.IsTerminal(os.Stderr.Fd()))
	if cfg.Path != "" {
		slog.Debug("loaded config", "path", cfg.Path)
	}
	return nil
}

func (c *LmmCmd) bootImage() (*loader.ElfLoader, error) {
	if c.Config.Image != "" {
		return loader.FindBootImage(nil, c.Config.Image)
	}
	spin, err := loader.SpinImage(c.Config.Arch)
	if err != nil {
		return nil, err
	}
	return loader.FindBootImage(spin, "")
}

// Boot builds the machine from c.Config and starts the init realm's first worker.
func (c *LmmCmd) Boot() error {
	cfg := c.Config
	k, err := sim.New(cfg.Sim())
	if err != nil {
		return err
	}
	c.Kernel = k
	var kern models.Kernel = k
	if cfg.Trace != "" {
		f, err := os.Create(cfg.Trace)
		if err != nil {
			return errors.WithStack(err)
		}
		w, err := trace.NewWriter(f, cfg.Arch)
		if err != nil {
			f.Close()
			return err
		}
		c.traceWriter = w
		c.Tracer = trace.NewKernel(k, w)
		kern = c.Tracer
	}

	bi := k.BootInfo()
	c.Untyped = untyped.FromBootInfo(bi)
	f := kobj.New(kern, c.Untyped, slots.FromBootInfo(bi))
	mat, err := pagetable.New(f)
	if err != nil {
		return err
	}
	mapper := pagetable.NewMapper(f, mat, bi.RootVSpace)

	img, err := c.bootImage()
	if err != nil {
		return err
	}
	slog.Info("boot image", "image", img, "digest", fmt.Sprintf("%016x", img.Digest()))
	con := realm.NewConstructor(mapper)
	con.BudgetUS, con.PeriodUS = cfg.BudgetUS, cfg.PeriodUS
	r, err := con.Create(models.RealmInit, img)
	if err != nil {
		return err
	}
	if err := con.StartWorker(r, 0); err != nil {
		return err
	}

	c.Manager = manager.New(kern, k, mapper)
	c.Manager.Limit = cfg.MaxRealms
	c.Entry, err = c.Manager.Register(r)
	return err
}

func (c *LmmCmd) Close() {
	if c.traceWriter != nil {
		if err := c.traceWriter.Close(); err != nil {
			slog.Error("closing trace", "err", err)
		} else {
			slog.Info("trace written", "path", c.Config.Trace, "ops", c.Tracer.Count())
		}
	}
	if c.Kernel != nil {
		c.Kernel.Close()
	}
}

// Run parses args, boots, runs Body and returns the exit status.
func (c *LmmCmd) Run(args []string) int {
	if err := c.Parse(args); err != nil {
		PrintError(err)
		return 1
	}
	defer c.Close()
	if err := c.Boot(); err != nil {
		PrintError(err)
		return 1
	}
	if c.Body != nil {
		if err := c.Body(); err != nil {
			PrintError(err)
			return 1
		}
	}
	return 0
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// deepestStack finds the innermost error in the chain that carries a stack.
func deepestStack(err error) stackTracer {
	var found stackTracer
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			found = st
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return found
}

func PrintError(err error) {
	// print an error, and a stacktrace if available
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if kind := models.KindOf(err); kind != models.ErrUnknown {
		fmt.Fprintf(os.Stderr, "Kind: %s\n", kind)
	}
	st := deepestStack(err)
	if st == nil {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	// calculate column widths
	widths := make([]int, 2)
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if len(f[i]) > widths[i] {
				widths[i] = len(f[i])
			}
		}
	}
	// print pretty stacktrace
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", f[2])
	}
}
