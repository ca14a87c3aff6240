package repl

import (
	"fmt"
	"os"

	"github.com/lonaos/lmm/go/cmd"
	"github.com/lonaos/lmm/go/ui"
)

func Main(args []string) {
	c := cmd.NewLmmCmd("repl")
	c.Flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", args[0])
		c.Flags.PrintDefaults()
	}
	c.Body = func() error {
		s, err := ui.NewSession(c.Kernel, c.Manager, c.Entry, c.Untyped)
		if err != nil {
			return err
		}
		s.Color = c.Color()
		r, err := ui.NewRepl(s)
		if err != nil {
			return err
		}
		r.Run()
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("repl", "boot, then inspect and drive the init realm interactively", Main) }
