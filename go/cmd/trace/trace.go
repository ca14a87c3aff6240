package trace

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/lonaos/lmm/go/cmd"
	"github.com/lonaos/lmm/go/trace"
	"github.com/lonaos/lmm/go/ui"
)

func Main(args []string) {
	fs := flag.NewFlagSet("args", flag.ExitOnError)
	noColor := fs.Bool("nocolor", false, "disable color output")
	fs.Usage = func() {
		fmt.Printf("Usage: %s [options] <tracefile>\n", args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open: %s %v\n", fs.Arg(0), err)
		os.Exit(1)
	}
	tf, err := trace.NewReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening trace file: %v\n", err)
		os.Exit(1)
	}
	defer tf.Close()
	color := !*noColor && isatty.IsTerminal(os.Stdout.Fd())
	n, err := ui.DumpTrace(os.Stdout, tf, color)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d operations\n", n)
}

func init() { cmd.Register("trace", "dump a saved kernel operation trace", Main) }
