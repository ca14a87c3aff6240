package ui

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/shibukawa/configdir"
)

type Repl struct {
	s  *Session
	rl *readline.Instance
}

func NewRepl(s *Session) (*Repl, error) {
	// get history path
	configDirs := configdir.New("lonaos", "lmm")
	cacheDir := configDirs.QueryCacheFolder()
	historyPath := ""
	if err := cacheDir.MkdirAll(); err == nil {
		historyPath = filepath.Join(cacheDir.Path, "history")
	}
	completer := readline.NewPrefixCompleter(
		readline.PcItem("alloc", readline.PcItem("pool"), readline.PcItem("binary"), readline.PcItem("local")),
		readline.PcItem("fault"),
		readline.PcItem("timeout"),
		readline.PcItem("read"),
		readline.PcItem("maps"),
		readline.PcItem("stat"),
		readline.PcItem("untyped"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "\n",
		HistoryFile:     historyPath,
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, err
	}
	r := &Repl{s: s, rl: rl}
	r.setPrompt()
	return r, nil
}

// Stderr is where log output should go while the prompt is up.
func (r *Repl) Stderr() io.Writer { return r.rl.Stderr() }

func (r *Repl) setPrompt() {
	e := r.s.Entry
	r.rl.SetPrompt(fmt.Sprintf("realm %d [%d pages]> ", e.Realm.ID, e.PagesAllocated))
}

// Run reads commands until quit or EOF.
func (r *Repl) Run() {
	defer r.Close()
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err != nil {
			break
		}
		quit, err := r.s.Exec(line, r.rl.Stdout())
		if err != nil {
			fmt.Fprintln(r.rl.Stderr(), paint(err.Error(), chFail, r.s.Color))
		}
		if quit {
			break
		}
		r.setPrompt()
	}
}

func (r *Repl) Close() {
	r.rl.Close()
}
