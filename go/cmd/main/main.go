package main

import (
	"github.com/lonaos/lmm/go/cmd"

	_ "github.com/lonaos/lmm/go/cmd/boot"
	_ "github.com/lonaos/lmm/go/cmd/repl"
	_ "github.com/lonaos/lmm/go/cmd/trace"
)

func main() { cmd.Main() }
