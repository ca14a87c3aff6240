package boot

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/cmd"
	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/pool"
	"github.com/lonaos/lmm/go/ui"
)

// grow plays the init realm's allocator: it uses up the initial heap, then
// makes n allocations of size bytes, each of which has to grow the pool.
func grow(ctx context.Context, c *cmd.LmmCmd, n int, size uint64) error {
	th, err := c.Kernel.Thread(c.Entry.Realm.TCB)
	if err != nil {
		return errors.Wrap(err, "realm thread")
	}
	p := pool.NewInit(ipc.NewClient(th))
	if _, _, ok := p.AllocateProcessMemory(p.Remaining(), 0); !ok {
		return errors.New("initial heap unusable")
	}
	for i := 0; i < n; i++ {
		young, _, ok := p.AllocateProcessMemoryWithGrowth(ctx, size, 0)
		if !ok {
			slog.Warn("pool growth refused", "request", i, "size", size, "limit", models.Vaddr(p.Limit()))
			break
		}
		slog.Info("pool grew", "request", i, "base", models.Vaddr(young), "limit", models.Vaddr(p.Limit()))
	}
	return nil
}

func Main(args []string) {
	c := cmd.NewLmmCmd("boot")
	n := c.Flags.Int("grow", 0, "growth requests to make from the init realm")
	size := c.Flags.Uint64("grow-size", 16*models.KB, "bytes per growth request")
	c.Flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", args[0])
		c.Flags.PrintDefaults()
	}
	c.Body = func() error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stopped := make(chan error, 1)
		go func() { stopped <- c.Manager.Run(ctx) }()

		err := grow(ctx, c, *n, *size)
		cancel()
		if rerr := <-stopped; rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			return err
		}
		color := c.Color()
		fmt.Print(ui.RealmSummary(c.Entry, c.Kernel, color))
		fmt.Print(ui.MappingTable(c.Kernel.Mappings(c.Entry.Realm.VSpace), color))
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("boot", "boot the init realm and serve its memory requests", Main) }
