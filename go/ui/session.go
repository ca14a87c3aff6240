package ui

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/manager"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/sim"
	"github.com/lonaos/lmm/go/untyped"
)

const DefaultTimeout = 2 * time.Second

// Session plays one realm's first worker against the manager. Each request
// is served on the caller's goroutine, so manager state is never shared.
type Session struct {
	Kernel  *sim.Kernel
	Manager *manager.Manager
	Entry   *manager.Entry
	Untyped *untyped.Allocator
	Color   bool
	Timeout time.Duration

	thread *sim.Thread
	client *ipc.Client
}

func NewSession(k *sim.Kernel, m *manager.Manager, e *manager.Entry, ut *untyped.Allocator) (*Session, error) {
	th, err := k.Thread(e.Realm.TCB)
	if err != nil {
		return nil, errors.Wrap(err, "realm thread")
	}
	return &Session{
		Kernel:  k,
		Manager: m,
		Entry:   e,
		Untyped: ut,
		Timeout: DefaultTimeout,
		thread:  th,
		client:  ipc.NewClient(th),
	}, nil
}

// roundTrip runs send as the realm thread and handles the one message it
// produces. replied is false when the manager left the thread blocked.
func (s *Session) roundTrip(send func(ctx context.Context) error) (replied bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		err := send(ctx)
		if err != nil {
			// unblock Recv when the thread never reached the manager
			cancel()
		}
		done <- err
	}()

	msg, err := s.Kernel.Recv(ctx)
	if err != nil {
		return false, errors.Wrap(<-done, "no message from realm")
	}
	if err := s.Manager.Handle(msg); err != nil {
		cancel()
		<-done
		return false, err
	}
	if s.Kernel.Pending() > 0 {
		cancel()
		<-done
		return false, nil
	}
	return true, <-done
}

func (s *Session) Alloc(region ipc.Region, pages uint64, hint models.Vaddr) (models.Vaddr, error) {
	var vaddr models.Vaddr
	_, err := s.roundTrip(func(ctx context.Context) error {
		var err error
		vaddr, err = s.client.RequestPages(ctx, region, pages, hint)
		return err
	})
	return vaddr, err
}

// Fault reports whether the thread was resumed.
func (s *Session) Fault(addr uint64) (bool, error) {
	return s.roundTrip(func(ctx context.Context) error {
		return s.thread.Fault(ctx, models.VMFault{IP: s.Entry.Realm.Entry, Addr: addr})
	})
}

// RaiseTimeout reports whether the thread was resumed after a budget timeout.
func (s *Session) RaiseTimeout(addr uint64) (bool, error) {
	return s.roundTrip(func(ctx context.Context) error {
		return s.thread.Timeout(ctx, s.Entry.Realm.Entry, addr)
	})
}

var regionNames = map[string]ipc.Region{
	"pool":   ipc.RegionProcessPool,
	"binary": ipc.RegionRealmBinary,
	"local":  ipc.RegionRealmLocal,
}

func parseNum(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	return n, errors.Wrapf(err, "bad number %q", s)
}

const help = `alloc <pool|binary|local> <pages> [hint]  request pages
fault <addr>                              raise a vm fault
timeout <addr>                            raise a budget timeout
read <addr> <n>                           hexdump realm memory
maps                                      list realm mappings
stat                                      realm summary
untyped                                   untyped catalog
quit
`

// Exec runs one command line.
func (s *Session) Exec(line string, w io.Writer) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	nums := make([]uint64, 0, len(args))
	argc := func(min, max int) error {
		if len(args)-1 < min || len(args)-1 > max {
			return errors.Errorf("%s: wrong argument count", args[0])
		}
		return nil
	}
	numArgs := func(from int) error {
		for _, a := range args[from:] {
			n, err := parseNum(a)
			if err != nil {
				return err
			}
			nums = append(nums, n)
		}
		return nil
	}

	switch args[0] {
	case "alloc":
		if err := argc(2, 3); err != nil {
			return false, err
		}
		region, ok := regionNames[args[1]]
		if !ok {
			return false, errors.Errorf("unknown region %q", args[1])
		}
		if err := numArgs(2); err != nil {
			return false, err
		}
		var hint models.Vaddr
		if len(nums) > 1 {
			hint = models.Vaddr(nums[1])
		}
		vaddr, err := s.Alloc(region, nums[0], hint)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "%d pages at %s\n", nums[0], vaddr)
	case "fault", "timeout":
		if err := argc(1, 1); err != nil {
			return false, err
		}
		if err := numArgs(1); err != nil {
			return false, err
		}
		raise := s.Fault
		if args[0] == "timeout" {
			raise = s.RaiseTimeout
		}
		resumed, err := raise(nums[0])
		if err != nil {
			return false, err
		}
		if resumed {
			fmt.Fprintln(w, "resumed")
		} else {
			fmt.Fprintln(w, paint("fatal: thread left blocked", chFail, s.Color))
		}
	case "read":
		if err := argc(2, 2); err != nil {
			return false, err
		}
		if err := numArgs(1); err != nil {
			return false, err
		}
		p, err := s.thread.Read(models.Vaddr(nums[0]), int(nums[1]))
		if err != nil {
			return false, err
		}
		for i := 0; i < len(p); i += 16 {
			end := i + 16
			if end > len(p) {
				end = len(p)
			}
			fmt.Fprintf(w, "%#x: % x\n", nums[0]+uint64(i), p[i:end])
		}
	case "maps":
		fmt.Fprint(w, MappingTable(s.Kernel.Mappings(s.Entry.Realm.VSpace), s.Color))
	case "stat":
		fmt.Fprint(w, RealmSummary(s.Entry, s.Kernel, s.Color))
	case "untyped":
		if s.Untyped != nil {
			fmt.Fprint(w, UntypedTable(s.Untyped.Descs(), s.Color))
		}
	case "help", "?":
		fmt.Fprint(w, help)
	case "quit", "exit":
		return true, nil
	default:
		return false, errors.Errorf("unknown command %q, try help", args[0])
	}
	return false, nil
}
