package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/mgutz/ansi"

	"github.com/lonaos/lmm/go/ipc"
	"github.com/lonaos/lmm/go/manager"
	"github.com/lonaos/lmm/go/models"
	"github.com/lonaos/lmm/go/sim"
	"github.com/lonaos/lmm/go/trace"
	"github.com/lonaos/lmm/go/untyped"
)

var (
	chLabel  = ansi.ColorCode("default+b:default")
	chExec   = ansi.ColorCode("red:default")
	chWrite  = ansi.ColorCode("green:default")
	chDevice = ansi.ColorCode("yellow:default")
	chFail   = ansi.ColorCode("red+b:default")
	chDim    = ansi.ColorCode("black+h:default")
)

func paint(s, color string, on bool) string {
	if !on {
		return s
	}
	return color + s + ansi.Reset
}

func pad(s string, to int) string {
	if len(s) >= to {
		return ""
	}
	return strings.Repeat(" ", to-len(s))
}

func flagString(f models.BootFlags) string {
	var out []string
	if f.Has(models.BootIsInitRealm) {
		out = append(out, "init")
	}
	if f.Has(models.BootHasUART) {
		out = append(out, "uart")
	}
	if f.Has(models.BootHasFramebuffer) {
		out = append(out, "fb")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

// RealmSummary describes one registered realm. k may be nil.
func RealmSummary(e *manager.Entry, k *sim.Kernel, color bool) string {
	r := e.Realm
	var b strings.Builder
	row := func(name, format string, args ...interface{}) {
		fmt.Fprintf(&b, "  %s%s %s\n", paint(name, chLabel, color), pad(name, 10), fmt.Sprintf(format, args...))
	}
	fmt.Fprintf(&b, "%s\n", paint(fmt.Sprintf("realm %d", r.ID), chLabel, color))
	row("image", "entry %#x digest %016x", r.Entry, r.Digest)
	row("slots", "vspace %d cspace %d tcb %d sc %d ep %d", r.VSpace, r.CSpace, r.TCB, r.SchedContext, r.Endpoint)
	row("flags", "%s", flagString(r.Flags))
	row("budget", "%dus / %dus", e.BudgetUS, e.PeriodUS)
	row("pages", "%d at boot, %d on request", r.Pages, e.PagesAllocated)
	row("faults", "%d vm, %d timeout", e.Faults, e.Timeouts)
	for _, region := range []ipc.Region{ipc.RegionProcessPool, ipc.RegionRealmBinary, ipc.RegionRealmLocal} {
		row(region.String(), "next %#x", e.Next(region))
	}
	if k != nil {
		row("mapped", "%d pages, %d tables", len(k.Mappings(r.VSpace)), k.TableCount(r.VSpace))
		if sc, ok := k.Sched(r.SchedContext); ok {
			row("refills", "%d", sc.Refills)
		}
	}
	return b.String()
}

type span struct {
	start, end uint64
	prot       int
	desc       string
}

// MappingTable coalesces contiguous pages with equal protection.
func MappingTable(pages sim.Pages, color bool) string {
	var spans []span
	for _, p := range pages {
		if n := len(spans); n > 0 {
			last := &spans[n-1]
			if last.end == p.Addr && last.prot == p.Prot && last.desc == p.Desc {
				last.end += p.Size
				continue
			}
		}
		spans = append(spans, span{p.Addr, p.Addr + p.Size, p.Prot, p.Desc})
	}
	var b strings.Builder
	for _, s := range spans {
		seg := models.Segment{Prot: s.prot}
		prot := seg.ProtString()
		col := chDim
		switch {
		case s.desc == "device":
			col = chDevice
		case s.prot&models.PROT_EXEC != 0:
			col = chExec
		case s.prot&models.PROT_WRITE != 0:
			col = chWrite
		}
		line := fmt.Sprintf("0x%012x-0x%012x %s %6d  %s", s.start, s.end, prot, (s.end-s.start)/models.PageSize, models.FaultRegionOf(s.start))
		if s.desc != "" {
			line += " [" + s.desc + "]"
		}
		b.WriteString(paint(line, col, color) + "\n")
	}
	return b.String()
}

func UntypedTable(descs []untyped.Desc, color bool) string {
	var b strings.Builder
	for _, d := range descs {
		line := fmt.Sprintf("%6d %#012x 2^%-2d used %#x free %#x", d.Slot, uint64(d.Paddr), d.SizeBits, d.Watermark, d.Remaining())
		if d.IsDevice {
			line = paint(line+" device", chDevice, color)
		} else if d.Remaining() == 0 {
			line = paint(line, chDim, color)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// DumpTrace prints every record in r. Failed operations are highlighted.
func DumpTrace(w io.Writer, r *trace.TraceReader, color bool) (int, error) {
	fmt.Fprintf(w, "%s trace, version %d\n", r.Arch(), r.Header.Version)
	count := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return count, nil
		} else if err != nil {
			return count, err
		}
		line := rec.String()
		if rec.Failed() {
			line = paint(line, chFail, color)
		}
		fmt.Fprintln(w, line)
		count++
	}
}
