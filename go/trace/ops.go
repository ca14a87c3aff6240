package trace

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

const (
	OP_NOP          = 0
	OP_RETYPE       = 1
	OP_ASSIGN_ASID  = 2
	OP_MAP_FRAME    = 3
	OP_UNMAP_FRAME  = 4
	OP_MAP_TABLE    = 5
	OP_STORE        = 6
	OP_SCHED_CONFIG = 7
	OP_TCB_CONFIG   = 8
	OP_WRITE_REGS   = 9
	OP_SCHED_PARAMS = 10
	OP_RESUME       = 11
	OP_COPY_CAP     = 12
	OP_IOPORT       = 13
)

var opNames = map[uint8]string{
	OP_NOP:          "nop",
	OP_RETYPE:       "retype",
	OP_ASSIGN_ASID:  "assign_asid",
	OP_MAP_FRAME:    "map_frame",
	OP_UNMAP_FRAME:  "unmap_frame",
	OP_MAP_TABLE:    "map_table",
	OP_STORE:        "store",
	OP_SCHED_CONFIG: "configure_sched",
	OP_TCB_CONFIG:   "configure_tcb",
	OP_WRITE_REGS:   "write_registers",
	OP_SCHED_PARAMS: "set_sched_params",
	OP_RESUME:       "resume",
	OP_COPY_CAP:     "copy_cap",
	OP_IOPORT:       "issue_ioport",
}

// CODE_OTHER marks a failure that was not a kernel rejection.
const CODE_OTHER = 0xff

// Record is one kernel operation and its outcome.
type Record struct {
	Seq   uint64
	Op    uint8
	Code  uint8
	Level uint8
	Argc  uint8 `struc:"sizeof=Args"`
	Args  []uint64
}

func newRecord(seq uint64, op uint8, err error, args ...uint64) *Record {
	r := &Record{Seq: seq, Op: op, Args: args}
	if err != nil {
		var kerr *models.KernelError
		if errors.As(err, &kerr) {
			r.Code = uint8(kerr.Code)
			r.Level = uint8(kerr.Level)
		} else {
			r.Code = CODE_OTHER
		}
	}
	return r
}

func (r *Record) Name() string {
	if name, ok := opNames[r.Op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", r.Op)
}

func (r *Record) Failed() bool { return r.Code != 0 }

// Err rebuilds the kernel error the operation returned, if any.
func (r *Record) Err() error {
	switch r.Code {
	case 0:
		return nil
	case CODE_OTHER:
		return errors.Errorf("%s: failed", r.Name())
	}
	return &models.KernelError{Op: r.Name(), Code: int(r.Code), Level: int(r.Level)}
}

func (r *Record) String() string {
	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		args[i] = fmt.Sprintf("%#x", a)
	}
	s := fmt.Sprintf("%6d %s(%s)", r.Seq, r.Name(), strings.Join(args, ", "))
	if err := r.Err(); err != nil {
		s += " = " + err.Error()
	}
	return s
}
