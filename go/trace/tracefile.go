package trace

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

var TRACE_MAGIC = "LMMT"

const TRACE_VERSION = 1

var order = binary.LittleEndian

type TraceHeader struct {
	// MAGIC ("LMMT")
	Magic string `struc:"[4]byte"`
	// file format version
	Version uint32
	// Target architecture, "aarch64" or "x86_64". Right-null-padded.
	Arch string `struc:"[16]byte"`
}

type TraceWriter struct {
	w  io.WriteCloser
	zw *snappy.Writer
}

func NewWriter(w io.WriteCloser, arch models.Arch) (*TraceWriter, error) {
	header := &TraceHeader{
		Magic:   TRACE_MAGIC,
		Version: TRACE_VERSION,
		Arch:    string(arch),
	}
	if err := packHeader(w, header); err != nil {
		return nil, err
	}
	return &TraceWriter{w: w, zw: snappy.NewBufferedWriter(w)}, nil
}

func packHeader(w io.Writer, h *TraceHeader) error {
	return errors.Wrap(struc.PackWithOrder(w, h, order), "failed to pack header")
}

func (t *TraceWriter) Pack(r *Record) error {
	return struc.PackWithOrder(t.zw, r, order)
}

func (t *TraceWriter) Flush() error {
	return t.zw.Flush()
}

func (t *TraceWriter) Close() error {
	if err := t.zw.Close(); err != nil {
		t.w.Close()
		return err
	}
	return t.w.Close()
}

type TraceReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*TraceReader, error) {
	t := &TraceReader{r: r}
	if err := struc.UnpackWithOrder(r, &t.Header, order); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	if t.Header.Version != TRACE_VERSION {
		return nil, errors.Errorf("unsupported trace version %d", t.Header.Version)
	}
	t.Header.Arch = strings.TrimRight(t.Header.Arch, "\x00")
	if !models.Arch(t.Header.Arch).Valid() {
		return nil, errors.Errorf("unknown trace arch %q", t.Header.Arch)
	}
	t.zr = snappy.NewReader(r)
	return t, nil
}

func (t *TraceReader) Arch() models.Arch { return models.Arch(t.Header.Arch) }

// Next returns io.EOF after the last record.
func (t *TraceReader) Next() (*Record, error) {
	var r Record
	if err := struc.UnpackWithOrder(t.zr, &r, order); err != nil {
		if errors.Cause(err) == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to unpack record")
	}
	return &r, nil
}

// All reads every remaining record.
func (t *TraceReader) All() ([]*Record, error) {
	var out []*Record
	for {
		r, err := t.Next()
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}

func (t *TraceReader) Close() {
	t.zr.Reset(nil)
	t.r.Close()
}
