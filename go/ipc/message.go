package ipc

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// MaxMRs is how many message registers fit the fast path.
const MaxMRs = 4

// Message is the IPC buffer image of one call or reply: a label, the
// number of registers in use and the registers themselves.
type Message struct {
	Label  uint64
	Length uint64
	MRs    []uint64 `struc:"[4]uint64"`
}

// MessageSize is the packed size of a Message.
const MessageSize = 8 + 8 + 8*MaxMRs

func NewMessage(label uint64, mrs []uint64) (*Message, error) {
	if len(mrs) > MaxMRs {
		return nil, errors.Errorf("%d message registers exceeds %d", len(mrs), MaxMRs)
	}
	m := &Message{Label: label, Length: uint64(len(mrs)), MRs: make([]uint64, MaxMRs)}
	copy(m.MRs, mrs)
	return m, nil
}

// Used returns the registers in use.
func (m *Message) Used() []uint64 {
	n := m.Length
	if n > uint64(len(m.MRs)) {
		n = uint64(len(m.MRs))
	}
	return m.MRs[:n]
}

func (m *Message) Pack(w io.Writer) error {
	if len(m.MRs) != MaxMRs {
		mrs := make([]uint64, MaxMRs)
		copy(mrs, m.MRs)
		m.MRs = mrs
	}
	return errors.WithStack(struc.PackWithOrder(w, m, binary.LittleEndian))
}

func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Pack(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackMessage reads a Message from an IPC buffer.
func UnpackMessage(r io.Reader) (*Message, error) {
	m := &Message{}
	if err := struc.UnpackWithOrder(r, m, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpack ipc message")
	}
	if m.Length > MaxMRs {
		return nil, errors.Errorf("ipc message length %d exceeds %d", m.Length, MaxMRs)
	}
	return m, nil
}
