package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luciancaetano/wirenet"
)

// ErrShortPayload is returned when a read needs more bytes than remain.
var ErrShortPayload = errors.New("payload too short")

// Message is a decoded frame. It reads fields sequentially and is not safe
// for concurrent use.
type Message struct {
	id      uint32
	payload []byte
	pos     int
}

var _ wirenet.Wrapper = (*Message)(nil)

// NewMessage wraps payload as the body of message id.
func NewMessage(id uint32, payload []byte) *Message {
	return &Message{id: id, payload: payload}
}

// ID returns the message id from the frame header.
func (m *Message) ID() uint32 {
	return m.id
}

// Remaining returns the number of unread payload bytes.
func (m *Message) Remaining() int {
	return len(m.payload) - m.pos
}

// Bytes returns the whole payload, independent of the read position.
func (m *Message) Bytes() []byte {
	return m.payload
}

func (m *Message) next(n int) ([]byte, error) {
	if n < 0 || m.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, %d remaining in message %d", ErrShortPayload, n, m.Remaining(), m.id)
	}
	b := m.payload[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

// ReadInt reads a big-endian int32.
func (m *Message) ReadInt() (int32, error) {
	b, err := m.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadShort reads a big-endian int16.
func (m *Message) ReadShort() (int16, error) {
	b, err := m.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// ReadBool reads one byte; any non-zero value is true.
func (m *Message) ReadBool() (bool, error) {
	b, err := m.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadString reads a uint16 length followed by that many bytes.
func (m *Message) ReadString() (string, error) {
	b, err := m.next(2)
	if err != nil {
		return "", err
	}
	s, err := m.next(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		m.pos -= 2
		return "", err
	}
	return string(s), nil
}

// ReadBytes reads n raw bytes. The result references the payload.
func (m *Message) ReadBytes(n int) ([]byte, error) {
	return m.next(n)
}
