package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/luciancaetano/wirenet"
)

const (
	lengthSize = 4
	headerSize = 2

	// DefaultMaxFrameSize is the largest declared frame length accepted (10MB).
	DefaultMaxFrameSize = 10 * 1024 * 1024

	// MaxMessageID is the largest id a frame header can carry.
	MaxMessageID = math.MaxUint16

	maxStringSize = math.MaxUint16
)

// Codec implements wirenet.Codec with the length-prefixed layout:
//
//	[4 bytes: length L (uint32, big-endian)][2 bytes: id (uint16, big-endian)][L-2 bytes: fields]
//
// L counts the id and the fields but not itself.
type Codec struct {
	maxFrameSize int
}

var _ wirenet.Codec = (*Codec)(nil)

// Option configures a Codec.
type Option func(*Codec)

// WithMaxFrameSize bounds the declared length of a frame. Values <= 0 keep
// the default.
func WithMaxFrameSize(size int) Option {
	return func(c *Codec) {
		if size > 0 {
			c.maxFrameSize = size
		}
	}
}

// NewCodec returns a Codec configured by opts.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFrameSize returns the configured frame size limit.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Encode builds one frame for id from fields.
//
// Supported field types are int32, int (must fit in int32), int16, uint16,
// bool, string (at most 65535 bytes) and []byte (written raw).
func (c *Codec) Encode(id uint32, fields []any) ([]byte, error) {
	if id > MaxMessageID {
		return nil, fmt.Errorf("%w: message id %d exceeds %d", wirenet.ErrEncodingFailure, id, MaxMessageID)
	}

	out := make([]byte, lengthSize+headerSize, lengthSize+headerSize+8*len(fields))
	binary.BigEndian.PutUint16(out[lengthSize:], uint16(id))

	for i, field := range fields {
		var err error
		if out, err = appendField(out, field); err != nil {
			return nil, fmt.Errorf("%w: message %d field %d: %w", wirenet.ErrEncodingFailure, id, i, err)
		}
	}

	length := len(out) - lengthSize
	if length > c.maxFrameSize {
		return nil, fmt.Errorf("%w: message %d frame size %d exceeds maximum %d bytes", wirenet.ErrEncodingFailure, id, length, c.maxFrameSize)
	}
	binary.BigEndian.PutUint32(out[:lengthSize], uint32(length))
	return out, nil
}

// Decode extracts the complete frames at the front of buf.
//
// A malformed frame, too short to hold an id or declaring more than the
// maximum size, is skipped by its declared length and reported in the
// returned error while decoding carries on. An oversized frame may extend past
// buf, in which case consumed exceeds len(buf) and the caller must drop that
// many bytes of later input. Payloads reference buf - do not modify it.
func (c *Codec) Decode(buf []byte) ([]wirenet.Wrapper, int, error) {
	var (
		frames []wirenet.Wrapper
		errs   []error
		offset int
	)

	for len(buf)-offset >= lengthSize {
		declared := binary.BigEndian.Uint32(buf[offset:])
		end := offset + lengthSize + int(declared)

		if uint64(declared) > uint64(c.maxFrameSize) {
			errs = append(errs, fmt.Errorf("%w: frame at offset %d declares %d bytes, maximum is %d",
				wirenet.ErrDecodingFailure, offset, declared, c.maxFrameSize))
			offset = end
			continue
		}

		if end > len(buf) {
			break
		}

		if declared < headerSize {
			errs = append(errs, fmt.Errorf("%w: frame at offset %d declares %d bytes, too short for a message id",
				wirenet.ErrDecodingFailure, offset, declared))
			offset = end
			continue
		}

		id := uint32(binary.BigEndian.Uint16(buf[offset+lengthSize:]))
		frames = append(frames, NewMessage(id, buf[offset+lengthSize+headerSize:end:end]))
		offset = end
	}

	return frames, offset, errors.Join(errs...)
}

func appendField(out []byte, field any) ([]byte, error) {
	switch v := field.(type) {
	case int32:
		return binary.BigEndian.AppendUint32(out, uint32(v)), nil
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("int %d overflows int32", v)
		}
		return binary.BigEndian.AppendUint32(out, uint32(int32(v))), nil
	case int16:
		return binary.BigEndian.AppendUint16(out, uint16(v)), nil
	case uint16:
		return binary.BigEndian.AppendUint16(out, v), nil
	case bool:
		if v {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case string:
		if len(v) > maxStringSize {
			return nil, fmt.Errorf("string of %d bytes exceeds %d", len(v), maxStringSize)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(v)))
		return append(out, v...), nil
	case []byte:
		return append(out, v...), nil
	default:
		return nil, fmt.Errorf("unsupported field type %T", field)
	}
}

var defaultCodec = NewCodec()

// Encode encodes with the default codec.
func Encode(id uint32, fields ...any) ([]byte, error) {
	return defaultCodec.Encode(id, fields)
}

// Decode decodes with the default codec.
func Decode(buf []byte) ([]wirenet.Wrapper, int, error) {
	return defaultCodec.Decode(buf)
}
