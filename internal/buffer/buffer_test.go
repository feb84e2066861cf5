package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		buf   []byte
		chunk []byte
		want  []byte
	}{
		{name: "both empty", buf: nil, chunk: nil, want: nil},
		{name: "empty buffer", buf: nil, chunk: []byte{1, 2}, want: []byte{1, 2}},
		{name: "empty chunk", buf: []byte{1}, chunk: []byte{}, want: []byte{1}},
		{name: "concatenate", buf: []byte{1, 2}, chunk: []byte{3}, want: []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Append(tt.buf, tt.chunk))
		})
	}
}

func TestAppend_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 2, 16)
	buf[0], buf[1] = 'a', 'b'
	chunk := []byte("cd")

	out := Append(buf, chunk)
	out[0] = 'z'

	assert.Equal(t, []byte("ab"), buf)
	assert.Equal(t, []byte("cd"), chunk)
	assert.Equal(t, []byte("zbcd"), out)

	// The spare capacity of buf must not have been used.
	assert.Equal(t, byte(0), buf[:3][2])
}

func TestAppend_EmptyChunkReturnsSameSlice(t *testing.T) {
	t.Parallel()

	buf := []byte{1, 2, 3}
	out := Append(buf, nil)

	assert.Same(t, &buf[0], &out[0])
}

func TestRemainder(t *testing.T) {
	t.Parallel()

	buf := []byte{1, 2, 3, 4}

	assert.Equal(t, buf, Remainder(buf, 0))
	assert.Equal(t, buf, Remainder(buf, -1))
	assert.Equal(t, []byte{3, 4}, Remainder(buf, 2))
	assert.Nil(t, Remainder(buf, 4))
	assert.Nil(t, Remainder(buf, 10))
}

func TestAccumulator(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.Write([]byte{1, 2})
	acc.Write(nil)
	acc.Write([]byte{3})
	assert.Equal(t, 3, acc.Len())

	held := acc.Bytes()
	acc.Trim(2)
	assert.Equal(t, []byte{3}, acc.Bytes())

	acc.Write([]byte{4})
	assert.Equal(t, []byte{3, 4}, acc.Bytes())
	// Earlier views are never overwritten.
	assert.Equal(t, []byte{1, 2, 3}, held)

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
}

func TestAccumulator_SkipsPastPendingBytes(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.Write([]byte{1, 2, 3})
	acc.Trim(7)
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, 4, acc.Skipping())

	acc.Write([]byte{4, 5})
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, 2, acc.Skipping())

	acc.Write([]byte{6, 7, 8, 9})
	assert.Equal(t, []byte{8, 9}, acc.Bytes())
	assert.Equal(t, 0, acc.Skipping())

	acc.Trim(5)
	acc.Reset()
	assert.Equal(t, 0, acc.Skipping())
}
