// Package buffer accumulates socket deliveries until they hold complete frames.
package buffer

// Append returns buf followed by chunk in a newly allocated slice.
// Neither input is modified. An empty chunk returns buf as is.
func Append(buf, chunk []byte) []byte {
	if len(chunk) == 0 {
		return buf
	}

	out := make([]byte, len(buf)+len(chunk))
	n := copy(out, buf)
	copy(out[n:], chunk)
	return out
}

// Remainder returns the part of buf after the first consumed bytes.
// The result aliases buf.
func Remainder(buf []byte, consumed int) []byte {
	if consumed <= 0 {
		return buf
	}
	if consumed >= len(buf) {
		return nil
	}
	return buf[consumed:]
}

// Accumulator holds bytes that have arrived but not yet been framed.
// It is not safe for concurrent use.
type Accumulator struct {
	buf []byte
	// skip counts bytes of a discarded frame that have not arrived yet.
	skip int
}

// Write appends chunk to the pending bytes, first dropping any bytes still
// owed to a discarded frame.
func (a *Accumulator) Write(chunk []byte) {
	if a.skip > 0 {
		n := min(a.skip, len(chunk))
		a.skip -= n
		chunk = chunk[n:]
	}
	a.buf = Append(a.buf, chunk)
}

// Bytes returns the pending bytes. The slice is never written to by the
// accumulator, so it stays valid after later calls.
func (a *Accumulator) Bytes() []byte {
	return a.buf
}

// Trim drops the first consumed pending bytes. Consuming more than is pending
// drops the difference from later writes.
func (a *Accumulator) Trim(consumed int) {
	if consumed > len(a.buf) {
		a.skip += consumed - len(a.buf)
	}
	a.buf = Remainder(a.buf, consumed)
}

// Skipping returns the number of future bytes Write will drop.
func (a *Accumulator) Skipping() int {
	return a.skip
}

// Len returns the number of pending bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Reset drops all pending bytes and any outstanding skip.
func (a *Accumulator) Reset() {
	a.buf = nil
	a.skip = 0
}
