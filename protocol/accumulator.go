package protocol

import "io"

const (
	DefaultReadSize = 4096
)

// Accumulator buffers bytes read from a connection until they form complete
// frames. It is owned by a single goroutine.
//
// Bytes handed out by Split are never written to again: the accumulator only
// ever writes past the end of its unconsumed data and, when it runs out of
// room, moves the unconsumed tail into a fresh allocation. This lets decoded
// frames alias the buffer instead of copying their payloads.
type Accumulator struct {
	buf []byte
}

func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{buf: make([]byte, 0, capacity)}
}

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// call that mutates the accumulator.
func (a *Accumulator) Bytes() []byte {
	return a.buf
}

func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Write appends p. It never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.grow(len(p))
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// ReadFrom performs a single Read of up to size bytes from r, appending
// whatever arrives.
func (a *Accumulator) ReadFrom(r io.Reader, size int) (int, error) {
	if size <= 0 {
		size = DefaultReadSize
	}

	a.grow(size)

	n, err := r.Read(a.buf[len(a.buf) : len(a.buf)+size])
	if n > 0 {
		a.buf = a.buf[:len(a.buf)+n]
	}

	return n, err
}

// Split removes and returns the first n bytes. The returned slice has its
// capacity clipped so appending to it can't reach into the accumulator.
func (a *Accumulator) Split(n int) []byte {
	head := a.buf[:n:n]
	a.buf = a.buf[n:]
	return head
}

// Reset drops all unconsumed bytes.
func (a *Accumulator) Reset() {
	a.buf = nil
}

// grow makes room for n more bytes after the unconsumed data, reallocating
// rather than compacting in place.
func (a *Accumulator) grow(n int) {
	if cap(a.buf)-len(a.buf) >= n {
		return
	}

	size := 2 * cap(a.buf)
	if size < len(a.buf)+n {
		size = len(a.buf) + n
	}
	if size < DefaultReadSize {
		size = DefaultReadSize
	}

	buf := make([]byte, len(a.buf), size)
	copy(buf, a.buf)
	a.buf = buf
}
