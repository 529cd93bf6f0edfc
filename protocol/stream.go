package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

type readState uint8

const (
	stateWaitingForData readState = iota
	stateHaveBytes
	stateFailed
)

// Reader reads frames from a byte stream. It owns the stream's Accumulator and
// must only be used from one goroutine.
//
// Once ReadFrame returns an error other than io.EOF the Reader is dead: every
// later call returns the same error and the caller should close the stream.
type Reader struct {
	r        io.Reader
	codec    *Codec
	acc      *Accumulator
	readSize int

	state readState
	err   error
}

type ReaderOption func(*Reader)

// WithReadSize sets how many bytes each Read of the underlying stream asks for.
func WithReadSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.readSize = n
		}
	}
}

func NewReader(r io.Reader, codec *Codec, opts ...ReaderOption) *Reader {
	reader := &Reader{
		r:        r,
		codec:    codec,
		readSize: DefaultReadSize,
	}

	for _, opt := range opts {
		opt(reader)
	}

	reader.acc = NewAccumulator(reader.readSize)

	return reader
}

// Buffered returns how many bytes have been read but not yet decoded.
func (r *Reader) Buffered() int {
	return r.acc.Len()
}

// ReadFrame returns the next complete frame, reading from the stream as many
// times as it takes.
//
// io.EOF is returned if the stream ended cleanly between frames. If it ended in
// the middle of a frame ErrUnexpectedEnd is returned instead.
func (r *Reader) ReadFrame() (Frame, error) {
	if r.state == stateFailed {
		return Frame{}, r.err
	}

	for {
		if r.state == stateHaveBytes {
			frame, ok, err := r.codec.Decode(r.acc)
			if err != nil {
				return Frame{}, r.fail(err)
			}

			if ok {
				if r.acc.Len() == 0 {
					r.state = stateWaitingForData
				}
				return frame, nil
			}

			// Still incomplete. Don't let a peer that never finishes a line make
			// us buffer forever.
			if r.acc.Len() > r.codec.maxFrameSize {
				return Frame{}, r.fail(fmt.Errorf("%w: %d bytes buffered without a complete frame", ErrFrameTooLarge, r.acc.Len()))
			}
		}

		n, err := r.acc.ReadFrom(r.r, r.readSize)
		if n > 0 {
			r.state = stateHaveBytes
		}

		if err != nil {
			if n > 0 {
				// Decode what did arrive first, the error will come back on the
				// next read.
				continue
			}

			if errors.Is(err, io.EOF) {
				if r.acc.Len() == 0 {
					return Frame{}, r.fail(io.EOF)
				}

				return Frame{}, r.fail(fmt.Errorf("%w: %d bytes of a partial frame", ErrUnexpectedEnd, r.acc.Len()))
			}

			return Frame{}, r.fail(fmt.Errorf("protocol: read failed: %w", err))
		}
	}
}

func (r *Reader) fail(err error) error {
	r.state = stateFailed
	r.err = err
	r.acc.Reset()
	return err
}

// Writer serialises frames onto a byte stream, flushing after each one.
type Writer struct {
	w       *bufio.Writer
	codec   *Codec
	scratch []byte
	err     error
}

func NewWriter(w io.Writer, codec *Codec) *Writer {
	return &Writer{
		w:     bufio.NewWriter(w),
		codec: codec,
	}
}

// WriteFrame encodes f and writes it out. A frame the codec refuses to encode
// is rejected without writing anything and the Writer remains usable. A
// failure of the underlying stream is permanent.
func (w *Writer) WriteFrame(f Frame) error {
	if w.err != nil {
		return w.err
	}

	b, err := w.codec.Encode(f, w.scratch[:0])
	if err != nil {
		return err
	}

	// Hang on to the scratch space unless a single huge frame grew it
	if cap(b) <= 64*1024 {
		w.scratch = b
	}

	if _, err := w.w.Write(b); err != nil {
		w.err = fmt.Errorf("protocol: write failed: %w", err)
		return w.err
	}

	if err := w.w.Flush(); err != nil {
		w.err = fmt.Errorf("protocol: flush failed: %w", err)
		return w.err
	}

	return nil
}
