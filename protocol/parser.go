package protocol

import "fmt"

const (
	// DefaultMaxFrameSize bounds the encoded size of a single frame.
	DefaultMaxFrameSize = 8 * 1024 * 1024

	// DefaultMaxDepth bounds how deeply arrays may nest.
	DefaultMaxDepth = 64

	// minFrameLen is the size of the smallest possible frame, "+\r\n".
	minFrameLen = 3

	// maxPrealloc caps how many array elements we reserve space for up front.
	// The peer declares the count, we don't trust it.
	maxPrealloc = 1024
)

// Codec decodes and encodes frames. The zero value is not usable, use
// NewCodec. A Codec holds no per-stream state and is safe to share.
type Codec struct {
	maxFrameSize int
	maxDepth     int
}

type CodecOption func(*Codec)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		maxFrameSize: DefaultMaxFrameSize,
		maxDepth:     DefaultMaxDepth,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Decode attempts to read one frame from the front of acc.
//
// If acc does not yet hold a complete frame it returns ok == false and a nil
// error, and acc is left untouched. If a frame was recognised its bytes are
// split off acc and the frame is returned. Any error means the bytes can never
// form a valid frame and the stream must be abandoned.
func (c *Codec) Decode(acc *Accumulator) (f Frame, ok bool, err error) {
	end, slice, err := c.parse(acc.Bytes(), 0, 0)
	if err != nil || end == needMore {
		return Frame{}, false, err
	}

	committed := acc.Split(end)
	return slice.freeze(committed), true, nil
}

// DecodeBytes is Decode over a plain slice. It returns the number of bytes the
// frame occupied, or 0 and a nil error if buf holds only part of a frame. The
// returned frame aliases buf.
func (c *Codec) DecodeBytes(buf []byte) (Frame, int, error) {
	end, slice, err := c.parse(buf, 0, 0)
	if err != nil {
		return Frame{}, 0, err
	}

	if end == needMore {
		return Frame{}, 0, nil
	}

	return slice.freeze(buf[:end:end]), end, nil
}

// parse recognises one frame starting at pos. It never mutates buf.
func (c *Codec) parse(buf []byte, pos, depth int) (int, frameSlice, error) {
	if pos >= len(buf) {
		return needMore, frameSlice{}, nil
	}

	switch buf[pos] {
	case MarkerSimpleString:
		return c.line(buf, pos+1, KindSimpleString)

	case MarkerError:
		return c.line(buf, pos+1, KindError)

	case MarkerInteger:
		end, i, err := c.integer(buf, pos+1)
		if err != nil || end == needMore {
			return end, frameSlice{}, err
		}
		return end, frameSlice{kind: KindInteger, int: i}, nil

	case MarkerBulkString:
		return c.bulkString(buf, pos+1)

	case MarkerArray:
		return c.array(buf, pos+1, depth)

	default:
		return 0, frameSlice{}, fmt.Errorf("%w: %q at offset %d", ErrUnknownStartingByte, buf[pos], pos)
	}
}

func (c *Codec) line(buf []byte, pos int, kind Kind) (int, frameSlice, error) {
	end, s, err := word(buf, pos)
	if err == nil {
		err = c.checkLineEnd(buf, end)
	}
	if err != nil || end == needMore {
		return end, frameSlice{}, err
	}

	return end, frameSlice{kind: kind, span: s}, nil
}

// integer is the package level integer with the line bounded by the maximum
// frame size.
func (c *Codec) integer(buf []byte, pos int) (int, int64, error) {
	end, i, err := integer(buf, pos)
	if err == nil {
		err = c.checkLineEnd(buf, end)
	}
	if err != nil || end == needMore {
		return end, 0, err
	}

	return end, i, nil
}

// checkLineEnd fails once a line ends past the maximum frame size. end is an
// absolute offset, so this bounds the outermost frame. An unterminated line
// that already fills the buffer beyond the maximum can never fit either.
func (c *Codec) checkLineEnd(buf []byte, end int) error {
	switch {
	case end == needMore && len(buf) >= c.maxFrameSize:
		return fmt.Errorf("%w: unterminated line in %d bytes exceeds %d", ErrFrameTooLarge, len(buf), c.maxFrameSize)

	case end > c.maxFrameSize:
		return fmt.Errorf("%w: line ending at %d exceeds %d", ErrFrameTooLarge, end, c.maxFrameSize)

	default:
		return nil
	}
}

func (c *Codec) bulkString(buf []byte, pos int) (int, frameSlice, error) {
	end, size, err := c.integer(buf, pos)
	if err != nil || end == needMore {
		return end, frameSlice{}, err
	}

	switch {
	case size == -1:
		return end, frameSlice{kind: KindNullBulkString}, nil

	case size < -1:
		return 0, frameSlice{}, fmt.Errorf("%w: %d", ErrBadBulkStringSize, size)

	case size > int64(c.maxFrameSize)-int64(end)-2:
		// Offsets are relative to the start of the outermost frame, so this
		// bounds the whole frame, not just this string. Nothing is added to
		// the peer's size, it could be anything up to MaxInt64.
		return 0, frameSlice{}, fmt.Errorf("%w: bulk string of %d bytes exceeds %d", ErrFrameTooLarge, size, c.maxFrameSize)
	}

	payloadEnd := end + int(size)
	if payloadEnd+2 > len(buf) {
		return needMore, frameSlice{}, nil
	}

	if buf[payloadEnd] != '\r' || buf[payloadEnd+1] != '\n' {
		return 0, frameSlice{}, fmt.Errorf("%w: %d bytes not followed by CRLF", ErrBadBulkStringSize, size)
	}

	return payloadEnd + 2, frameSlice{
		kind: KindBulkString,
		span: span{start: end, end: payloadEnd},
	}, nil
}

func (c *Codec) array(buf []byte, pos, depth int) (int, frameSlice, error) {
	end, count, err := c.integer(buf, pos)
	if err != nil || end == needMore {
		return end, frameSlice{}, err
	}

	switch {
	case count == -1:
		return end, frameSlice{kind: KindNullArray}, nil

	case count < -1:
		return 0, frameSlice{}, fmt.Errorf("%w: %d", ErrBadBulkArraySize, count)

	case count > int64((c.maxFrameSize-end)/minFrameLen):
		return 0, frameSlice{}, fmt.Errorf("%w: array of %d elements exceeds %d bytes", ErrFrameTooLarge, count, c.maxFrameSize)
	}

	if depth >= c.maxDepth {
		return 0, frameSlice{}, fmt.Errorf("%w: limit is %d", ErrNestingTooDeep, c.maxDepth)
	}

	capacity := count
	if capacity > maxPrealloc {
		capacity = maxPrealloc
	}

	elems := make([]frameSlice, 0, capacity)
	cur := end

	for i := int64(0); i < count; i++ {
		next, elem, err := c.parse(buf, cur, depth+1)
		if err != nil || next == needMore {
			// An array is atomic, either all of it is here or none of it is
			return next, frameSlice{}, err
		}

		elems = append(elems, elem)
		cur = next
	}

	return cur, frameSlice{kind: KindArray, elems: elems}, nil
}
