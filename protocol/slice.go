package protocol

import (
	"bytes"
	"fmt"
	"math"
)

// needMore is returned as an end offset when the buffer holds a valid, but
// not yet complete, prefix of a frame.
const needMore = -1

// span is a half open [start, end) range of the accumulator. It owns nothing
// and is only valid for the parse attempt that produced it.
type span struct {
	start int
	end   int
}

func (s span) bytes(buf []byte) []byte {
	return buf[s.start:s.end:s.end]
}

// frameSlice mirrors Frame but refers to the accumulator by offset. A parse
// attempt that turns out incomplete discards it without having copied a byte.
type frameSlice struct {
	kind  Kind
	span  span
	int   int64
	elems []frameSlice
}

// freeze converts the parsed offsets into an owned Frame. buf must be the
// committed prefix the offsets were computed against.
func (s frameSlice) freeze(buf []byte) Frame {
	switch s.kind {
	case KindSimpleString, KindError, KindBulkString:
		return Frame{Kind: s.kind, Bytes: s.span.bytes(buf)}

	case KindInteger:
		return Frame{Kind: KindInteger, Int: s.int}

	case KindArray:
		elems := make([]Frame, len(s.elems))
		for i, elem := range s.elems {
			elems[i] = elem.freeze(buf)
		}
		return Frame{Kind: KindArray, Array: elems}

	default:
		return Frame{Kind: s.kind}
	}
}

// word finds the next line starting at pos. It returns the offset just past
// the terminator and the line without it, or needMore if the terminator
// hasn't fully arrived. A CR that is followed by anything but LF is an error.
func word(buf []byte, pos int) (int, span, error) {
	if pos >= len(buf) {
		return needMore, span{}, nil
	}

	cr := bytes.IndexByte(buf[pos:], '\r')
	if cr < 0 {
		return needMore, span{}, nil
	}

	cr += pos
	if cr+1 >= len(buf) {
		// We have the CR, the LF is still in flight
		return needMore, span{}, nil
	}

	if buf[cr+1] != '\n' {
		return 0, span{}, fmt.Errorf("%w at offset %d", ErrBadTerminator, cr)
	}

	return cr + 2, span{start: pos, end: cr}, nil
}

// integer reads a line at pos and parses it as a base 10 int64.
func integer(buf []byte, pos int) (int, int64, error) {
	end, line, err := word(buf, pos)
	if err != nil || end == needMore {
		return end, 0, err
	}

	i, err := parseInt(line.bytes(buf))
	if err != nil {
		return 0, 0, err
	}

	return end, i, nil
}

// parseInt accepts an optional leading '-' followed by one or more digits.
// Unlike strconv.ParseInt it rejects a leading '+' and does not allocate.
func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrIntParseFailure)
	}

	neg := b[0] == '-'
	digits := b
	if neg {
		digits = b[1:]
	}

	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrIntParseFailure, b)
	}

	// Accumulate as a negative number so that MinInt64 fits
	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrIntParseFailure, b)
		}

		d := int64(c - '0')
		if n < (math.MinInt64+d)/10 {
			return 0, fmt.Errorf("%w: %q overflows int64", ErrIntParseFailure, b)
		}

		n = n*10 - d
	}

	if neg {
		return n, nil
	}

	if n == math.MinInt64 {
		return 0, fmt.Errorf("%w: %q overflows int64", ErrIntParseFailure, b)
	}

	return -n, nil
}
