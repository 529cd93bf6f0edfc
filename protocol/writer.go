package protocol

import (
	"fmt"
	"strconv"
)

// Encode appends the wire encoding of f to dst and returns the extended
// slice.
//
// The encoded size is computed first. If it exceeds the codec's maximum frame
// size ErrFrameTooLarge is returned along with dst unchanged, nothing is ever
// partially written. Likewise arrays nested deeper than the codec would decode
// fail with ErrNestingTooDeep.
func (c *Codec) Encode(f Frame, dst []byte) ([]byte, error) {
	if !f.valid() {
		return dst, ErrInvalidFrame
	}

	if depth := nesting(f); depth > c.maxDepth {
		return dst, fmt.Errorf("%w: %d nested arrays, limit is %d", ErrNestingTooDeep, depth, c.maxDepth)
	}

	n := f.Len()
	if n > c.maxFrameSize {
		return dst, fmt.Errorf("%w: %s of %d bytes exceeds %d", ErrFrameTooLarge, f.Kind, n, c.maxFrameSize)
	}

	if cap(dst)-len(dst) < n {
		grown := make([]byte, len(dst), len(dst)+n)
		copy(grown, dst)
		dst = grown
	}

	return appendFrame(dst, f), nil
}

// nesting counts how many arrays deep f goes, 0 for anything but an array.
func nesting(f Frame) int {
	if f.Kind != KindArray {
		return 0
	}

	deepest := 0
	for _, elem := range f.Array {
		if d := nesting(elem); d > deepest {
			deepest = d
		}
	}

	return deepest + 1
}

func appendFrame(dst []byte, f Frame) []byte {
	switch f.Kind {
	case KindSimpleString:
		dst = append(dst, MarkerSimpleString)
		dst = append(dst, f.Bytes...)
		return append(dst, Terminal...)

	case KindError:
		dst = append(dst, MarkerError)
		dst = append(dst, f.Bytes...)
		return append(dst, Terminal...)

	case KindInteger:
		dst = append(dst, MarkerInteger)
		dst = strconv.AppendInt(dst, f.Int, 10)
		return append(dst, Terminal...)

	case KindBulkString:
		dst = append(dst, MarkerBulkString)
		dst = strconv.AppendInt(dst, int64(len(f.Bytes)), 10)
		dst = append(dst, Terminal...)
		dst = append(dst, f.Bytes...)
		return append(dst, Terminal...)

	case KindArray:
		dst = append(dst, MarkerArray)
		dst = strconv.AppendInt(dst, int64(len(f.Array)), 10)
		dst = append(dst, Terminal...)
		for _, elem := range f.Array {
			dst = appendFrame(dst, elem)
		}
		return dst

	case KindNullBulkString:
		return append(dst, NullBulkStringBytes...)

	case KindNullArray:
		return append(dst, NullArrayBytes...)

	default:
		return dst
	}
}
