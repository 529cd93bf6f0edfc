package protocol

import (
	"strconv"
	"strings"
)

// Kind identifies which variant of the Frame union is populated.
type Kind uint8

const (
	KindSimpleString Kind = iota + 1
	KindError
	KindInteger
	KindBulkString
	KindArray
	KindNullBulkString
	KindNullArray
)

const (
	MarkerSimpleString = '+'
	MarkerError        = '-'
	MarkerInteger      = ':'
	MarkerBulkString   = '$'
	MarkerArray        = '*'
)

var (
	Terminal = []byte("\r\n")

	NullBulkStringBytes = []byte("$-1\r\n")
	NullArrayBytes      = []byte("*-1\r\n")
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "SimpleString"
	case KindError:
		return "Error"
	case KindInteger:
		return "Integer"
	case KindBulkString:
		return "BulkString"
	case KindArray:
		return "Array"
	case KindNullBulkString:
		return "NullBulkString"
	case KindNullArray:
		return "NullArray"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Frame is one decoded (or encodable) protocol value.
//
// Only the field matching Kind is meaningful: Bytes for simple strings, errors
// and bulk strings, Int for integers and Array for arrays. Frames produced by
// the decoder share Bytes with the committed region of the accumulator they
// were read from, which is never written to again.
type Frame struct {
	Kind  Kind
	Bytes []byte
	Int   int64
	Array []Frame
}

func SimpleString(s string) Frame {
	return Frame{Kind: KindSimpleString, Bytes: []byte(s)}
}

func Error(msg string) Frame {
	return Frame{Kind: KindError, Bytes: []byte(msg)}
}

func Integer(i int64) Frame {
	return Frame{Kind: KindInteger, Int: i}
}

func BulkString(b []byte) Frame {
	if b == nil {
		b = []byte{}
	}

	return Frame{Kind: KindBulkString, Bytes: b}
}

func BulkStringFromString(s string) Frame {
	return BulkString([]byte(s))
}

// Array builds an array frame. A call with no elements is the empty array,
// which is distinct from NullArray.
func Array(elems ...Frame) Frame {
	if elems == nil {
		elems = []Frame{}
	}

	return Frame{Kind: KindArray, Array: elems}
}

func NullBulkString() Frame {
	return Frame{Kind: KindNullBulkString}
}

func NullArray() Frame {
	return Frame{Kind: KindNullArray}
}

// IsNull returns true for both null sentinels.
func (f Frame) IsNull() bool {
	return f.Kind == KindNullBulkString || f.Kind == KindNullArray
}

func (f Frame) valid() bool {
	switch f.Kind {
	case KindArray:
		for _, elem := range f.Array {
			if !elem.valid() {
				return false
			}
		}
		return true

	case KindSimpleString, KindError, KindInteger, KindBulkString, KindNullBulkString, KindNullArray:
		return true

	default:
		return false
	}
}

// Text returns the payload of string-like frames as a string.
func (f Frame) Text() string {
	return string(f.Bytes)
}

// Len returns the exact number of bytes Encode will produce for this frame.
func (f Frame) Len() int {
	switch f.Kind {
	case KindSimpleString, KindError:
		return 1 + len(f.Bytes) + 2

	case KindInteger:
		return 1 + intLen(f.Int) + 2

	case KindBulkString:
		return 1 + intLen(int64(len(f.Bytes))) + 2 + len(f.Bytes) + 2

	case KindArray:
		n := 1 + intLen(int64(len(f.Array))) + 2
		for _, elem := range f.Array {
			n += elem.Len()
		}
		return n

	case KindNullBulkString, KindNullArray:
		return 5

	default:
		return 0
	}
}

// String renders the frame in a compact, human readable form. It's meant for
// logs and test failures, not for the wire.
func (f Frame) String() string {
	var b strings.Builder
	f.writeString(&b)
	return b.String()
}

func (f Frame) writeString(b *strings.Builder) {
	b.WriteString(f.Kind.String())

	switch f.Kind {
	case KindSimpleString, KindError, KindBulkString:
		b.WriteByte('(')
		b.WriteString(strconv.Quote(string(f.Bytes)))
		b.WriteByte(')')

	case KindInteger:
		b.WriteByte('(')
		b.WriteString(strconv.FormatInt(f.Int, 10))
		b.WriteByte(')')

	case KindArray:
		b.WriteByte('[')
		for i, elem := range f.Array {
			if i > 0 {
				b.WriteString(", ")
			}
			elem.writeString(b)
		}
		b.WriteByte(']')
	}
}

// intLen returns the number of ASCII bytes strconv.AppendInt writes for num.
func intLen(num int64) int {
	n := 1
	u := uint64(num)

	if num < 0 {
		n++
		u = uint64(-(num + 1)) + 1
	}

	for u >= 10 {
		u /= 10
		n++
	}

	return n
}
