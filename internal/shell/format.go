package shell

import (
	"strconv"
	"strings"

	"github.com/luma/lantern/protocol"
)

// Format renders a reply the way redis-cli does.
func Format(f protocol.Frame) string {
	var b strings.Builder
	format(&b, f, "")
	return b.String()
}

func format(b *strings.Builder, f protocol.Frame, indent string) {
	switch f.Kind {
	case protocol.KindSimpleString:
		b.Write(f.Bytes)

	case protocol.KindError:
		b.WriteString("(error) ")
		b.Write(f.Bytes)

	case protocol.KindInteger:
		b.WriteString("(integer) ")
		b.WriteString(strconv.FormatInt(f.Int, 10))

	case protocol.KindBulkString:
		b.WriteString(strconv.Quote(string(f.Bytes)))

	case protocol.KindNullBulkString, protocol.KindNullArray:
		b.WriteString("(nil)")

	case protocol.KindArray:
		if len(f.Array) == 0 {
			b.WriteString("(empty array)")
			return
		}

		width := len(strconv.Itoa(len(f.Array)))

		for i, elem := range f.Array {
			if i > 0 {
				b.WriteString("\n")
				b.WriteString(indent)
			}

			label := strconv.Itoa(i + 1)
			b.WriteString(strings.Repeat(" ", width-len(label)))
			b.WriteString(label)
			b.WriteString(") ")

			format(b, elem, indent+strings.Repeat(" ", width+2))
		}

	default:
		b.WriteString("(unknown reply)")
	}
}
