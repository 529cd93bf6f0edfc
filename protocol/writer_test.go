package protocol_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/lantern/protocol"
)

var _ = Describe("Writer", func() {
	var codec *protocol.Codec

	BeforeEach(func() {
		codec = protocol.NewCodec()
	})

	DescribeTable("Encode() produces the exact wire bytes",
		func(frame protocol.Frame, expected string) {
			out, err := codec.Encode(frame, nil)
			Expect(err).To(Succeed())
			Expect(string(out)).To(Equal(expected))
			Expect(frame.Len()).To(Equal(len(expected)))
		},
		Entry("simple string", protocol.SimpleString("OK"), "+OK\r\n"),
		Entry("error", protocol.Error("ERR nope"), "-ERR nope\r\n"),
		Entry("zero", protocol.Integer(0), ":0\r\n"),
		Entry("positive integer", protocol.Integer(1334), ":1334\r\n"),
		Entry("negative integer", protocol.Integer(-34492), ":-34492\r\n"),
		Entry("min int64", protocol.Integer(-9223372036854775808), ":-9223372036854775808\r\n"),
		Entry("bulk string", protocol.BulkStringFromString("Hello"), "$5\r\nHello\r\n"),
		Entry("empty bulk string", protocol.BulkString(nil), "$0\r\n\r\n"),
		Entry("binary bulk string", protocol.BulkString([]byte{0, '\r', '\n', 0xff}), "$4\r\n\x00\r\n\xff\r\n"),
		Entry("null bulk string", protocol.NullBulkString(), "$-1\r\n"),
		Entry("null array", protocol.NullArray(), "*-1\r\n"),
		Entry("empty array", protocol.Array(), "*0\r\n"),
		Entry("nested arrays", protocol.Array(
			protocol.Array(
				protocol.Integer(1),
				protocol.Integer(2),
				protocol.Integer(3),
			),
			protocol.Array(
				protocol.SimpleString("Hello"),
				protocol.Error("World"),
			),
		), nestedArray),
	)

	It("appends to the destination", func() {
		out, err := codec.Encode(protocol.SimpleString("OK"), []byte("+PONG\r\n"))
		Expect(err).To(Succeed())
		Expect(string(out)).To(Equal("+PONG\r\n+OK\r\n"))
	})

	It("re-encodes the null sentinels byte for byte", func() {
		for _, input := range []string{"$-1\r\n", "*-1\r\n"} {
			frame, _, err := codec.DecodeBytes([]byte(input))
			Expect(err).To(Succeed())

			out, err := codec.Encode(frame, nil)
			Expect(err).To(Succeed())
			Expect(string(out)).To(Equal(input))
		}
	})

	It("refuses frames without a kind", func() {
		_, err := codec.Encode(protocol.Frame{}, nil)
		Expect(err).To(MatchError(protocol.ErrInvalidFrame))

		_, err = codec.Encode(protocol.Array(protocol.Integer(1), protocol.Frame{}), nil)
		Expect(err).To(MatchError(protocol.ErrInvalidFrame))
	})

	Describe("oversized frames", func() {
		It("fails without touching the destination", func() {
			codec = protocol.NewCodec(protocol.WithMaxFrameSize(16))
			dst := []byte("keep")

			out, err := codec.Encode(protocol.BulkString(bytes.Repeat([]byte("x"), 32)), dst)
			Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
			Expect(string(out)).To(Equal("keep"))
		})

		It("counts nested elements towards the maximum", func() {
			codec = protocol.NewCodec(protocol.WithMaxFrameSize(16))

			frame := protocol.Array(
				protocol.SimpleString("abc"),
				protocol.SimpleString("def"),
				protocol.SimpleString("ghi"),
			)

			out, err := codec.Encode(frame, nil)
			Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
			Expect(out).To(BeEmpty())
		})

		It("enforces the default 8 MiB ceiling", func() {
			payload := make([]byte, protocol.DefaultMaxFrameSize+1)

			out, err := codec.Encode(protocol.BulkString(payload), nil)
			Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
			Expect(out).To(BeEmpty())
		})
	})

	Describe("deeply nested frames", func() {
		nest := func(depth int) protocol.Frame {
			frame := protocol.Integer(1)
			for i := 0; i < depth; i++ {
				frame = protocol.Array(frame)
			}
			return frame
		}

		It("encodes as deep as the decoder accepts", func() {
			frame := nest(protocol.DefaultMaxDepth)

			out, err := codec.Encode(frame, nil)
			Expect(err).To(Succeed())

			decoded, n, err := codec.DecodeBytes(out)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(len(out)))
			Expect(decoded).To(Equal(frame))
		})

		It("fails one level deeper without touching the destination", func() {
			dst := []byte("keep")

			out, err := codec.Encode(nest(protocol.DefaultMaxDepth+1), dst)
			Expect(errors.Is(err, protocol.ErrNestingTooDeep)).To(BeTrue())
			Expect(string(out)).To(Equal("keep"))
		})

		It("follows the codec's configured depth", func() {
			codec = protocol.NewCodec(protocol.WithMaxDepth(2))

			_, err := codec.Encode(nest(2), nil)
			Expect(err).To(Succeed())

			_, err = codec.Encode(protocol.Array(protocol.Integer(1), nest(2)), nil)
			Expect(errors.Is(err, protocol.ErrNestingTooDeep)).To(BeTrue())

			_, _, err = codec.DecodeBytes([]byte("*2\r\n:1\r\n*1\r\n*1\r\n:1\r\n"))
			Expect(errors.Is(err, protocol.ErrNestingTooDeep)).To(BeTrue())
		})
	})

	DescribeTable("round trips through the decoder",
		func(frame protocol.Frame) {
			out, err := codec.Encode(frame, nil)
			Expect(err).To(Succeed())

			decoded, n, err := codec.DecodeBytes(out)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(len(out)))
			Expect(decoded).To(Equal(frame))
		},
		Entry("simple string", protocol.SimpleString("PONG")),
		Entry("error", protocol.Error("WRONGTYPE Operation against a key")),
		Entry("integer", protocol.Integer(-1)),
		Entry("bulk string", protocol.BulkStringFromString("a value with\r\nlines")),
		Entry("empty bulk string", protocol.BulkString([]byte{})),
		Entry("null bulk string", protocol.NullBulkString()),
		Entry("null array", protocol.NullArray()),
		Entry("empty array", protocol.Array()),
		Entry("command", protocol.Array(
			protocol.BulkStringFromString("SET"),
			protocol.BulkStringFromString("key"),
			protocol.BulkStringFromString("value"),
		)),
		Entry("deep nesting", protocol.Array(protocol.Array(protocol.Array(protocol.Array(protocol.Integer(7)))))),
	)

	Describe("Writer", func() {
		It("writes and flushes each frame", func() {
			out := &bytes.Buffer{}
			w := protocol.NewWriter(out, codec)

			Expect(w.WriteFrame(protocol.SimpleString("OK"))).To(Succeed())
			Expect(out.String()).To(Equal("+OK\r\n"))

			Expect(w.WriteFrame(protocol.Integer(3))).To(Succeed())
			Expect(out.String()).To(Equal("+OK\r\n:3\r\n"))
		})

		It("stays usable after refusing an oversized frame", func() {
			codec = protocol.NewCodec(protocol.WithMaxFrameSize(8))
			out := &bytes.Buffer{}
			w := protocol.NewWriter(out, codec)

			err := w.WriteFrame(protocol.BulkStringFromString("far too long"))
			Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
			Expect(out.Len()).To(BeZero())

			Expect(w.WriteFrame(protocol.SimpleString("OK"))).To(Succeed())
			Expect(out.String()).To(Equal("+OK\r\n"))
		})

		It("remembers a failed write", func() {
			boom := errors.New("boom")
			w := protocol.NewWriter(failingWriter{err: boom}, codec)

			err := w.WriteFrame(protocol.SimpleString("OK"))
			Expect(errors.Is(err, boom)).To(BeTrue())

			err = w.WriteFrame(protocol.SimpleString("OK"))
			Expect(errors.Is(err, boom)).To(BeTrue())
		})
	})
})

type failingWriter struct {
	err error
}

func (f failingWriter) Write(p []byte) (int, error) {
	return 0, f.err
}
