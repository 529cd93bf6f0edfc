package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
	"github.com/luma/lantern/transport"
)

var _ = Describe("transport", func() {
	Describe("TCP", func() {
		var (
			tcp     *transport.TCP
			metrics *transport.Metrics
			conn    net.Conn
		)

		start := func(restore string, configure func(*transport.Options)) {
			metrics = transport.NewMetrics(nil)
			tcp = makeTCPServer(restore, func(options *transport.Options) {
				options.Metrics = metrics
				if configure != nil {
					configure(options)
				}
			})

			var err error
			conn, err = net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
		}

		AfterEach(func() {
			if conn != nil {
				conn.Close()
				conn = nil
			}

			Expect(tcp.Close()).To(Succeed())
		})

		It("listens on the address reported by Addr()", func() {
			start("", nil)

			addr, ok := tcp.Addr().(*net.TCPAddr)
			Expect(ok).To(BeTrue())
			Expect(addr.Port).NotTo(BeZero())
		})

		It("will respond with PONG when the client sends PING", func() {
			start("", nil)

			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))
		})

		It("returns the current value of a key", func() {
			start(`{"foo":"YmFy"}`, nil)

			send(conn, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
			Expect(readExactly(conn, len("$3\r\nbar\r\n"))).To(Equal("$3\r\nbar\r\n"))
		})

		It("writes the new value of the key to the store", func() {
			start("", nil)

			send(conn, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
			Expect(readExactly(conn, len("+OK\r\n"))).To(Equal("+OK\r\n"))

			value, found, err := tcp.Store().Get(context.Background(), []byte("foo"))
			Expect(err).To(Succeed())
			Expect(found).To(BeTrue())
			Expect(string(value)).To(Equal("bar"))
		})

		It("replies to requests in order", func() {
			start("", nil)

			send(conn, "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n"+
				"*2\r\n$3\r\nGET\r\n$1\r\na\r\n"+
				"*2\r\n$3\r\nDEL\r\n$1\r\na\r\n"+
				"*2\r\n$3\r\nGET\r\n$1\r\na\r\n")

			expected := "+OK\r\n$1\r\n1\r\n:1\r\n$-1\r\n"
			Expect(readExactly(conn, len(expected))).To(Equal(expected))
		})

		It("decodes requests that arrive one byte at a time", func() {
			start("", nil)

			request := "*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n"
			for i := 0; i < len(request); i++ {
				send(conn, request[i:i+1])
				time.Sleep(time.Millisecond)
			}

			Expect(readExactly(conn, len("$5\r\nhello\r\n"))).To(Equal("$5\r\nhello\r\n"))
		})

		It("will close client connections when they QUIT", func() {
			start("", nil)

			send(conn, "*1\r\n$4\r\nQUIT\r\n")
			Expect(readExactly(conn, len("+OK\r\n"))).To(Equal("+OK\r\n"))

			expectClosed(conn)
		})

		It("keeps the connection open after a command error", func() {
			start("", nil)

			send(conn, "*1\r\n$8\r\nFLUSHALL\r\n")
			expected := "-ERR unknown command 'FLUSHALL'\r\n"
			Expect(readExactly(conn, len(expected))).To(Equal(expected))

			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))
		})

		It("reports protocol errors and then closes the connection", func() {
			start("", nil)

			send(conn, "$-2\r\n")
			expected := "-ERR Protocol error: invalid bulk string length: -2\r\n"
			Expect(readExactly(conn, len(expected))).To(Equal(expected))

			expectClosed(conn)

			Eventually(func() float64 {
				return testutil.ToFloat64(metrics.ProtocolErrors.WithLabelValues("bad_bulk_string_size"))
			}).Should(Equal(1.0))
		})

		It("rejects frames larger than the configured codec allows", func() {
			start("", func(options *transport.Options) {
				options.Codec = protocol.NewCodec(protocol.WithMaxFrameSize(128))
			})

			send(conn, "*2\r\n$4\r\nECHO\r\n$1000\r\n")
			reply := readFrame(conn)
			Expect(reply.Kind).To(Equal(protocol.KindError))
			Expect(reply.Text()).To(HavePrefix("ERR Protocol error: frame too large"))

			expectClosed(conn)
		})

		It("rejects a bulk length near MaxInt64 and keeps serving", func() {
			start("", nil)

			send(conn, "*1\r\n$9223372036854775807\r\nabc")
			reply := readFrame(conn)
			Expect(reply.Kind).To(Equal(protocol.KindError))
			Expect(reply.Text()).To(HavePrefix("ERR Protocol error: frame too large"))

			expectClosed(conn)

			other, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer other.Close()

			send(other, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(other, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))
		})

		It("survives a command that panics", func() {
			start("", func(options *transport.Options) {
				options.Store = &panickingStore{Store: storage.NewInmemoryStore()}
			})

			send(conn, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
			expectClosed(conn)

			Eventually(func() float64 {
				return testutil.ToFloat64(metrics.Panics)
			}).Should(Equal(1.0))
			Eventually(tcp.ActiveConns).Should(BeZero())

			other, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer other.Close()

			send(other, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(other, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))

			send(other, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
			Expect(readExactly(other, len("+OK\r\n"))).To(Equal("+OK\r\n"))
		})

		It("refuses connections beyond MaxConns", func() {
			start("", func(options *transport.Options) {
				options.MaxConns = 1
			})

			// Make sure the first connection has been accepted
			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))

			other, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer other.Close()

			expected := "-ERR max number of clients reached\r\n"
			Expect(readExactly(other, len(expected))).To(Equal(expected))
			expectClosed(other)
		})

		It("closes connections that stay idle", func() {
			start("", func(options *transport.Options) {
				options.IdleTimeout = 50 * time.Millisecond
			})

			expectClosed(conn)
		})

		It("counts connections and frames", func() {
			start("", nil)

			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))

			Expect(testutil.ToFloat64(metrics.ConnectionsAccepted)).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.ConnectionsActive)).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.FramesDecoded)).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.Commands.WithLabelValues("PING"))).To(Equal(1.0))
			Eventually(func() float64 {
				return testutil.ToFloat64(metrics.FramesEncoded)
			}).Should(Equal(1.0))

			conn.Close()
			conn = nil

			Eventually(tcp.ActiveConns).Should(BeZero())
			Expect(testutil.ToFloat64(metrics.ConnectionsActive)).To(BeZero())
		})

		It("closes open client connections when closed", func() {
			start("", nil)

			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))

			Expect(tcp.Close()).To(Succeed())
			expectClosed(conn)
		})

		It("waits for clients to leave on Shutdown", func() {
			start("", nil)

			send(conn, "*1\r\n$4\r\nPING\r\n")
			Expect(readExactly(conn, len("+PONG\r\n"))).To(Equal("+PONG\r\n"))

			done := make(chan error, 1)
			go func() {
				done <- tcp.Shutdown(context.Background())
			}()

			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

			send(conn, "*1\r\n$4\r\nQUIT\r\n")
			Expect(readExactly(conn, len("+OK\r\n"))).To(Equal("+OK\r\n"))

			Eventually(done).Should(Receive(BeNil()))
		})
	})

	It("fails to start when the address is taken", func() {
		first := makeTCPServer("", nil)
		defer first.Close()

		second := transport.NewTCP(transport.Options{
			Host:  "127.0.0.1",
			Port:  first.Addr().(*net.TCPAddr).Port,
			Store: storage.NewInmemoryStore(),
			Log:   zap.NewNop(),
		})

		Expect(second.Start(context.Background())).NotTo(Succeed())
	})
})

// panickingStore blows up on every read.
type panickingStore struct {
	storage.Store
}

func (s *panickingStore) Get(context.Context, []byte) ([]byte, bool, error) {
	panic("storage: corrupted index")
}

func makeTCPServer(restore string, configure func(*transport.Options)) *transport.TCP {
	store := storage.NewInmemoryStore()
	if restore != "" {
		Expect(store.Restore([]byte(restore))).To(Succeed())
	}

	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	options := transport.Options{
		Log:          log,
		Host:         "127.0.0.1",
		NumListeners: 2,
		Reuseport:    true,
		Store:        store,
	}

	if configure != nil {
		configure(&options)
	}

	tcp := transport.NewTCP(options)
	Expect(tcp.Start(context.Background())).To(Succeed())

	return tcp
}

func send(conn net.Conn, data string) {
	_, err := conn.Write([]byte(data))
	Expect(err).To(Succeed())
}

func readExactly(conn net.Conn, n int) string {
	Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	Expect(err).To(Succeed())

	return string(buf)
}

func readFrame(conn net.Conn) protocol.Frame {
	Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	frame, err := protocol.NewReader(conn, protocol.NewCodec(), protocol.WithReadSize(1)).ReadFrame()
	Expect(err).To(Succeed())

	return frame
}

// expectClosed waits for the server to hang up on conn.
func expectClosed(conn net.Conn) {
	Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	one := make([]byte, 1)
	_, err := conn.Read(one)
	Expect(err).To(HaveOccurred())

	var netErr net.Error
	if errors.As(err, &netErr) {
		Expect(netErr.Timeout()).To(BeFalse(), "The client was never closed by the server")
	}
}
