package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/lantern/command"
	"github.com/luma/lantern/protocol"
)

var (
	ErrDisconnected    = errors.New("client: not connected")
	ErrUnexpectedReply = errors.New("client: unexpected reply")
)

// ReplyError is an error reply sent by the server, e.g. "ERR unknown command".
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

// Conn is a connection to a lantern server. Requests are sent one at a time
// and each waits for its reply, so a Conn may be shared between goroutines.
//
// If a request fails part way through, e.g. because its context expired, the
// connection can no longer tell which reply belongs to which request. Every
// later request returns the same error and the Conn should be disconnected.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	err    error

	codec *protocol.Codec
	log   *zap.Logger
}

func New(log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		codec: protocol.NewCodec(),
		log:   log,
	}
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("Failed to connect to %s: %w", addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.reader = protocol.NewReader(conn, c.codec)
	c.writer = protocol.NewWriter(conn, c.codec)
	c.err = nil

	c.log.Debug("Connected", zap.String("addr", addr))

	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.err = ErrDisconnected

	return err
}

// Do sends a command made of args and returns the server's reply as is. Error
// replies are returned as frames, not as errors.
func (c *Conn) Do(ctx context.Context, args ...[]byte) (protocol.Frame, error) {
	if len(args) == 0 {
		return protocol.Frame{}, command.ErrEmptyCommand
	}

	elems := make([]protocol.Frame, len(args))
	for i, arg := range args {
		elems[i] = protocol.BulkString(arg)
	}

	return c.roundTrip(ctx, protocol.Array(elems...))
}

func (c *Conn) Ping(ctx context.Context) error {
	reply, err := c.call(ctx, command.New(command.PING))
	if err != nil {
		return err
	}

	if reply.Kind != protocol.KindSimpleString || reply.Text() != "PONG" {
		return unexpected(reply)
	}

	return nil
}

func (c *Conn) Echo(ctx context.Context, message []byte) ([]byte, error) {
	reply, err := c.call(ctx, command.New(command.ECHO, message))
	if err != nil {
		return nil, err
	}

	if reply.Kind != protocol.KindBulkString {
		return nil, unexpected(reply)
	}

	return reply.Bytes, nil
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := c.call(ctx, command.New(command.GET, []byte(key)))
	if err != nil {
		return nil, false, err
	}

	switch reply.Kind {
	case protocol.KindNullBulkString:
		return nil, false, nil

	case protocol.KindBulkString:
		return reply.Bytes, true, nil

	default:
		return nil, false, unexpected(reply)
	}
}

func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	reply, err := c.call(ctx, command.New(command.SET, []byte(key), value))
	if err != nil {
		return err
	}

	return expectOK(reply)
}

// Del removes keys and returns how many of them existed.
func (c *Conn) Del(ctx context.Context, keys ...string) (int, error) {
	args := make([][]byte, len(keys))
	for i, key := range keys {
		args[i] = []byte(key)
	}

	reply, err := c.call(ctx, command.New(command.DEL, args...))
	if err != nil {
		return 0, err
	}

	if reply.Kind != protocol.KindInteger {
		return 0, unexpected(reply)
	}

	return int(reply.Int), nil
}

// Quit asks the server to close the connection, then disconnects.
func (c *Conn) Quit(ctx context.Context) error {
	reply, err := c.call(ctx, command.New(command.QUIT))
	if err != nil {
		return err
	}

	if err := expectOK(reply); err != nil {
		return err
	}

	return c.Disconnect()
}

// call sends cmd and turns error replies into a *ReplyError.
func (c *Conn) call(ctx context.Context, cmd command.Command) (protocol.Frame, error) {
	reply, err := c.roundTrip(ctx, cmd.Frame())
	if err != nil {
		return protocol.Frame{}, err
	}

	if reply.Kind == protocol.KindError {
		return protocol.Frame{}, &ReplyError{Message: reply.Text()}
	}

	return reply, nil
}

func (c *Conn) roundTrip(ctx context.Context, request protocol.Frame) (protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return protocol.Frame{}, c.err
	}

	if c.conn == nil {
		return protocol.Frame{}, ErrDisconnected
	}

	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, err
	}

	// A zero deadline clears whatever the previous request set
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return protocol.Frame{}, c.fail(ctx, err)
	}

	// Cancellation without a deadline interrupts I/O the same way
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.writer.WriteFrame(request); err != nil {
		return protocol.Frame{}, c.fail(ctx, err)
	}

	reply, err := c.reader.ReadFrame()
	if err != nil {
		return protocol.Frame{}, c.fail(ctx, err)
	}

	return reply, nil
}

// fail marks the connection unusable. Errors caused by ctx are reported as
// ctx's error.
func (c *Conn) fail(ctx context.Context, err error) error {
	var netErr net.Error

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if deadline, ok := ctx.Deadline(); ok && errors.As(err, &netErr) && netErr.Timeout() && !time.Now().Before(deadline) {
		err = context.DeadlineExceeded
	}

	c.log.Debug("Connection failed", zap.Error(err))
	c.err = err

	return err
}

func expectOK(reply protocol.Frame) error {
	if reply.Kind != protocol.KindSimpleString || reply.Text() != "OK" {
		return unexpected(reply)
	}

	return nil
}

func unexpected(reply protocol.Frame) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
}
