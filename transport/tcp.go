package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/luci/go-render/render"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/lantern/command"
	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
)

const (
	// WriteQueueSize is how many replies may be waiting for the write loop
	// before the read loop stops reading requests.
	WriteQueueSize = 127

	DefaultMaxConns = 10000

	// storeTimeout bounds a single command against the store
	storeTimeout = 3 * time.Second

	// refuseTimeout bounds writing the refusal to a connection over MaxConns
	refuseTimeout = time.Second
)

var replyTooManyConns = protocol.Error("ERR max number of clients reached")

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	maxConns    int64
	activeConns int64
	idleTimeout time.Duration
	readSize    int
	trace       bool

	store   storage.Store
	handler *command.Handler
	codec   *protocol.Codec
	pool    gopool.Pool
	metrics *Metrics

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	// Only SO_REUSEPORT lets several sockets bind the same address
	if !options.Reuseport {
		numListeners = 1
	}

	maxConns := options.MaxConns
	if maxConns < 1 {
		maxConns = DefaultMaxConns
	}

	codec := options.Codec
	if codec == nil {
		codec = protocol.NewCodec()
	}

	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	pool := gopool.NewPool("connections", int32(maxConns), gopool.NewConfig())
	pool.SetPanicHandler(func(_ context.Context, p interface{}) {
		log.Error("Connection handler panicked", zap.Any("panic", p))
	})

	return &TCP{
		cancel:       func() {},
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		maxConns:     int64(maxConns),
		idleTimeout:  options.IdleTimeout,
		readSize:     options.ReadSize,
		trace:        options.Trace,
		store:        options.Store,
		handler:      command.NewHandler(options.Store, log.Named("handler")),
		codec:        codec,
		pool:         pool,
		metrics:      metrics,
		log:          log,
	}
}

// Start binds every listener before returning, so the server is accepting
// connections as soon as Start succeeds. If any listener fails to bind, the
// ones already bound are closed and the error is returned.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	addr := t.addr

	for i := 0; i < t.numListeners; i++ {
		ln, err := t.listen(addr)
		if err != nil {
			cancel()
			for _, listener := range t.listeners {
				listener.Close()
			}
			t.listeners = t.listeners[:0]

			return fmt.Errorf("Failed to listen on %s: %w", addr, err)
		}

		// Later listeners share whatever port the first one was given
		addr = ln.Addr().String()

		t.startListener(ctx, ln)
	}

	t.log.Info("Listening", zap.Stringer("addr", t.Addr()))

	return nil
}

func (t *TCP) listen(addr string) (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (t *TCP) startListener(ctx context.Context, ln net.Listener) {
	t.stopWaiter.Add(1)
	listener := NewTCPListener(
		ctx,
		ln,
		t,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	t.listeners = append(t.listeners, listener)

	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Listener stopped accepting connections", zap.Error(err))
		}
	}()
}

// Addr returns the address the server is listening on, or nil before Start.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

// ActiveConns returns the number of open client connections.
func (t *TCP) ActiveConns() int {
	return int(atomic.LoadInt64(&t.activeConns))
}

// Close immediately closes all active listeners and connections.
//
// For a graceful shutdown, use Shutdown()
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP server")
	t.cancel()

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.log.Debug("Waiting for listeners")
	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

// Shutdown stops accepting new connections and waits for the open ones to end
// on their own. If ctx expires first the remaining connections are closed.
func (t *TCP) Shutdown(ctx context.Context) (err error) {
	t.log.Info("Shutting down TCP server")

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.StopAccepting())
	}

	done := make(chan struct{})
	go func() {
		t.stopWaiter.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return err

	case <-ctx.Done():
		t.log.Warn("Shutdown timed out, closing remaining connections",
			zap.Int("active", t.ActiveConns()))
		return multierr.Append(err, t.Close())
	}
}

// acquire reserves a connection slot, reporting false if MaxConns is reached.
func (t *TCP) acquire() bool {
	if atomic.AddInt64(&t.activeConns, 1) > t.maxConns {
		atomic.AddInt64(&t.activeConns, -1)
		return false
	}

	t.metrics.ConnectionsActive.Inc()
	return true
}

func (t *TCP) release() {
	t.metrics.ConnectionsActive.Dec()
	atomic.AddInt64(&t.activeConns, -1)
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	server   *TCP
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	server *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// StopAccepting closes the listening socket but leaves open connections alone.
func (t *TCPListener) StopAccepting() error {
	if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

// Close stops accepting and closes every open connection.
func (t *TCPListener) Close() error {
	err := t.StopAccepting()

	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Listen accepts connections until the listener is closed, then waits for
// the connections it accepted to finish.
func (t *TCPListener) Listen() error {
	defer func() {
		t.log.Debug("Waiting for connections to finish")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	go func() {
		<-t.ctx.Done()

		if err := t.Close(); err != nil {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		t.server.metrics.ConnectionsAccepted.Inc()

		if !t.server.acquire() {
			t.log.Warn("Refusing connection, too many clients",
				zap.Stringer("remote", conn.RemoteAddr()))
			t.refuse(conn)
			continue
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.server, t.log.Named("conn").With(
			zap.Stringer("remote", conn.RemoteAddr())))

		t.addConn(tcpConn)
		t.connWaiter.Add(1)

		t.server.pool.CtxGo(t.ctx, func() {
			defer t.connWaiter.Done()
			defer t.server.release()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		})
	}
}

func (t *TCPListener) refuse(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(refuseTimeout)); err != nil {
		return
	}

	if err := protocol.NewWriter(conn, t.server.codec).WriteFrame(replyTooManyConns); err != nil {
		t.log.Debug("Failed to refuse connection", zap.Error(err))
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn serves a single client. Its read loop decodes requests and runs
// them, its write loop sends the replies in order. One request produces
// exactly one reply.
type TCPConn struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	conn    net.Conn
	reader  *protocol.Reader
	writer  *protocol.Writer
	handler *command.Handler
	metrics *Metrics

	idleTimeout time.Duration
	trace       bool

	writeQueue chan protocol.Frame

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	server *TCP,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:         ctx,
		cancel:      cancel,
		conn:        conn,
		reader:      protocol.NewReader(conn, server.codec, protocol.WithReadSize(server.readSize)),
		writer:      protocol.NewWriter(conn, server.codec),
		handler:     server.handler,
		metrics:     server.metrics,
		idleTimeout: server.idleTimeout,
		trace:       server.trace,
		writeQueue:  make(chan protocol.Frame, WriteQueueSize),
		log:         log,
	}
}

// Close immediately closes the connection, abandoning unwritten replies.
func (t *TCPConn) Close() (err error) {
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
	})

	return err
}

// Start runs the read and write loops and returns once both have exited and
// the connection is closed. The read loop runs on the calling goroutine.
//
// A panic in either loop closes this connection only, the server keeps
// serving everyone else.
func (t *TCPConn) Start() {
	writeDone := make(chan struct{})

	go func() {
		defer close(writeDone)
		defer t.recoverLoop("writeLoop")

		t.WriteLoop()
	}()

	func() {
		defer t.recoverLoop("readLoop")

		t.ReadLoop()
	}()

	<-writeDone

	if err := t.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.log.Debug("Connection did not close cleanly", zap.Error(err))
	}
}

// recoverLoop must be deferred directly by the loop's goroutine.
func (t *TCPConn) recoverLoop(loop string) {
	p := recover()
	if p == nil {
		return
	}

	t.metrics.Panics.Inc()
	t.log.Error("Connection handler panicked, closing connection",
		zap.String("loop", loop), zap.Any("panic", p), zap.Stack("stack"))

	t.Close()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	// Closing the queue tells the write loop to drain what is left and exit
	defer close(t.writeQueue)

	for {
		if t.idleTimeout > 0 {
			if err := t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout)); err != nil {
				log.Warn("Failed to set read deadline", zap.Error(err))
				return
			}
		}

		frame, err := t.reader.ReadFrame()
		if err != nil {
			t.readFailed(log, err)
			return
		}

		t.metrics.FramesDecoded.Inc()

		if t.trace {
			log.Debug("Decoded frame", zap.String("frame", render.Render(frame)))
		}

		cmd, err := command.Parse(frame)
		if err != nil {
			log.Debug("Rejected request", zap.Error(err))

			if !t.enqueue(command.ErrorReply(err)) {
				return
			}
			continue
		}

		t.metrics.Commands.WithLabelValues(string(cmd.Name)).Inc()

		reply, quit := t.handle(cmd)
		if !t.enqueue(reply) {
			return
		}

		if quit {
			log.Debug("Client QUIT, exiting...")
			return
		}
	}
}

func (t *TCPConn) readFailed(log *zap.Logger, err error) {
	var netErr net.Error

	switch {
	case errors.Is(err, io.EOF):
		log.Debug("Client disconnected")

	case protocol.IsProtocolError(err):
		t.metrics.protocolError(err)
		log.Warn("Client violated the protocol, closing connection", zap.Error(err))

		// The reader is unusable now, tell the client why before hanging up
		t.enqueue(command.ErrorReply(err))

	case t.ctx.Err() != nil:
		log.Debug("Context cancelled, exiting...")

	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("Closing idle connection", zap.Duration("timeout", t.idleTimeout))

	default:
		log.Warn("Failed to read client request", zap.Error(err))
	}
}

func (t *TCPConn) handle(cmd command.Command) (protocol.Frame, bool) {
	ctx, cancel := context.WithTimeout(t.ctx, storeTimeout)
	defer cancel()

	return t.handler.Handle(ctx, cmd)
}

// enqueue hands a reply to the write loop. It returns false if the
// connection is closing.
func (t *TCPConn) enqueue(reply protocol.Frame) bool {
	select {
	case t.writeQueue <- reply:
		return true

	case <-t.ctx.Done():
		return false
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		// Let the client see EOF once every reply is out
		if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
			err := cw.CloseWrite()
			if err != nil && !errors.Is(err, net.ErrClosed) &&
				!strings.Contains(err.Error(), "transport endpoint is not connected") {
				log.Warn("Failed to close writes on connection cleanly", zap.Error(err))
			}
		}
	}()

	for reply := range t.writeQueue {
		err := t.writer.WriteFrame(reply)

		if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrNestingTooDeep) {
			log.Warn("Reply cannot be encoded", zap.Int("size", reply.Len()), zap.Error(err))
			err = t.writer.WriteFrame(command.ErrorReply(err))
		}

		if err != nil {
			if t.ctx.Err() == nil {
				log.Warn("Failed to write reply", zap.Error(err))
			}

			// Unblock the read loop, then discard whatever it queued
			t.Close()
			for range t.writeQueue {
			}

			return
		}

		t.metrics.FramesEncoded.Inc()

		if t.trace {
			log.Debug("Encoded frame", zap.String("frame", render.Render(reply)))
		}
	}
}
