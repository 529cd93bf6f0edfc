package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr()
	Port int

	// Reuseport controls setting SO_REUSEPORT. Without it only a single
	// listener can bind the address.
	Reuseport bool

	// Trace will dump every decoded frame at debug level. This is only useful
	// in local debugging
	Trace bool

	NumListeners int

	// MaxConns caps the number of open client connections across all
	// listeners. Connections beyond it are refused with an error reply.
	MaxConns int

	// IdleTimeout closes connections that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	// ReadSize is the minimum free space reserved for each read from a client
	ReadSize int

	// Codec bounds frame sizes and nesting. Defaults to protocol.NewCodec()
	Codec *protocol.Codec

	Store storage.Store

	// Metrics defaults to a set of unregistered collectors
	Metrics *Metrics

	Log *zap.Logger
}
