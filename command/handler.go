package command

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
)

var (
	ReplyOK   = protocol.SimpleString("OK")
	ReplyPong = protocol.SimpleString("PONG")
)

// Handler executes commands against a store. It holds no per connection state
// and may be shared by every connection.
type Handler struct {
	store storage.Store
	log   *zap.Logger
}

func NewHandler(store storage.Store, log *zap.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Handle executes cmd and returns the reply to send. quit is true when the
// client asked for the connection to be closed once the reply is written.
func (h *Handler) Handle(ctx context.Context, cmd Command) (reply protocol.Frame, quit bool) {
	switch cmd.Name {
	case PING:
		if len(cmd.Args) == 1 {
			return protocol.BulkString(cmd.Args[0]), false
		}
		return ReplyPong, false

	case ECHO:
		return protocol.BulkString(cmd.Args[0]), false

	case GET:
		value, found, err := h.store.Get(ctx, cmd.Args[0])
		if err != nil {
			h.log.Warn("Failed to get",
				zap.ByteString("key", cmd.Args[0]),
				zap.Error(err))
			return ErrorReply(err), false
		}

		if !found {
			return protocol.NullBulkString(), false
		}

		return protocol.BulkString(value), false

	case SET:
		if err := h.store.Set(ctx, cmd.Args[0], cmd.Args[1]); err != nil {
			h.log.Warn("Failed to set",
				zap.ByteString("key", cmd.Args[0]),
				zap.Error(err))
			return ErrorReply(err), false
		}

		return ReplyOK, false

	case DEL:
		removed, err := h.store.Delete(ctx, cmd.Args...)
		if err != nil {
			h.log.Warn("Failed to delete", zap.Error(err))
			return ErrorReply(err), false
		}

		return protocol.Integer(int64(removed)), false

	case QUIT:
		return ReplyOK, true

	default:
		return ErrorReply(ErrUnknownCommand), false
	}
}

// ErrorReply renders err as an error frame in the usual "ERR <message>" form.
// Protocol violations are reported as "ERR Protocol error: <message>".
func ErrorReply(err error) protocol.Frame {
	msg := err.Error()

	if protocol.IsProtocolError(err) {
		msg = "Protocol error: " + strings.TrimPrefix(msg, "protocol: ")
	} else {
		msg = strings.TrimPrefix(msg, "command: ")
		msg = strings.TrimPrefix(msg, "storage: ")
	}

	// Error frames are single lines
	msg = strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)

	return protocol.Error("ERR " + msg)
}
