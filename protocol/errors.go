package protocol

import "errors"

var (
	ErrUnknownStartingByte = errors.New("protocol: unknown starting byte")
	ErrIntParseFailure     = errors.New("protocol: invalid integer")
	ErrUnexpectedEnd       = errors.New("protocol: unexpected end of stream")
	ErrBadBulkStringSize   = errors.New("protocol: invalid bulk string length")
	ErrBadBulkArraySize    = errors.New("protocol: invalid multibulk length")
	ErrBadTerminator       = errors.New("protocol: CR not followed by LF")
	ErrFrameTooLarge       = errors.New("protocol: frame too large")
	ErrNestingTooDeep      = errors.New("protocol: arrays nested too deeply")

	// ErrInvalidFrame is returned when asked to encode a Frame without a valid
	// Kind. It's a programming error on our side, not a protocol violation.
	ErrInvalidFrame = errors.New("protocol: frame has no valid kind")
)

// IsProtocolError returns true if err was caused by the peer violating the
// protocol, as opposed to an error from the underlying transport.
func IsProtocolError(err error) bool {
	return ErrorKind(err) != ""
}

// ErrorKind returns a short stable label for a protocol error, suitable for
// metrics. It returns "" for anything that is not a protocol error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownStartingByte):
		return "unknown_starting_byte"
	case errors.Is(err, ErrIntParseFailure):
		return "int_parse_failure"
	case errors.Is(err, ErrUnexpectedEnd):
		return "unexpected_end"
	case errors.Is(err, ErrBadBulkStringSize):
		return "bad_bulk_string_size"
	case errors.Is(err, ErrBadBulkArraySize):
		return "bad_bulk_array_size"
	case errors.Is(err, ErrBadTerminator):
		return "bad_terminator"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrNestingTooDeep):
		return "nesting_too_deep"
	default:
		return ""
	}
}
