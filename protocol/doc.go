// Package protocol implements parsing and serialising of the wire protocol
// Lantern speaks with its clients. The protocol is RESP (the Redis
// serialization protocol), version 2.
//
// The decoder is incremental. Bytes read from a connection are appended to an
// Accumulator and the Codec attempts to recognise one complete frame starting
// at offset 0. There are exactly three outcomes:
//
// - incomplete: the bytes are a valid prefix of a frame, nothing is consumed
// - complete: the frame's bytes are split off the accumulator and returned
// - malformed: the bytes can never become a valid frame, the stream is dead
//
// === General Syntax
//
// - every frame starts with a single marker byte
// - every line (and every length field) is terminated by `\r\n`
// - lengths and counts are base 10 ASCII with an optional leading `-`
//
// === Frame types
//
//	```
//	+OK\r\n                     simple string
//	-ERR unknown command\r\n    error
//	:1000\r\n                   integer
//	$5\r\nhello\r\n             bulk string
//	$-1\r\n                     null bulk string
//	*2\r\n:1\r\n:2\r\n          array
//	*-1\r\n                     null array
//	```
//
// Bulk strings are length prefixed so their payload may contain any byte,
// including `\r\n`. Simple strings and errors must not contain CR or LF, this
// is not checked when encoding.
//
// === Limits
//
// A Codec carries a maximum frame size (8 MiB by default) and a maximum array
// nesting depth. Encoding a frame whose encoded size exceeds the maximum fails
// before anything is written. Decoding rejects any declared length that would
// exceed it, before the payload has arrived, so a peer can't make us buffer an
// unbounded amount of data.
package protocol
