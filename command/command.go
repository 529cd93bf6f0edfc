package command

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/luma/lantern/protocol"
)

var (
	ErrNotArray           = errors.New("command: request must be an array")
	ErrEmptyCommand       = errors.New("command: request is an empty array")
	ErrExpectedBulkString = errors.New("command: arguments must be bulk strings")
	ErrUnknownCommand     = errors.New("command: unknown command")
	ErrWrongArity         = errors.New("command: wrong number of arguments")
)

type Name string

const (
	PING Name = "PING"
	ECHO Name = "ECHO"
	GET  Name = "GET"
	SET  Name = "SET"
	DEL  Name = "DEL"
	QUIT Name = "QUIT"
)

// arity bounds the number of arguments after the command name. A max of -1
// means unbounded.
var arity = map[Name]struct{ min, max int }{
	PING: {0, 1},
	ECHO: {1, 1},
	GET:  {1, 1},
	SET:  {2, 2},
	DEL:  {1, -1},
	QUIT: {0, 0},
}

// Command is a parsed client request.
type Command struct {
	Name Name
	Args [][]byte
}

// Parse turns a request frame into a Command. Requests are arrays whose
// elements are bulk strings, the first naming the command. The name is matched
// case insensitively.
func Parse(f protocol.Frame) (Command, error) {
	if f.Kind != protocol.KindArray {
		return Command{}, fmt.Errorf("%w, got %s", ErrNotArray, f.Kind)
	}

	if len(f.Array) == 0 {
		return Command{}, ErrEmptyCommand
	}

	words := make([][]byte, len(f.Array))
	for i, elem := range f.Array {
		switch elem.Kind {
		case protocol.KindBulkString, protocol.KindSimpleString:
			words[i] = elem.Bytes

		default:
			return Command{}, fmt.Errorf("%w, argument %d is %s", ErrExpectedBulkString, i, elem.Kind)
		}
	}

	name := Name(bytes.ToUpper(words[0]))
	bounds, ok := arity[name]
	if !ok {
		return Command{}, fmt.Errorf("%w '%s'", ErrUnknownCommand, words[0])
	}

	cmd := Command{Name: name, Args: words[1:]}

	if len(cmd.Args) < bounds.min || (bounds.max >= 0 && len(cmd.Args) > bounds.max) {
		return Command{}, fmt.Errorf("%w for '%s'", ErrWrongArity, name)
	}

	return cmd, nil
}

// Frame encodes the command as a request frame, the inverse of Parse.
func (c Command) Frame() protocol.Frame {
	elems := make([]protocol.Frame, 0, len(c.Args)+1)
	elems = append(elems, protocol.BulkStringFromString(string(c.Name)))

	for _, arg := range c.Args {
		elems = append(elems, protocol.BulkString(arg))
	}

	return protocol.Array(elems...)
}

// New builds a Command from a name and its arguments.
func New(name Name, args ...[]byte) Command {
	return Command{Name: name, Args: args}
}
