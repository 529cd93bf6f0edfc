package shell

import (
	"errors"
	"strconv"
)

var ErrUnbalancedQuotes = errors.New("shell: unbalanced quotes")

// Split breaks a line typed at the prompt into command arguments. Words are
// separated by spaces or tabs. Double quoted words understand \n, \r, \t, \",
// \\ and \xHH escapes, single quoted words are taken literally apart from \'.
func Split(line string) ([][]byte, error) {
	var (
		words [][]byte
		i     int
	)

	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}

		if i == len(line) {
			return words, nil
		}

		var (
			word []byte
			err  error
		)

		switch line[i] {
		case '"':
			word, i, err = doubleQuoted(line, i+1)
		case '\'':
			word, i, err = singleQuoted(line, i+1)
		default:
			start := i
			for i < len(line) && !isSpace(line[i]) {
				i++
			}
			word = []byte(line[start:i])
		}

		if err != nil {
			return nil, err
		}

		words = append(words, word)
	}
}

func doubleQuoted(line string, i int) ([]byte, int, error) {
	word := []byte{}

	for i < len(line) {
		c := line[i]

		switch {
		case c == '"':
			return closeQuote(word, line, i+1)

		case c == '\\' && i+3 < len(line) && line[i+1] == 'x':
			b, err := strconv.ParseUint(line[i+2:i+4], 16, 8)
			if err != nil {
				word = append(word, '\\')
				i++
				continue
			}
			word = append(word, byte(b))
			i += 4

		case c == '\\' && i+1 < len(line):
			switch line[i+1] {
			case 'n':
				word = append(word, '\n')
			case 'r':
				word = append(word, '\r')
			case 't':
				word = append(word, '\t')
			default:
				word = append(word, line[i+1])
			}
			i += 2

		default:
			word = append(word, c)
			i++
		}
	}

	return nil, i, ErrUnbalancedQuotes
}

func singleQuoted(line string, i int) ([]byte, int, error) {
	word := []byte{}

	for i < len(line) {
		c := line[i]

		switch {
		case c == '\'':
			return closeQuote(word, line, i+1)

		case c == '\\' && i+1 < len(line) && line[i+1] == '\'':
			word = append(word, '\'')
			i += 2

		default:
			word = append(word, c)
			i++
		}
	}

	return nil, i, ErrUnbalancedQuotes
}

// closeQuote checks that a closing quote ends the word.
func closeQuote(word []byte, line string, i int) ([]byte, int, error) {
	if i < len(line) && !isSpace(line[i]) {
		return nil, i, ErrUnbalancedQuotes
	}

	return word, i, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
