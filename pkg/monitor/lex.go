package monitor

import (
	"fmt"
	"strings"
)

// maxArgs is the capacity of the argument vector built for one line,
// including the command name.
const maxArgs = 16

// whitespace is the set of separator characters recognized by splitLine.
const whitespace = "\t\r\n "

// ErrTooManyArgs is reported when a line carries more tokens than the
// argument vector can hold. The whole line is discarded.
var ErrTooManyArgs = fmt.Errorf("too many arguments (max %d)", maxArgs)

// splitLine splits a raw input line into whitespace-separated tokens.
// An empty or all-whitespace line yields zero tokens.
func splitLine(line string) ([]string, error) {
	argv := make([]string, 0, maxArgs)
	i := 0
	for {
		for i < len(line) && strings.IndexByte(whitespace, line[i]) >= 0 {
			i++
		}
		if i >= len(line) {
			break
		}
		if len(argv) == maxArgs-1 {
			return nil, ErrTooManyArgs
		}
		start := i
		for i < len(line) && strings.IndexByte(whitespace, line[i]) < 0 {
			i++
		}
		argv = append(argv, line[start:i])
	}
	return argv, nil
}

// parseHex converts a "0x"-prefixed lowercase hexadecimal token into an
// unsigned 32-bit value. It keeps the monitor's historical contract:
// no validation and no overflow check, so uppercase digits and stray
// characters are misparsed. Callers are responsible for supplying
// well-formed tokens.
func parseHex(tok string) uint32 {
	var v uint32
	for i := 2; i < len(tok); i++ {
		c := tok[i]
		if c >= 'a' {
			c = c - 'a' + '0' + 10
		}
		v = v*16 + uint32(c-'0')
	}
	return v
}
