package frontend

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TextReader reads records written one per line:
//
//	R <vaddr> <size> [ip]
//	W <vaddr> <size> [ip]
//	A <vaddr> <size> <level>
//	F <vaddr>
//	N
//	X
//
// Numbers may be decimal or 0x-prefixed. Empty lines and lines starting
// with # are skipped.
type TextReader struct {
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewTextReader creates a reader of r.
func NewTextReader(r io.Reader) *TextReader {
	return &TextReader{scanner: bufio.NewScanner(r)}
}

// Next returns the next record. It returns false at the end of the input or
// on a malformed line, in which case Err reports the problem.
func (t *TextReader) Next() (Record, bool) {
	if t.err != nil {
		return Record{}, false
	}

	for t.scanner.Scan() {
		t.line++

		text := strings.TrimSpace(t.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		r, err := ParseRecord(text)
		if err != nil {
			t.err = fmt.Errorf("line %d: %w", t.line, err)
			return Record{}, false
		}

		return r, true
	}

	t.err = t.scanner.Err()

	return Record{}, false
}

// Err returns the error that stopped the reader, if any.
func (t *TextReader) Err() error {
	return t.err
}

// ParseRecord parses one line of the text format.
func ParseRecord(text string) (Record, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("empty record")
	}

	var (
		r    Record
		args []uint64
		err  error
	)

	switch strings.ToUpper(fields[0]) {
	case "R":
		r.Op = OpRead
		args, err = parseArgs(fields[1:], 2, 3)
	case "W":
		r.Op = OpWrite
		args, err = parseArgs(fields[1:], 2, 3)
	case "A":
		r.Op = OpAllocate
		args, err = parseArgs(fields[1:], 3, 3)
	case "F":
		r.Op = OpFree
		args, err = parseArgs(fields[1:], 1, 1)
	case "N":
		r.Op = OpNoop
		args, err = parseArgs(fields[1:], 0, 0)
	case "X":
		r.Op = OpExit
		args, err = parseArgs(fields[1:], 0, 0)
	default:
		return Record{}, fmt.Errorf("unknown operation %q", fields[0])
	}

	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", fields[0], err)
	}

	fill(&r, args)

	if (r.Op == OpRead || r.Op == OpWrite || r.Op == OpAllocate) && r.Size == 0 {
		return Record{}, fmt.Errorf("%s: size must not be zero", fields[0])
	}

	return r, nil
}

func fill(r *Record, args []uint64) {
	if len(args) > 0 {
		r.VAddr = args[0]
	}

	if len(args) > 1 {
		r.Size = args[1]
	}

	if len(args) > 2 {
		if r.Op == OpAllocate {
			r.Level = int(args[2])
		} else {
			r.InstPtr = args[2]
		}
	}
}

func parseArgs(fields []string, minArgs, maxArgs int) ([]uint64, error) {
	if len(fields) < minArgs || len(fields) > maxArgs {
		return nil, fmt.Errorf("expected %d to %d arguments, got %d",
			minArgs, maxArgs, len(fields))
	}

	args := make([]uint64, 0, len(fields))

	for _, f := range fields {
		v, err := strconv.ParseUint(f, 0, 64)
		if err != nil {
			return nil, err
		}

		args = append(args, v)
	}

	return args, nil
}
