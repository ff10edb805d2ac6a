// Package frontend drives the memory hierarchy with streams of memory
// operations, read from trace files or generated, issued by cores.
package frontend

import "fmt"

// Op is the kind of a trace record.
type Op int

// Operations of trace records.
const (
	OpNoop Op = iota
	OpRead
	OpWrite
	OpAllocate
	OpFree
	OpExit
)

func (o Op) String() string {
	switch o {
	case OpNoop:
		return "N"
	case OpRead:
		return "R"
	case OpWrite:
		return "W"
	case OpAllocate:
		return "A"
	case OpFree:
		return "F"
	case OpExit:
		return "X"
	}

	return fmt.Sprintf("Op(%d)", int(o))
}

// A Record is one operation of a core.
type Record struct {
	Op      Op
	VAddr   uint64
	Size    uint64
	Level   int
	InstPtr uint64
}

func (r Record) String() string {
	switch r.Op {
	case OpRead, OpWrite:
		return fmt.Sprintf("%s 0x%x %d 0x%x", r.Op, r.VAddr, r.Size, r.InstPtr)
	case OpAllocate:
		return fmt.Sprintf("%s 0x%x %d %d", r.Op, r.VAddr, r.Size, r.Level)
	case OpFree:
		return fmt.Sprintf("%s 0x%x", r.Op, r.VAddr)
	}

	return r.Op.String()
}

// A Source provides the records of one core in program order. Next returns
// false when the stream ends.
type Source interface {
	Next() (Record, bool)
}

// SliceSource replays a fixed list of records.
type SliceSource struct {
	records []Record
	next    int
}

// NewSliceSource creates a source of the given records.
func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record.
func (s *SliceSource) Next() (Record, bool) {
	if s.next >= len(s.records) {
		return Record{}, false
	}

	r := s.records[s.next]
	s.next++

	return r, true
}
