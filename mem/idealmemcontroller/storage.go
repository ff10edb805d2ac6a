package idealmemcontroller

import (
	"fmt"

	"github.com/sarchlab/coherence/mem/coherence"
)

// Storage keeps the content of the memory line by line. Lines that were
// never written read as zeros.
type Storage struct {
	lineSize int
	lines    map[uint64][]byte
}

// NewStorage creates an empty storage.
func NewStorage(lineSize int) *Storage {
	return &Storage{
		lineSize: lineSize,
		lines:    make(map[uint64][]byte),
	}
}

// Read returns a copy of size bytes starting at addr. The access must not
// cross a line.
func (s *Storage) Read(addr uint64, size int) ([]byte, error) {
	if coherence.CrossesLine(addr, size, s.lineSize) {
		return nil, fmt.Errorf("read of %d bytes at 0x%x crosses a line",
			size, addr)
	}

	data := make([]byte, size)

	line, found := s.lines[coherence.AlignAddr(addr, s.lineSize)]
	if found {
		offset := coherence.LineOffset(addr, s.lineSize)
		copy(data, line[offset:offset+size])
	}

	return data, nil
}

// Write copies data into the storage at addr. The access must not cross a
// line.
func (s *Storage) Write(addr uint64, data []byte) error {
	if coherence.CrossesLine(addr, len(data), s.lineSize) {
		return fmt.Errorf("write of %d bytes at 0x%x crosses a line",
			len(data), addr)
	}

	base := coherence.AlignAddr(addr, s.lineSize)

	line, found := s.lines[base]
	if !found {
		line = make([]byte, s.lineSize)
		s.lines[base] = line
	}

	copy(line[coherence.LineOffset(addr, s.lineSize):], data)

	return nil
}
