package coherence

import "log"

// AlignAddr returns the base address of the line that holds addr.
func AlignAddr(addr uint64, lineSize int) uint64 {
	mustBePowerOfTwo(lineSize)
	return addr &^ uint64(lineSize-1)
}

// LineOffset returns the position of addr inside its line.
func LineOffset(addr uint64, lineSize int) int {
	mustBePowerOfTwo(lineSize)
	return int(addr & uint64(lineSize-1))
}

// CrossesLine returns true if the access does not fit in one line.
func CrossesLine(addr uint64, size, lineSize int) bool {
	return LineOffset(addr, lineSize)+size > lineSize
}

func mustBePowerOfTwo(n int) {
	if n <= 0 || n&(n-1) != 0 {
		log.Panicf("line size must be a power of 2, got %d", n)
	}
}
