package coherence

import (
	"fmt"
	"sort"
)

// NoLink marks a directory or data line that is not linked to the other side.
const NoLink = -1

// CacheLine is the metadata of a cache block. In the directory variant, it is
// a directory entry whose data lives in a separately slotted DataLine.
type CacheLine struct {
	Index     int
	DataIndex int

	BaseAddr uint64
	State    State
	Owner    string
	Data     []byte

	// Timestamp is the cycle until which the line is busy.
	Timestamp uint64

	UserLock             int
	LLSC                 bool
	EventsWaitingForLock bool

	sharers []string
}

// NewCacheLine creates an invalid line of the given size.
func NewCacheLine(index, lineSize int) *CacheLine {
	return &CacheLine{
		Index:     index,
		DataIndex: NoLink,
		Data:      make([]byte, lineSize),
	}
}

// InTransition returns true if a transaction is active on the line.
func (l *CacheLine) InTransition() bool {
	return l.State.InTransition()
}

// IsStable returns true if the line is in I, S, E, or M.
func (l *CacheLine) IsStable() bool {
	return l.State.IsStable()
}

// Sharers returns a sorted copy of the sharer list.
func (l *CacheLine) Sharers() []string {
	return append([]string(nil), l.sharers...)
}

// NumSharers returns the number of sharers.
func (l *CacheLine) NumSharers() int {
	return len(l.sharers)
}

// HasSharers returns true if at least one upper level holds a shared copy.
func (l *CacheLine) HasSharers() bool {
	return len(l.sharers) > 0
}

// IsSharer returns true if s holds a shared copy.
func (l *CacheLine) IsSharer(s string) bool {
	i := sort.SearchStrings(l.sharers, s)
	return i < len(l.sharers) && l.sharers[i] == s
}

// AddSharer records s as a sharer.
func (l *CacheLine) AddSharer(s string) {
	i := sort.SearchStrings(l.sharers, s)
	if i < len(l.sharers) && l.sharers[i] == s {
		return
	}

	l.sharers = append(l.sharers, "")
	copy(l.sharers[i+1:], l.sharers[i:])
	l.sharers[i] = s
}

// RemoveSharer forgets s. Removing a non-sharer has no effect.
func (l *CacheLine) RemoveSharer(s string) {
	i := sort.SearchStrings(l.sharers, s)
	if i < len(l.sharers) && l.sharers[i] == s {
		l.sharers = append(l.sharers[:i], l.sharers[i+1:]...)
	}
}

// ClearSharers forgets all sharers.
func (l *CacheLine) ClearSharers() {
	l.sharers = l.sharers[:0]
}

// HasOwner returns true if an upper level holds the line exclusively.
func (l *CacheLine) HasOwner() bool {
	return l.Owner != ""
}

// IsHolder returns true if s is the owner or a sharer.
func (l *CacheLine) IsHolder(s string) bool {
	return l.Owner == s || l.IsSharer(s)
}

// NumHolders counts the owner and the sharers.
func (l *CacheLine) NumHolders() int {
	n := len(l.sharers)
	if l.HasOwner() {
		n++
	}

	return n
}

// RemoveHolder forgets s as the owner or as a sharer.
func (l *CacheLine) RemoveHolder(s string) {
	if l.Owner == s {
		l.Owner = ""
	}

	l.RemoveSharer(s)
}

// SetData copies data into the line at the given offset.
func (l *CacheLine) SetData(data []byte, offset int) {
	copy(l.Data[offset:], data)
}

// Invalidate returns the line to I and clears the holder, lock, and atomic
// fields.
func (l *CacheLine) Invalidate() {
	l.State = I
	l.Owner = ""
	l.ClearSharers()
	l.UserLock = 0
	l.LLSC = false
	l.EventsWaitingForLock = false
}

// Reset rebinds the line to a new address in state I.
func (l *CacheLine) Reset(addr uint64) {
	l.Invalidate()
	l.BaseAddr = addr
	l.Timestamp = 0

	for i := range l.Data {
		l.Data[i] = 0
	}
}

// CheckInvariant reports holder or lock fields left on an invalid line.
func (l *CacheLine) CheckInvariant() error {
	if l.State != I {
		return nil
	}

	if l.HasSharers() || l.HasOwner() {
		return fmt.Errorf("line 0x%x is I but has holders (owner %q, sharers %v)",
			l.BaseAddr, l.Owner, l.sharers)
	}

	if l.UserLock != 0 || l.LLSC || l.EventsWaitingForLock {
		return fmt.Errorf("line 0x%x is I but keeps lock state", l.BaseAddr)
	}

	return nil
}

// DataLine is a data slot of the directory variant.
type DataLine struct {
	Index    int
	DirIndex int
	Data     []byte
}

// NewDataLine creates an unlinked data line.
func NewDataLine(index, lineSize int) *DataLine {
	return &DataLine{
		Index:    index,
		DirIndex: NoLink,
		Data:     make([]byte, lineSize),
	}
}
