package tagging

import (
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
)

// victim tiers, best first.
const (
	tierInvalid = iota
	tierNoHolder
	tierHolder
	tierBusy
	numTiers
)

// SetAssociativeArray maps line addresses to slots. A slot stays bound to
// its address after the line becomes invalid, until it is replaced.
type SetAssociativeArray struct {
	lineSize int
	numSets  int
	ways     int
	lines    []*coherence.CacheLine
	bound    []bool
	tags     map[uint64]int
	policy   ReplacementPolicy

	// IsBusy, if set, marks additional lines that must not be evicted now,
	// such as lines with queued events.
	IsBusy func(line *coherence.CacheLine) bool
}

// NewSetAssociativeArray creates an array of numLines slots grouped into
// sets of the given associativity.
func NewSetAssociativeArray(
	numLines, ways, lineSize int,
	policy ReplacementPolicy,
) *SetAssociativeArray {
	if ways <= 0 || numLines <= 0 || numLines%ways != 0 {
		log.Panicf("%d lines cannot be organized in %d ways", numLines, ways)
	}

	a := &SetAssociativeArray{
		lineSize: lineSize,
		numSets:  numLines / ways,
		ways:     ways,
		lines:    make([]*coherence.CacheLine, numLines),
		bound:    make([]bool, numLines),
		tags:     make(map[uint64]int),
		policy:   policy,
	}

	for i := range a.lines {
		a.lines[i] = coherence.NewCacheLine(i, lineSize)
	}

	return a
}

// LineSize returns the number of bytes in a line.
func (a *SetAssociativeArray) LineSize() int {
	return a.lineSize
}

// NumSets returns the number of sets.
func (a *SetAssociativeArray) NumSets() int {
	return a.numSets
}

// Ways returns the associativity.
func (a *SetAssociativeArray) Ways() int {
	return a.ways
}

// Lines returns all slots.
func (a *SetAssociativeArray) Lines() []*coherence.CacheLine {
	return a.lines
}

// Line returns the slot at index.
func (a *SetAssociativeArray) Line(index int) *coherence.CacheLine {
	return a.lines[index]
}

// SetIndex returns the set that addr maps to.
func (a *SetAssociativeArray) SetIndex(addr uint64) int {
	return int((addr / uint64(a.lineSize)) % uint64(a.numSets))
}

// Lookup returns the line bound to addr, or nil on a miss. If touch is true,
// the access updates the replacement state.
func (a *SetAssociativeArray) Lookup(
	addr uint64,
	touch bool,
) *coherence.CacheLine {
	index, found := a.tags[coherence.AlignAddr(addr, a.lineSize)]
	if !found {
		return nil
	}

	if touch {
		a.policy.Touch(index)
	}

	return a.lines[index]
}

// FindReplacementCandidate picks the slot that addr should replace. Invalid
// slots come first, then stable slots without upper holders, then stable
// slots with holders. Slots in transition, locked, or busy are returned only
// if nothing else is left, and the caller must then wait.
func (a *SetAssociativeArray) FindReplacementCandidate(
	addr uint64,
) *coherence.CacheLine {
	setID := a.SetIndex(addr)
	tiers := make([][]int, numTiers)

	for way := 0; way < a.ways; way++ {
		index := setID*a.ways + way
		tier := a.tier(index)
		tiers[tier] = append(tiers[tier], index)
	}

	for _, candidates := range tiers {
		if len(candidates) > 0 {
			return a.lines[a.policy.Victim(candidates)]
		}
	}

	panic("a set without ways")
}

func (a *SetAssociativeArray) tier(index int) int {
	line := a.lines[index]

	switch {
	case line.InTransition() || line.UserLock > 0:
		return tierBusy
	case a.bound[index] && a.IsBusy != nil && a.IsBusy(line):
		return tierBusy
	case line.State == coherence.I:
		return tierInvalid
	case line.NumHolders() == 0:
		return tierNoHolder
	}

	return tierHolder
}

// Replace rebinds the slot to addr in state I.
func (a *SetAssociativeArray) Replace(addr uint64, line *coherence.CacheLine) {
	addr = coherence.AlignAddr(addr, a.lineSize)
	if a.SetIndex(addr) != line.Index/a.ways {
		log.Panicf("line %d cannot hold address 0x%x", line.Index, addr)
	}

	if a.bound[line.Index] {
		delete(a.tags, line.BaseAddr)
	}

	line.Reset(addr)
	a.tags[addr] = line.Index
	a.bound[line.Index] = true
	a.policy.Reset(line.Index)
}
