package tagging

import (
	"fmt"
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
)

// DualArray keeps directory entries and data slots in two independently
// sized arrays. A directory line and a data line refer to each other by
// index, with coherence.NoLink meaning no link.
type DualArray struct {
	*SetAssociativeArray

	dataLines  []*coherence.DataLine
	dataSets   int
	dataWays   int
	dataPolicy ReplacementPolicy
}

// NewDualArray creates a directory of numDirLines entries and numDataLines
// data slots.
func NewDualArray(
	numDirLines, dirWays int,
	numDataLines, dataWays int,
	lineSize int,
	dirPolicy, dataPolicy ReplacementPolicy,
) *DualArray {
	if dataWays <= 0 || numDataLines <= 0 || numDataLines%dataWays != 0 {
		log.Panicf("%d data lines cannot be organized in %d ways",
			numDataLines, dataWays)
	}

	a := &DualArray{
		SetAssociativeArray: NewSetAssociativeArray(
			numDirLines, dirWays, lineSize, dirPolicy),
		dataLines:  make([]*coherence.DataLine, numDataLines),
		dataSets:   numDataLines / dataWays,
		dataWays:   dataWays,
		dataPolicy: dataPolicy,
	}

	for i := range a.dataLines {
		a.dataLines[i] = coherence.NewDataLine(i, lineSize)
	}

	return a
}

// DataLines returns all data slots.
func (a *DualArray) DataLines() []*coherence.DataLine {
	return a.dataLines
}

// Lookup returns the directory line of addr and touches its data slot too.
func (a *DualArray) Lookup(addr uint64, touch bool) *coherence.CacheLine {
	line := a.SetAssociativeArray.Lookup(addr, touch)
	if line != nil && touch && line.DataIndex != coherence.NoLink {
		a.dataPolicy.Touch(line.DataIndex)
	}

	return line
}

// Replace rebinds a directory slot. Its data slot, if any, is released.
func (a *DualArray) Replace(addr uint64, line *coherence.CacheLine) {
	a.UnlinkData(line)
	a.SetAssociativeArray.Replace(addr, line)
}

// DataOf returns the data slot linked to the directory line, or nil.
func (a *DualArray) DataOf(line *coherence.CacheLine) *coherence.DataLine {
	if line.DataIndex == coherence.NoLink {
		return nil
	}

	return a.dataLines[line.DataIndex]
}

// LinkData gives the directory line a data slot. A free slot is used first.
// Otherwise the data of a stable line with upper holders is dropped, since
// the holders keep a copy. As the last resort, a stable line without
// holders loses its slot; that line is returned with a copy of its data and
// must be written back and invalidated by the caller. It returns false if
// every candidate slot belongs to a line in transition.
func (a *DualArray) LinkData(
	line *coherence.CacheLine,
) (victim *coherence.CacheLine, victimData []byte, ok bool) {
	if line.DataIndex != coherence.NoLink {
		a.dataPolicy.Touch(line.DataIndex)
		return nil, nil, true
	}

	setID := int((line.BaseAddr / uint64(a.lineSize)) % uint64(a.dataSets))

	free := make([]int, 0)
	shared := make([]int, 0)
	alone := make([]int, 0)

	for way := 0; way < a.dataWays; way++ {
		index := setID*a.dataWays + way
		data := a.dataLines[index]

		if data.DirIndex == coherence.NoLink {
			free = append(free, index)
			continue
		}

		dirLine := a.lines[data.DirIndex]
		switch {
		case dirLine.InTransition():
		case dirLine.NumHolders() > 0:
			shared = append(shared, index)
		default:
			alone = append(alone, index)
		}
	}

	var chosen int

	switch {
	case len(free) > 0:
		chosen = free[0]
	case len(shared) > 0:
		chosen = a.dataPolicy.Victim(shared)
	case len(alone) > 0:
		chosen = a.dataPolicy.Victim(alone)
	default:
		return nil, nil, false
	}

	data := a.dataLines[chosen]
	if data.DirIndex != coherence.NoLink {
		prev := a.lines[data.DirIndex]
		prev.DataIndex = coherence.NoLink

		if prev.NumHolders() == 0 {
			victim = prev
			victimData = append([]byte(nil), data.Data...)
		}
	}

	data.DirIndex = line.Index
	line.DataIndex = data.Index
	a.dataPolicy.Reset(data.Index)

	return victim, victimData, true
}

// UnlinkData releases the data slot of the directory line.
func (a *DualArray) UnlinkData(line *coherence.CacheLine) {
	if line.DataIndex == coherence.NoLink {
		return
	}

	a.dataLines[line.DataIndex].DirIndex = coherence.NoLink
	line.DataIndex = coherence.NoLink
}

// CheckLinks verifies that every link has a matching back-link.
func (a *DualArray) CheckLinks() error {
	for _, line := range a.lines {
		if line.DataIndex == coherence.NoLink {
			continue
		}

		if line.DataIndex < 0 || line.DataIndex >= len(a.dataLines) {
			return fmt.Errorf("directory line %d links to bad data line %d",
				line.Index, line.DataIndex)
		}

		if a.dataLines[line.DataIndex].DirIndex != line.Index {
			return fmt.Errorf("directory line %d links to data line %d, "+
				"which links back to %d",
				line.Index, line.DataIndex,
				a.dataLines[line.DataIndex].DirIndex)
		}
	}

	for _, data := range a.dataLines {
		if data.DirIndex == coherence.NoLink {
			continue
		}

		if data.DirIndex < 0 || data.DirIndex >= len(a.lines) {
			return fmt.Errorf("data line %d links to bad directory line %d",
				data.Index, data.DirIndex)
		}

		if a.lines[data.DirIndex].DataIndex != data.Index {
			return fmt.Errorf("data line %d links to directory line %d, "+
				"which links to %d",
				data.Index, data.DirIndex, a.lines[data.DirIndex].DataIndex)
		}
	}

	return nil
}
