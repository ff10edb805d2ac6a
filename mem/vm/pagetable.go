package vm

import (
	"fmt"
	"sync"
)

// PID stands for Process ID.
type PID uint32

// A Page maps one virtual page of a process to a physical frame.
type Page struct {
	PID      PID
	VAddr    uint64
	PAddr    uint64
	PageSize uint64
	Valid    bool
}

// A PageTable holds the pages of all processes.
type PageTable interface {
	Insert(page Page)
	Remove(pid PID, vAddr uint64)
	Find(pid PID, vAddr uint64) (Page, bool)
	Update(page Page)
	NumPages(pid PID) int
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		tables:       make(map[PID]map[uint64]Page),
	}
}

type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[PID]map[uint64]Page
}

func (pt *pageTableImpl) table(pid PID) map[uint64]Page {
	table, found := pt.tables[pid]
	if !found {
		table = make(map[uint64]Page)
		pt.tables[pid] = table
	}

	return table
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

// Insert puts a new page into the table. The page must not exist.
func (pt *pageTableImpl) Insert(page Page) {
	pt.Lock()
	defer pt.Unlock()

	table := pt.table(page.PID)
	if _, found := table[page.VAddr]; found {
		panic(fmt.Sprintf("page 0x%x of process %d exists",
			page.VAddr, page.PID))
	}

	table[page.VAddr] = page
}

// Remove removes the page that contains vAddr. The page must exist.
func (pt *pageTableImpl) Remove(pid PID, vAddr uint64) {
	pt.Lock()
	defer pt.Unlock()

	table := pt.table(pid)
	vAddr = pt.alignToPage(vAddr)

	if _, found := table[vAddr]; !found {
		panic(fmt.Sprintf("page 0x%x of process %d does not exist",
			vAddr, pid))
	}

	delete(table, vAddr)
}

// Find returns the page that contains vAddr.
func (pt *pageTableImpl) Find(pid PID, vAddr uint64) (Page, bool) {
	pt.Lock()
	defer pt.Unlock()

	page, found := pt.table(pid)[pt.alignToPage(vAddr)]

	return page, found
}

// Update replaces an existing page, located by its PID and VAddr.
func (pt *pageTableImpl) Update(page Page) {
	pt.Lock()
	defer pt.Unlock()

	table := pt.table(page.PID)
	if _, found := table[page.VAddr]; !found {
		panic(fmt.Sprintf("page 0x%x of process %d does not exist",
			page.VAddr, page.PID))
	}

	table[page.VAddr] = page
}

// NumPages returns the number of pages of a process.
func (pt *pageTableImpl) NumPages(pid PID) int {
	pt.Lock()
	defer pt.Unlock()

	return len(pt.tables[pid])
}
