// Package vm maps the virtual addresses of cores to physical addresses.
package vm

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Errors returned by the memory manager.
var (
	ErrOutOfMemory    = errors.New("out of physical memory")
	ErrNotMapped      = errors.New("address is not mapped")
	ErrUnmatchedFree  = errors.New("free of an address that is not allocated")
	ErrInvalidRequest = errors.New("invalid allocation")
)

// A Translator turns a virtual address into a physical address.
type Translator interface {
	Translate(vAddr uint64) (uint64, error)
}

// IdentityTranslator maps every virtual address to itself.
type IdentityTranslator struct{}

// Translate returns vAddr.
func (IdentityTranslator) Translate(vAddr uint64) (uint64, error) {
	return vAddr, nil
}

// An Allocation is a range of virtual memory allocated by a process.
type Allocation struct {
	VAddr uint64
	Size  uint64
	Level int
}

// MemoryManager hands out physical frames to the pages of processes.
type MemoryManager struct {
	lock sync.Mutex

	log2PageSize uint64
	pageTable    PageTable
	numFrames    uint64
	nextFrame    uint64
	freeFrames   []uint64

	allocations map[PID]map[uint64]Allocation
	pageRefs    map[PID]map[uint64]int

	autoMap     bool
	fatalOnFree bool
	logger      *log.Logger
}

// NewMemoryManager creates a manager of a physical memory of numFrames
// pages of 2^log2PageSize bytes. With autoMap, translating an address that
// was never allocated maps a new page instead of failing.
func NewMemoryManager(
	log2PageSize uint64,
	numFrames uint64,
	autoMap bool,
) *MemoryManager {
	return &MemoryManager{
		log2PageSize: log2PageSize,
		pageTable:    NewPageTable(log2PageSize),
		numFrames:    numFrames,
		allocations:  make(map[PID]map[uint64]Allocation),
		pageRefs:     make(map[PID]map[uint64]int),
		autoMap:      autoMap,
		logger:       log.Default(),
	}
}

// SetLogger sets the logger that reports unmatched frees.
func (m *MemoryManager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// SetFatalOnUnmatchedFree makes Free return ErrUnmatchedFree for addresses
// that are not allocated. Otherwise, such frees are only logged.
func (m *MemoryManager) SetFatalOnUnmatchedFree(v bool) {
	m.fatalOnFree = v
}

// PageSize returns the page size in bytes.
func (m *MemoryManager) PageSize() uint64 {
	return 1 << m.log2PageSize
}

// NumFreeFrames returns the number of physical frames not in use.
func (m *MemoryManager) NumFreeFrames() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.numFrames - m.nextFrame + uint64(len(m.freeFrames))
}

// Process returns the address space of a process.
func (m *MemoryManager) Process(pid PID) *AddressSpace {
	return &AddressSpace{manager: m, pid: pid}
}

// Allocate maps every page of [vAddr, vAddr+size) for the process. Pages
// already mapped by an earlier allocation are shared.
func (m *MemoryManager) Allocate(pid PID, vAddr, size uint64, level int) error {
	if size == 0 {
		return fmt.Errorf("%w: zero bytes at 0x%x", ErrInvalidRequest, vAddr)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	allocs := m.processAllocations(pid)
	if _, found := allocs[vAddr]; found {
		return fmt.Errorf("%w: 0x%x is already allocated",
			ErrInvalidRequest, vAddr)
	}

	pages := m.pagesOf(vAddr, size)
	if err := m.reserveFrames(pid, pages); err != nil {
		return err
	}

	refs := m.processRefs(pid)
	for _, page := range pages {
		if refs[page] == 0 {
			m.mapPage(pid, page)
		}

		refs[page]++
	}

	allocs[vAddr] = Allocation{VAddr: vAddr, Size: size, Level: level}

	return nil
}

// Free releases the allocation that starts at vAddr. Pages that no other
// allocation uses are unmapped.
func (m *MemoryManager) Free(pid PID, vAddr uint64) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	allocs := m.processAllocations(pid)

	alloc, found := allocs[vAddr]
	if !found {
		err := fmt.Errorf("%w: process %d, 0x%x", ErrUnmatchedFree, pid, vAddr)
		if m.fatalOnFree {
			return err
		}

		m.logger.Printf("ignored %v", err)

		return nil
	}

	delete(allocs, vAddr)

	refs := m.processRefs(pid)
	for _, page := range m.pagesOf(alloc.VAddr, alloc.Size) {
		refs[page]--
		if refs[page] > 0 {
			continue
		}

		delete(refs, page)
		m.unmapPage(pid, page)
	}

	return nil
}

// Translate returns the physical address of vAddr in the process.
func (m *MemoryManager) Translate(pid PID, vAddr uint64) (uint64, error) {
	offset := vAddr & (m.PageSize() - 1)

	page, found := m.pageTable.Find(pid, vAddr)
	if found {
		return page.PAddr + offset, nil
	}

	if !m.autoMap {
		return 0, fmt.Errorf("%w: process %d, 0x%x", ErrNotMapped, pid, vAddr)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	base := vAddr - offset
	if err := m.reserveFrames(pid, []uint64{base}); err != nil {
		return 0, err
	}

	page = m.mapPage(pid, base)

	return page.PAddr + offset, nil
}

// Allocations returns the live allocations of a process.
func (m *MemoryManager) Allocations(pid PID) []Allocation {
	m.lock.Lock()
	defer m.lock.Unlock()

	allocs := make([]Allocation, 0, len(m.allocations[pid]))
	for _, a := range m.allocations[pid] {
		allocs = append(allocs, a)
	}

	return allocs
}

func (m *MemoryManager) processAllocations(pid PID) map[uint64]Allocation {
	allocs, found := m.allocations[pid]
	if !found {
		allocs = make(map[uint64]Allocation)
		m.allocations[pid] = allocs
	}

	return allocs
}

func (m *MemoryManager) processRefs(pid PID) map[uint64]int {
	refs, found := m.pageRefs[pid]
	if !found {
		refs = make(map[uint64]int)
		m.pageRefs[pid] = refs
	}

	return refs
}

func (m *MemoryManager) pagesOf(vAddr, size uint64) []uint64 {
	pageSize := m.PageSize()
	first := vAddr &^ (pageSize - 1)
	last := (vAddr + size - 1) &^ (pageSize - 1)

	pages := make([]uint64, 0, (last-first)/pageSize+1)
	for p := first; p <= last; p += pageSize {
		pages = append(pages, p)
	}

	return pages
}

// reserveFrames checks that the pages not yet mapped fit in memory.
func (m *MemoryManager) reserveFrames(pid PID, pages []uint64) error {
	var needed uint64

	for _, p := range pages {
		if _, found := m.pageTable.Find(pid, p); !found {
			needed++
		}
	}

	available := m.numFrames - m.nextFrame + uint64(len(m.freeFrames))
	if needed > available {
		return fmt.Errorf("%w: process %d needs %d frames, %d left",
			ErrOutOfMemory, pid, needed, available)
	}

	return nil
}

func (m *MemoryManager) mapPage(pid PID, vAddr uint64) Page {
	if page, found := m.pageTable.Find(pid, vAddr); found {
		return page
	}

	var frame uint64

	if n := len(m.freeFrames); n > 0 {
		frame = m.freeFrames[n-1]
		m.freeFrames = m.freeFrames[:n-1]
	} else {
		frame = m.nextFrame
		m.nextFrame++
	}

	page := Page{
		PID:      pid,
		VAddr:    vAddr,
		PAddr:    frame << m.log2PageSize,
		PageSize: m.PageSize(),
		Valid:    true,
	}
	m.pageTable.Insert(page)

	return page
}

func (m *MemoryManager) unmapPage(pid PID, vAddr uint64) {
	page, found := m.pageTable.Find(pid, vAddr)
	if !found {
		return
	}

	m.pageTable.Remove(pid, vAddr)
	m.freeFrames = append(m.freeFrames, page.PAddr>>m.log2PageSize)
}

// An AddressSpace is the view of the memory manager from one process.
type AddressSpace struct {
	manager *MemoryManager
	pid     PID
}

// PID returns the process of the address space.
func (s *AddressSpace) PID() PID {
	return s.pid
}

// Translate returns the physical address of vAddr.
func (s *AddressSpace) Translate(vAddr uint64) (uint64, error) {
	return s.manager.Translate(s.pid, vAddr)
}

// Allocate maps [vAddr, vAddr+size).
func (s *AddressSpace) Allocate(vAddr, size uint64, level int) error {
	return s.manager.Allocate(s.pid, vAddr, size, level)
}

// Free releases the allocation at vAddr.
func (s *AddressSpace) Free(vAddr uint64) error {
	return s.manager.Free(s.pid, vAddr)
}
