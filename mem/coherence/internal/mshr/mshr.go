// Package mshr provides the miss status holding register table that
// serializes the transactions of a coherent cache per line address.
package mshr

import (
	"fmt"
	"log"
	"sort"

	"github.com/sarchlab/coherence/mem/coherence"
)

// ElementKind tells what an MSHR element holds.
type ElementKind int

// Element kinds.
const (
	KindEvent ElementKind = iota
	KindPointer
	KindWriteback
)

func (k ElementKind) String() string {
	switch k {
	case KindEvent:
		return "Event"
	case KindPointer:
		return "Pointer"
	case KindWriteback:
		return "Writeback"
	}

	return "Unknown"
}

// Element is one waiter in an address queue. An Event element holds a
// blocked event. A Pointer element names another address whose request
// waits for this address to be evicted. A Writeback element marks an
// eviction of this address whose acknowledgement is outstanding.
type Element struct {
	Kind  ElementKind
	Event *coherence.MemEvent
	Addr  uint64
}

// EventElement wraps an event.
func EventElement(ev *coherence.MemEvent) Element {
	return Element{Kind: KindEvent, Event: ev, Addr: ev.BaseAddr}
}

// PointerElement records that the request for addr waits on this address.
func PointerElement(addr uint64) Element {
	return Element{Kind: KindPointer, Addr: addr}
}

// WritebackElement marks an outstanding writeback of addr.
func WritebackElement(addr uint64) Element {
	return Element{Kind: KindWriteback, Addr: addr}
}

type entry struct {
	queue       []Element
	acksNeeded  int
	tempData    []byte
	hasTempData bool
}

func (e *entry) isEmpty() bool {
	return len(e.queue) == 0 && e.acksNeeded == 0 && !e.hasTempData
}

// MSHR keeps per-address queues. Only event elements count toward the
// capacity. The last Reserve slots are kept for invalidations so that they
// never wait for requests to drain.
type MSHR struct {
	entries  map[uint64]*entry
	capacity int
	reserve  int
	size     int
}

// New creates an MSHR. The reserve must leave room for at least one request.
func New(capacity, reserve int) *MSHR {
	if capacity <= 0 {
		log.Panicf("mshr capacity must be positive, got %d", capacity)
	}

	if reserve < 0 || reserve >= capacity {
		log.Panicf("mshr reserve %d does not fit capacity %d", reserve, capacity)
	}

	return &MSHR{
		entries:  make(map[uint64]*entry),
		capacity: capacity,
		reserve:  reserve,
	}
}

// Capacity returns the number of event slots.
func (m *MSHR) Capacity() int {
	return m.capacity
}

// Size returns the number of events held.
func (m *MSHR) Size() int {
	return m.size
}

// IsFull returns true if no event slot is left.
func (m *MSHR) IsFull() bool {
	return m.size >= m.capacity
}

// IsAlmostFull returns true if only the reserved slots are left. New
// requests are rejected from this point.
func (m *MSHR) IsAlmostFull() bool {
	return m.size >= m.capacity-m.reserve
}

// Exists returns true if anything is recorded for addr.
func (m *MSHR) Exists(addr uint64) bool {
	_, found := m.entries[addr]
	return found
}

func (m *MSHR) getOrCreate(addr uint64) *entry {
	e, found := m.entries[addr]
	if !found {
		e = &entry{}
		m.entries[addr] = e
	}

	return e
}

func (m *MSHR) cleanUp(addr uint64) {
	e, found := m.entries[addr]
	if found && e.isEmpty() {
		delete(m.entries, addr)
	}
}

// Insert appends an event to the queue of its address. It returns the
// position of the event, or an error if the table is full.
func (m *MSHR) Insert(addr uint64, ev *coherence.MemEvent) (int, error) {
	if m.IsFull() {
		return -1, fmt.Errorf("mshr full, cannot insert %s for 0x%x",
			ev.Cmd, addr)
	}

	e := m.getOrCreate(addr)
	e.queue = append(e.queue, EventElement(ev))
	m.size++

	return len(e.queue) - 1, nil
}

// InsertInv places an invalidation at the head of the queue, or right
// behind the head if the head is in progress. It may use the reserved
// slots and goes over capacity rather than fail.
func (m *MSHR) InsertInv(
	addr uint64,
	ev *coherence.MemEvent,
	inProgress bool,
) int {
	e := m.getOrCreate(addr)

	pos := 0
	if inProgress && len(e.queue) > 0 {
		pos = 1
	}

	e.queue = append(e.queue, Element{})
	copy(e.queue[pos+1:], e.queue[pos:])
	e.queue[pos] = EventElement(ev)
	m.size++

	return pos
}

// InsertPointer records that the request for pointedAddr waits for addr to
// be evicted.
func (m *MSHR) InsertPointer(addr, pointedAddr uint64) {
	e := m.getOrCreate(addr)
	e.queue = append(e.queue, PointerElement(pointedAddr))
}

// InsertWriteback marks an outstanding writeback of addr. The marker goes
// behind the pointers at the head of the queue, so that the requests that
// waited for the eviction can proceed.
func (m *MSHR) InsertWriteback(addr uint64) {
	e := m.getOrCreate(addr)

	pos := 0
	for pos < len(e.queue) && e.queue[pos].Kind == KindPointer {
		pos++
	}

	e.queue = append(e.queue, Element{})
	copy(e.queue[pos+1:], e.queue[pos:])
	e.queue[pos] = WritebackElement(addr)
}

// PendingWriteback returns true if a writeback of addr is not acknowledged.
func (m *MSHR) PendingWriteback(addr uint64) bool {
	e, found := m.entries[addr]
	if !found {
		return false
	}

	for _, el := range e.queue {
		if el.Kind == KindWriteback {
			return true
		}
	}

	return false
}

// RemoveWriteback drops the oldest writeback marker of addr. It returns
// false if there is none.
func (m *MSHR) RemoveWriteback(addr uint64) bool {
	e, found := m.entries[addr]
	if !found {
		return false
	}

	for i, el := range e.queue {
		if el.Kind == KindWriteback {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			m.cleanUp(addr)

			return true
		}
	}

	return false
}

// Front returns the head element of addr.
func (m *MSHR) Front(addr uint64) (Element, bool) {
	e, found := m.entries[addr]
	if !found || len(e.queue) == 0 {
		return Element{}, false
	}

	return e.queue[0], true
}

// LookupFront returns the event at the head of addr, or nil if the head is
// not an event.
func (m *MSHR) LookupFront(addr uint64) *coherence.MemEvent {
	el, ok := m.Front(addr)
	if !ok || el.Kind != KindEvent {
		return nil
	}

	return el.Event
}

// RemoveFront drops the head element of addr.
func (m *MSHR) RemoveFront(addr uint64) {
	e, found := m.entries[addr]
	if !found || len(e.queue) == 0 {
		log.Panicf("removing front of empty mshr queue 0x%x", addr)
	}

	if e.queue[0].Kind == KindEvent {
		m.size--
	}

	e.queue[0] = Element{}
	e.queue = e.queue[1:]
	m.cleanUp(addr)
}

// RemoveElement drops the event from the queue of addr. It returns false if
// the event is not there.
func (m *MSHR) RemoveElement(addr uint64, ev *coherence.MemEvent) bool {
	e, found := m.entries[addr]
	if !found {
		return false
	}

	for i, el := range e.queue {
		if el.Kind == KindEvent && el.Event == ev {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			m.size--
			m.cleanUp(addr)

			return true
		}
	}

	return false
}

// RemoveAll drops and returns the whole queue of addr. Acks and temp data
// are dropped too.
func (m *MSHR) RemoveAll(addr uint64) []Element {
	e, found := m.entries[addr]
	if !found {
		return nil
	}

	for _, el := range e.queue {
		if el.Kind == KindEvent {
			m.size--
		}
	}

	delete(m.entries, addr)

	return e.queue
}

// Elements returns a copy of the queue of addr.
func (m *MSHR) Elements(addr uint64) []Element {
	e, found := m.entries[addr]
	if !found {
		return nil
	}

	return append([]Element(nil), e.queue...)
}

// Addresses returns the addresses with an entry, in increasing order.
func (m *MSHR) Addresses() []uint64 {
	addrs := make([]uint64, 0, len(m.entries))
	for addr := range m.entries {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return addrs
}

// AcksNeeded returns the acknowledgements that addr still waits for.
func (m *MSHR) AcksNeeded(addr uint64) int {
	e, found := m.entries[addr]
	if !found {
		return 0
	}

	return e.acksNeeded
}

// SetAcksNeeded overwrites the acknowledgement count of addr.
func (m *MSHR) SetAcksNeeded(addr uint64, n int) {
	if n < 0 {
		log.Panicf("negative acks %d for 0x%x", n, addr)
	}

	m.getOrCreate(addr).acksNeeded = n
	m.cleanUp(addr)
}

// IncrementAcksNeeded adds one expected acknowledgement.
func (m *MSHR) IncrementAcksNeeded(addr uint64) {
	m.getOrCreate(addr).acksNeeded++
}

// DecrementAcksNeeded consumes one acknowledgement. It returns true when
// the count reaches zero.
func (m *MSHR) DecrementAcksNeeded(addr uint64) bool {
	e, found := m.entries[addr]
	if !found || e.acksNeeded == 0 {
		log.Panicf("unexpected ack for 0x%x", addr)
	}

	e.acksNeeded--
	done := e.acksNeeded == 0
	m.cleanUp(addr)

	return done
}

// SetTempData stages a payload for addr.
func (m *MSHR) SetTempData(addr uint64, data []byte) {
	e := m.getOrCreate(addr)
	e.tempData = append(e.tempData[:0], data...)
	e.hasTempData = true
}

// TempData returns the payload staged for addr.
func (m *MSHR) TempData(addr uint64) ([]byte, bool) {
	e, found := m.entries[addr]
	if !found || !e.hasTempData {
		return nil, false
	}

	return e.tempData, true
}

// ClearTempData drops the payload staged for addr.
func (m *MSHR) ClearTempData(addr uint64) {
	e, found := m.entries[addr]
	if !found {
		return
	}

	e.tempData = nil
	e.hasTempData = false
	m.cleanUp(addr)
}
