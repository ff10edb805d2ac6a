package sim

import (
	"container/heap"
)

// EventQueue is a queue of events ordered by the time of events. Events with
// the same time leave the queue in the order they entered it.
type EventQueue interface {
	Push(evt Event)
	Pop() Event
	Len() int
	Peek() Event
}

type queuedEvent struct {
	evt Event
	seq uint64
}

type eventHeap []queuedEvent

func (h eventHeap) Len() int {
	return len(h)
}

func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].evt.Time(), h[j].evt.Time()
	if ti != tj {
		return ti < tj
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedEvent))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queuedEvent{}
	*h = old[0 : n-1]

	return item
}

// EventQueueImpl is a heap-backed EventQueue. It is not safe for concurrent
// use.
type EventQueueImpl struct {
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates and returns a newly created EventQueue.
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.events = make(eventHeap, 0)
	heap.Init(&q.events)

	return q
}

// Push adds an event to the event queue.
func (q *EventQueueImpl) Push(evt Event) {
	heap.Push(&q.events, queuedEvent{evt: evt, seq: q.nextSeq})
	q.nextSeq++
}

// Pop returns the next earliest event.
func (q *EventQueueImpl) Pop() Event {
	return heap.Pop(&q.events).(queuedEvent).evt
}

// Len returns the number of events in the queue.
func (q *EventQueueImpl) Len() int {
	return q.events.Len()
}

// Peek returns the event in front of the queue without removing it.
func (q *EventQueueImpl) Peek() Event {
	return q.events[0].evt
}
