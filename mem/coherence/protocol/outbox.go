package protocol

import (
	"container/heap"

	"github.com/sarchlab/coherence/mem/coherence"
)

type outgoing struct {
	at  uint64
	seq uint64
	ev  *coherence.MemEvent
}

type outgoingHeap []outgoing

func (h outgoingHeap) Len() int { return len(h) }

func (h outgoingHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}

	return h[i].seq < h[j].seq
}

func (h outgoingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *outgoingHeap) Push(x interface{}) { *h = append(*h, x.(outgoing)) }

func (h *outgoingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// outbox orders outgoing messages by delivery cycle. Messages due in the
// same cycle leave in the order they were queued.
type outbox struct {
	items   outgoingHeap
	nextSeq uint64
}

func (o *outbox) push(at uint64, ev *coherence.MemEvent) {
	heap.Push(&o.items, outgoing{at: at, seq: o.nextSeq, ev: ev})
	o.nextSeq++
}

func (o *outbox) len() int {
	return o.items.Len()
}

func (o *outbox) drain(
	cycle uint64,
	send func(ev *coherence.MemEvent) error,
) error {
	for o.items.Len() > 0 && o.items[0].at <= cycle {
		if err := send(o.items[0].ev); err != nil {
			return err
		}

		heap.Pop(&o.items)
	}

	return nil
}
