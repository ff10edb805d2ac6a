package tracing

import (
	"github.com/sarchlab/coherence/sim"
)

// BusyTimeTracer measures how long a domain has at least one selected task
// in flight. Overlapping tasks count once. Tasks must start and end in time
// order, as they do when driven by an engine.
type BusyTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	inflight  map[string]bool
	busySince sim.VTimeInSec
	busyTime  sim.VTimeInSec
}

// NewBusyTimeTracer creates a new BusyTimeTracer. A nil filter accepts every
// task.
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	return &BusyTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]bool),
	}
}

// BusyTime returns the length of the busy periods that have ended.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInSec {
	return t.busyTime
}

// NumInflight returns the number of selected tasks that have not ended.
func (t *BusyTimeTracer) NumInflight() int {
	return len(t.inflight)
}

// TerminateAllTasks ends every task in flight at now.
func (t *BusyTimeTracer) TerminateAllTasks(now sim.VTimeInSec) {
	if len(t.inflight) == 0 {
		return
	}

	t.busyTime += now - t.busySince
	t.inflight = make(map[string]bool)
}

// StartTask opens a busy period if the domain was idle.
func (t *BusyTimeTracer) StartTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	if len(t.inflight) == 0 {
		t.busySince = t.timeTeller.CurrentTime()
	}

	t.inflight[task.ID] = true
}

// StepTask does nothing.
func (t *BusyTimeTracer) StepTask(_ Task) {}

// EndTask closes the busy period when the last task in flight ends.
func (t *BusyTimeTracer) EndTask(task Task) {
	if !t.inflight[task.ID] {
		return
	}

	delete(t.inflight, task.ID)

	if len(t.inflight) == 0 {
		t.busyTime += t.timeTeller.CurrentTime() - t.busySince
	}
}
