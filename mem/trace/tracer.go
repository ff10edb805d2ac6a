// Package trace records what happens in the memory system: counters,
// accesses, and coherence transactions.
package trace

import (
	"log"

	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/tracing"
)

// Table names used by the database tracer.
const (
	TransactionTable = "coherence_transactions"
	StepTable        = "coherence_steps"
)

type transactionEntry struct {
	ID        string
	ParentID  string
	Kind      string
	Location  string
	What      string
	StartTime float64
	EndTime   float64
	Address   uint64
	Requester string
}

type stepEntry struct {
	TaskID string
	Time   float64
	What   string
}

// A logTracer prints the transactions of a domain.
type logTracer struct {
	timeTeller sim.TimeTeller
	logger     *log.Logger
}

// NewTracer creates a tracer that prints one line per task event.
func NewTracer(logger *log.Logger, timeTeller sim.TimeTeller) tracing.Tracer {
	return &logTracer{
		timeTeller: timeTeller,
		logger:     logger,
	}
}

func (t *logTracer) StartTask(task tracing.Task) {
	ev, ok := task.Detail.(*coherence.MemEvent)
	if !ok {
		return
	}

	t.logger.Printf("start, %.12f, %s, %s, %s, 0x%x, %s\n",
		t.timeTeller.CurrentTime(), task.Where, task.ID, task.What,
		ev.BaseAddr, ev.Requester)
}

func (t *logTracer) StepTask(task tracing.Task) {
	if len(task.Steps) == 0 {
		return
	}

	t.logger.Printf("step, %.12f, %s, %s\n",
		t.timeTeller.CurrentTime(), task.ID, task.Steps[0].What)
}

func (t *logTracer) EndTask(task tracing.Task) {
	t.logger.Printf("end, %.12f, %s\n", t.timeTeller.CurrentTime(), task.ID)
}

// A dbTracer writes the transactions of a domain into a data recorder.
type dbTracer struct {
	timeTeller sim.TimeTeller
	recorder   datarecording.DataRecorder
	pending    map[string]*transactionEntry
}

// NewDBTracer creates a tracer that stores transactions and their steps.
// Several domains can share one tracer.
func NewDBTracer(
	recorder datarecording.DataRecorder,
	timeTeller sim.TimeTeller,
) tracing.Tracer {
	t := &dbTracer{
		timeTeller: timeTeller,
		recorder:   recorder,
		pending:    make(map[string]*transactionEntry),
	}

	t.recorder.CreateTable(TransactionTable, transactionEntry{})
	t.recorder.CreateTable(StepTable, stepEntry{})

	return t
}

func (t *dbTracer) StartTask(task tracing.Task) {
	entry := &transactionEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		Location:  task.Where,
		What:      task.What,
		StartTime: float64(t.timeTeller.CurrentTime()),
	}

	if ev, ok := task.Detail.(*coherence.MemEvent); ok {
		entry.Address = ev.BaseAddr
		entry.Requester = ev.Requester
	}

	t.pending[task.ID] = entry
}

func (t *dbTracer) StepTask(task tracing.Task) {
	if len(task.Steps) == 0 {
		return
	}

	t.recorder.InsertData(StepTable, stepEntry{
		TaskID: task.ID,
		Time:   float64(t.timeTeller.CurrentTime()),
		What:   task.Steps[0].What,
	})
}

func (t *dbTracer) EndTask(task tracing.Task) {
	entry, exists := t.pending[task.ID]
	if !exists {
		return
	}

	delete(t.pending, task.ID)

	entry.EndTime = float64(t.timeTeller.CurrentTime())
	t.recorder.InsertData(TransactionTable, *entry)
}
