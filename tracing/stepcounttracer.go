package tracing

import (
	"sync"
)

// StepCountTracer counts how often each step happens to the selected tasks,
// and how many tasks pass each step at least once.
type StepCountTracer struct {
	filter            TaskFilter
	lock              sync.Mutex
	inflightTasks     map[string]*Task
	stepNames         []string
	stepCount         map[string]uint64
	taskWithStepCount map[string]uint64
}

// NewStepCountTracer creates a new StepCountTracer. A nil filter accepts
// every task.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:            filter,
		inflightTasks:     make(map[string]*Task),
		stepCount:         make(map[string]uint64),
		taskWithStepCount: make(map[string]uint64),
	}
}

// StepNames returns the step names in the order they were first seen.
func (t *StepCountTracer) StepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.stepNames...)
}

// StepCount returns how many times the step happened.
func (t *StepCountTracer) StepCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stepCount[stepName]
}

// TaskCount returns how many tasks passed the step.
func (t *StepCountTracer) TaskCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskWithStepCount[stepName]
}

// StartTask starts following the task.
func (t *StepCountTracer) StartTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = &task
	t.lock.Unlock()
}

// StepTask counts the step of a followed task.
func (t *StepCountTracer) StepTask(task Task) {
	if len(task.Steps) == 0 {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	step := task.Steps[0]

	if _, seen := t.stepCount[step.What]; !seen {
		t.stepNames = append(t.stepNames, step.What)
	}

	t.stepCount[step.What]++

	if !taskContainsStep(originalTask, step) {
		t.taskWithStepCount[step.What]++
	}

	originalTask.Steps = append(originalTask.Steps, step)
}

func taskContainsStep(task *Task, step TaskStep) bool {
	for _, s := range task.Steps {
		if s.What == step.What {
			return true
		}
	}

	return false
}

// EndTask stops following the task.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()
}
