package tracing

import (
	"github.com/sarchlab/coherence/sim"
)

// CollectTrace lets the tracer observe the tasks of a domain.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	domain.AcceptHook(&traceHook{t: tracer})
}

type traceHook struct {
	t Tracer
}

// Func calls the tracer for task hook positions and ignores the others.
func (h *traceHook) Func(ctx sim.HookCtx) {
	task, ok := ctx.Item.(Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosTaskStart:
		h.t.StartTask(task)
	case HookPosTaskStep:
		h.t.StepTask(task)
	case HookPosTaskEnd:
		h.t.EndTask(task)
	}
}
