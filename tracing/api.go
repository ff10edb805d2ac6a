package tracing

import (
	"fmt"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
)

// NamedHookable is a named object that hooks can observe.
type NamedHookable interface {
	sim.Named
	sim.Hookable
	InvokeHook(sim.HookCtx)
}

// Hook positions of task events.
var (
	HookPosTaskStart = &sim.HookPos{Name: "HookPosTaskStart"}
	HookPosTaskStep  = &sim.HookPos{Name: "HookPosTaskStep"}
	HookPosTaskEnd   = &sim.HookPos{Name: "HookPosTaskEnd"}
)

// StartTask notifies the hooks of the domain that a task starts.
func StartTask(
	id string,
	parentID string,
	domain NamedHookable,
	kind string,
	what string,
	detail interface{},
) {
	allRequiredFieldsMustBeNotEmpty(id, domain, kind, what)

	if domain.NumHooks() == 0 {
		return
	}

	domainMustHaveName(domain)

	task := Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    domain.Name(),
		Detail:   detail,
	}

	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Item:   task,
		Pos:    HookPosTaskStart,
	})
}

func allRequiredFieldsMustBeNotEmpty(
	id string,
	domain NamedHookable,
	kind string,
	what string,
) {
	if id == "" {
		panic("id must not be empty")
	}

	if domain == nil {
		panic("domain must not be nil")
	}

	if kind == "" {
		panic("kind must not be empty")
	}

	if what == "" {
		panic("what must not be empty")
	}
}

func domainMustHaveName(domain NamedHookable) {
	if domain.Name() == "" {
		panic("domain must have a name")
	}
}

// AddTaskStep marks that a task reached a step, such as waiting in the
// MSHR.
func AddTaskStep(
	id string,
	domain NamedHookable,
	what string,
) {
	if domain.NumHooks() == 0 {
		return
	}

	task := Task{
		ID:    id,
		Steps: []TaskStep{{What: what}},
	}

	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Item:   task,
		Pos:    HookPosTaskStep,
	})
}

// EndTask notifies the hooks of the domain that a task ends.
func EndTask(
	id string,
	domain NamedHookable,
) {
	if domain.NumHooks() == 0 {
		return
	}

	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Item:   Task{ID: id},
		Pos:    HookPosTaskEnd,
	})
}

// MsgIDAtReceiver returns the ID of the task that handles ev at the domain.
func MsgIDAtReceiver(ev *coherence.MemEvent, domain NamedHookable) string {
	return fmt.Sprintf("%s@%s", ev.ID, domain.Name())
}

// TraceReqInitiate starts the task of a request that the domain sends. The
// task has kind "req_out" and the command as what.
func TraceReqInitiate(
	ev *coherence.MemEvent,
	domain NamedHookable,
	parentTaskID string,
) string {
	taskID := ev.ID + "_req_out"
	StartTask(taskID, parentTaskID, domain, "req_out", ev.Cmd.String(), ev)

	return taskID
}

// TraceReqReceive starts the task of handling ev at the domain. The task
// has kind "req_in".
func TraceReqReceive(
	ev *coherence.MemEvent,
	domain NamedHookable,
) {
	StartTask(
		MsgIDAtReceiver(ev, domain),
		ev.ID+"_req_out",
		domain,
		"req_in",
		ev.Cmd.String(),
		ev,
	)
}

// TraceReqComplete ends the task of handling ev at the domain.
func TraceReqComplete(
	ev *coherence.MemEvent,
	domain NamedHookable,
) {
	EndTask(MsgIDAtReceiver(ev, domain), domain)
}

// TraceReqFinalize ends the task of a request sent by the domain, when its
// answer comes back.
func TraceReqFinalize(
	reqID string,
	domain NamedHookable,
) string {
	taskID := reqID + "_req_out"
	EndTask(taskID, domain)

	return taskID
}
