package cache

import (
	"fmt"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
)

func (c *Comp) handle(ev *coherence.MemEvent) {
	c.traceReceive(ev)

	switch {
	case ev.Cmd == coherence.NACK:
		c.handleNACK(ev)
	case c.isNoncacheable(ev):
		c.handleNoncacheable(ev)
	case ev.Cmd.IsRequest():
		c.handleRequest(ev)
	case ev.Cmd.IsReplacement():
		c.handleReplacement(ev)
	case ev.Cmd.IsInvalidation():
		c.handleInvalidation(ev)
	case ev.Cmd.IsResponse():
		c.handleResponse(ev)
	default:
		c.fail(fmt.Errorf("%s: cannot handle %s for 0x%x from %s",
			c.Name(), ev.Cmd, ev.BaseAddr, ev.Src))
	}
}

func (c *Comp) handleRequest(ev *coherence.MemEvent) {
	addr := ev.BaseAddr
	line := c.array.Lookup(addr, false)

	if c.mustWait(addr, line) {
		c.stall(ev)
		return
	}

	action := c.processRequest(ev, false)
	c.retire(addr, ev, action)
}

// mustWait tells if a new request has to queue behind the events of its
// line. The lock holder keeps access to a stable locked line.
func (c *Comp) mustWait(addr uint64, line *coherence.CacheLine) bool {
	if line != nil && line.InTransition() {
		return true
	}

	if !c.mshr.Exists(addr) {
		return false
	}

	if line != nil && line.IsStable() && line.UserLock > 0 {
		return false
	}

	return true
}

// stall queues a request behind the transaction on its line.
func (c *Comp) stall(ev *coherence.MemEvent) bool {
	if c.mshr.IsAlmostFull() {
		c.ctrl.Reject(ev)
		c.traceStep(ev, "nack")

		return false
	}

	if _, err := c.mshr.Insert(ev.BaseAddr, ev); err != nil {
		c.ctrl.Reject(ev)
		c.traceStep(ev, "nack")

		return false
	}

	c.stats.Add(coherence.StatMSHRStall, 1)
	c.traceStep(ev, "mshr-stall")

	return true
}

// processRequest runs a request through the controller, making room for
// the line first if needed.
func (c *Comp) processRequest(
	ev *coherence.MemEvent,
	replay bool,
) coherence.Action {
	line := c.array.Lookup(ev.BaseAddr, true)
	if line == nil {
		var ok bool

		line, ok = c.allocate(ev, replay)
		if !ok {
			return coherence.ActionStall
		}
	}

	action, err := c.ctrl.HandleRequest(ev, line, replay)

	return c.check(ev, action, err)
}

func (c *Comp) handleReplacement(ev *coherence.MemEvent) {
	addr := ev.BaseAddr
	line := c.array.Lookup(addr, false)
	reqEvent := c.activeEvent(addr, line)

	action, err := c.ctrl.HandleReplacement(ev, line, reqEvent)
	action = c.check(ev, action, err)

	if action == coherence.ActionDone {
		c.retire(addr, reqEvent, action)
	}
}

func (c *Comp) handleInvalidation(ev *coherence.MemEvent) {
	line := c.array.Lookup(ev.BaseAddr, false)

	action, err := c.ctrl.HandleInvalidationRequest(ev, line, false)
	action = c.check(ev, action, err)

	c.retire(ev.BaseAddr, ev, action)
}

func (c *Comp) handleResponse(ev *coherence.MemEvent) {
	c.traceFinalize(ev)

	addr := ev.BaseAddr
	line := c.array.Lookup(addr, false)
	reqEvent := c.activeEvent(addr, line)

	action, err := c.ctrl.HandleResponse(ev, line, reqEvent)
	action = c.check(ev, action, err)

	if action == coherence.ActionDone {
		c.retire(addr, reqEvent, action)
	}
}

// activeEvent returns the event that the transaction on the line serves.
func (c *Comp) activeEvent(
	addr uint64,
	line *coherence.CacheLine,
) *coherence.MemEvent {
	if line == nil || !line.InTransition() {
		return nil
	}

	return c.mshr.LookupFront(addr)
}

func (c *Comp) handleNACK(nack *coherence.MemEvent) {
	c.stats.Add(coherence.StatNACKReceived, 1)

	orig := nack.NACKed
	if orig == nil {
		c.fail(fmt.Errorf("%s: NACK %s carries no request", c.Name(), nack.ID))
		return
	}

	line := c.array.Lookup(orig.BaseAddr, false)
	if c.ctrl.IsRetryNeeded(orig, line) {
		c.ctrl.Resend(orig)
	}
}

// check announces that ev went through the controller and reports errors.
func (c *Comp) check(
	ev *coherence.MemEvent,
	action coherence.Action,
	err error,
) coherence.Action {
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosEventHandled,
		Item:   ev,
		Detail: action,
	})

	return c.report(action, err)
}

// report hands err to the fatal handler and turns the action into IGNORE.
func (c *Comp) report(action coherence.Action, err error) coherence.Action {
	if err != nil {
		c.fail(err)
		return coherence.ActionIgnore
	}

	return action
}
