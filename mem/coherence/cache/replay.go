package cache

import (
	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
	"github.com/sarchlab/coherence/sim"
)

// allocate finds a slot for the line of ev. If the victim cannot leave now,
// ev waits in the MSHR and a pointer on the victim wakes it up once the
// victim is gone. A replayed ev is already in the MSHR.
func (c *Comp) allocate(
	ev *coherence.MemEvent,
	replay bool,
) (*coherence.CacheLine, bool) {
	addr := ev.BaseAddr
	victim := c.array.FindReplacementCandidate(addr)

	if victim.State == coherence.I {
		c.array.Replace(addr, victim)
		return victim, true
	}

	if c.isBusy(victim) {
		c.waitForVictim(ev, victim, replay)
		return nil, false
	}

	if !replay && c.mshr.IsAlmostFull() {
		c.ctrl.Reject(ev)
		return nil, false
	}

	action, err := c.ctrl.HandleEviction(victim, ev.Requester)
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosEviction,
		Item:   victim,
		Detail: action,
	})
	action = c.report(action, err)

	switch action {
	case coherence.ActionDone:
		c.array.Replace(addr, victim)
		return victim, true
	case coherence.ActionStall:
		c.waitForVictim(ev, victim, replay)
	}

	return nil, false
}

func (c *Comp) waitForVictim(
	ev *coherence.MemEvent,
	victim *coherence.CacheLine,
	replay bool,
) {
	if !replay && !c.stall(ev) {
		return
	}

	c.mshr.InsertPointer(victim.BaseAddr, ev.BaseAddr)
}

// isBusy tells if a line cannot be evicted now. Pointers alone do not make
// a line busy, since they only wait for its eviction.
func (c *Comp) isBusy(line *coherence.CacheLine) bool {
	if line.InTransition() || line.UserLock > 0 {
		return true
	}

	return c.mshr.LookupFront(line.BaseAddr) != nil
}

// retire takes ev off the MSHR if the controller finished with it, and
// replays the waiters of the line when the line may have moved on.
func (c *Comp) retire(addr uint64, ev *coherence.MemEvent, action coherence.Action) {
	if action != coherence.ActionDone && action != coherence.ActionIgnore {
		return
	}

	removed := false
	if ev != nil && c.mshr.LookupFront(addr) == ev {
		c.mshr.RemoveFront(addr)
		removed = true
	}

	if action == coherence.ActionDone || removed {
		c.replay(addr)
	}
}

// replay processes the waiters of addr in order until one of them has to
// wait again.
func (c *Comp) replay(addr uint64) {
	for {
		el, ok := c.mshr.Front(addr)
		if !ok {
			return
		}

		line := c.array.Lookup(addr, false)

		switch el.Kind {
		case mshr.KindWriteback:
			return
		case mshr.KindPointer:
			if line != nil && (line.InTransition() || line.UserLock > 0) {
				return
			}

			c.mshr.RemoveFront(addr)
			c.replay(el.Addr)

			continue
		}

		if line != nil && line.InTransition() {
			return
		}

		ev := el.Event
		action := c.replayEvent(ev)

		if c.mshr.LookupFront(addr) != ev {
			continue
		}

		if action != coherence.ActionDone && action != coherence.ActionIgnore {
			return
		}

		c.mshr.RemoveFront(addr)
	}
}

func (c *Comp) replayEvent(ev *coherence.MemEvent) coherence.Action {
	if ev.Cmd.IsInvalidation() {
		line := c.array.Lookup(ev.BaseAddr, false)
		action, err := c.ctrl.HandleInvalidationRequest(ev, line, true)

		return c.check(ev, action, err)
	}

	return c.processRequest(ev, true)
}
